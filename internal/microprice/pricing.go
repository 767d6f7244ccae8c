package microprice

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidQuote is matched by every error Price returns.
var ErrInvalidQuote = errors.New("invalid quote")

var (
	ErrZeroTotalSize  = fmt.Errorf("%w: combined bid and ask size is zero", ErrInvalidQuote)
	ErrNonFinitePrice = fmt.Errorf("%w: price is not finite", ErrInvalidQuote)
)

// MissingSideError reports which sides of a quote are not posted.
type MissingSideError struct {
	Bid bool
	Ask bool
}

func (e *MissingSideError) Error() string {
	return "missing " + strings.Join(e.Sides(), " and ") + " quote"
}

// Sides lists the missing sides, bid first.
func (e *MissingSideError) Sides() []string {
	var sides []string
	if e.Bid {
		sides = append(sides, "bid")
	}
	if e.Ask {
		sides = append(sides, "ask")
	}
	return sides
}

func (e *MissingSideError) Is(target error) bool {
	return target == ErrInvalidQuote
}

// Midprice is the unweighted mean of the bid and ask prices.
func Midprice(bidPrice, askPrice float64) float64 {
	return (bidPrice + askPrice) / 2
}

// Calculate returns the size-weighted microprice. The ask price is weighted
// by the bid size and the bid price by the ask size, so the result leans
// toward the price of the thinner side.
func Calculate(askPrice float64, askSize uint32, bidPrice float64, bidSize uint32) (float64, error) {
	total := float64(bidSize) + float64(askSize)
	if total == 0 {
		return 0, ErrZeroTotalSize
	}
	return askPrice*float64(bidSize)/total + bidPrice*float64(askSize)/total, nil
}

// Price derives the record for q. Both sides must be present.
func Price(q Quote) (Record, error) {
	bid, hasBid := q.Bid.Get()
	ask, hasAsk := q.Ask.Get()
	if !hasBid || !hasAsk {
		return Record{}, &MissingSideError{Bid: !hasBid, Ask: !hasAsk}
	}
	if !finite(bid.Price) || !finite(ask.Price) {
		return Record{}, ErrNonFinitePrice
	}

	micro, err := Calculate(ask.Price, ask.Size, bid.Price, bid.Size)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Ticker:     q.Symbol,
		Timestamp:  q.Timestamp,
		Midprice:   Midprice(bid.Price, ask.Price),
		Microprice: micro,
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
