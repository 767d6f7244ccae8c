package microprice

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/lsm/microprice/internal/source"
	"github.com/lsm/microprice/internal/stream"
)

// quoteEvent is the value of the "ev" field on quote messages.
const quoteEvent = "Q"

// wireQuote is a top-of-book quote as published by the upstream feed.
// A side is absent when neither its price nor its size is set.
type wireQuote struct {
	Event     string   `json:"ev"`
	Symbol    string   `json:"sym"`
	BidPrice  *float64 `json:"bp"`
	BidSize   *uint32  `json:"bs"`
	AskPrice  *float64 `json:"ap"`
	AskSize   *uint32  `json:"as"`
	Timestamp uint64   `json:"t"`
}

// DecodeQuote parses one wire quote.
func DecodeQuote(data []byte) (Quote, error) {
	var w wireQuote
	if err := json.Unmarshal(data, &w); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	if w.Event != "" && w.Event != quoteEvent {
		return Quote{}, fmt.Errorf("decode quote: unexpected event type %q", w.Event)
	}
	if w.Symbol == "" {
		return Quote{}, errors.New("decode quote: missing symbol")
	}

	bid, err := decodeSide("bid", w.BidPrice, w.BidSize)
	if err != nil {
		return Quote{}, err
	}
	ask, err := decodeSide("ask", w.AskPrice, w.AskSize)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Symbol:    w.Symbol,
		Timestamp: w.Timestamp,
		Bid:       bid,
		Ask:       ask,
	}, nil
}

func decodeSide(name string, price *float64, size *uint32) (OptionalSide, error) {
	switch {
	case price == nil && size == nil:
		return NoSide(), nil
	case price == nil || size == nil:
		return OptionalSide{}, fmt.Errorf("decode quote: incomplete %s side", name)
	default:
		return SomeSide(*price, *size), nil
	}
}

// DecodeEvent decodes the value of an inbound event.
func DecodeEvent(evt source.Event) (Quote, error) {
	return DecodeQuote(evt.Value)
}

// EncoderConfig controls the outbound payload format.
type EncoderConfig struct {
	// CloudEvents wraps each record in a CloudEvents 1.0 structured JSON
	// envelope.
	CloudEvents bool
	EventType   string
	Source      string
	// TimestampUnit is the unit of Record.Timestamp, used for the event
	// time. Defaults to milliseconds.
	TimestampUnit time.Duration
}

// Defaults for the CloudEvents envelope.
const (
	DefaultEventType = "microprice.record"
	DefaultSource    = "microprice"
)

// NewEncoder returns the stream encoder for records.
func NewEncoder(cfg EncoderConfig) stream.EncodeFunc[Record] {
	if !cfg.CloudEvents {
		return func(r Record) ([]byte, error) {
			return json.Marshal(r)
		}
	}

	if cfg.EventType == "" {
		cfg.EventType = DefaultEventType
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.TimestampUnit <= 0 {
		cfg.TimestampUnit = time.Millisecond
	}

	return func(r Record) ([]byte, error) {
		e := event.New()
		e.SetID(uuid.NewString())
		e.SetSource(cfg.Source)
		e.SetType(cfg.EventType)
		e.SetSubject(r.Ticker)
		e.SetTime(time.Unix(0, int64(r.Timestamp)*int64(cfg.TimestampUnit)).UTC())
		if err := e.SetData(event.ApplicationJSON, r); err != nil {
			return nil, fmt.Errorf("set cloudevent data: %w", err)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid cloudevent: %w", err)
		}
		return e.MarshalJSON()
	}
}
