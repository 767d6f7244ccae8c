// Package microprice derives midprice and size-weighted microprice records
// from top-of-book quotes.
package microprice

// Side is one side of the top of book.
type Side struct {
	Price float64
	Size  uint32
}

// OptionalSide is a Side that may not have been posted yet. The zero value
// is absent.
type OptionalSide struct {
	side Side
	set  bool
}

// SomeSide returns a present side.
func SomeSide(price float64, size uint32) OptionalSide {
	return OptionalSide{side: Side{Price: price, Size: size}, set: true}
}

// NoSide returns an absent side.
func NoSide() OptionalSide {
	return OptionalSide{}
}

// Get returns the side and whether it is present.
func (o OptionalSide) Get() (Side, bool) {
	return o.side, o.set
}

func (o OptionalSide) IsSet() bool {
	return o.set
}

// Quote is a snapshot of the best bid and ask for one instrument.
type Quote struct {
	Symbol    string
	Timestamp uint64
	Bid       OptionalSide
	Ask       OptionalSide
}

// Fields exposes the quote to filter expressions. Absent sides are nil.
func (q Quote) Fields() map[string]any {
	return map[string]any{
		"symbol":    q.Symbol,
		"timestamp": q.Timestamp,
		"bid":       sideFields(q.Bid),
		"ask":       sideFields(q.Ask),
	}
}

func sideFields(o OptionalSide) any {
	s, ok := o.Get()
	if !ok {
		return nil
	}
	return map[string]any{
		"price": s.Price,
		"size":  int64(s.Size),
	}
}

// Record is the derived pricing output for one quote.
type Record struct {
	Ticker     string  `json:"ticker"`
	Timestamp  uint64  `json:"timestamp"`
	Midprice   float64 `json:"midprice"`
	Microprice float64 `json:"microprice"`
}
