package microprice

import (
	"context"
	"fmt"

	"github.com/lsm/microprice/internal/stream"
)

// DefaultTopic is the output topic when none is configured.
const DefaultTopic = "microprice"

// Predicate selects the quotes a Pricer prices.
type Predicate interface {
	Match(ctx context.Context, vars map[string]any) (bool, error)
}

// Pricer is the stream processor turning quotes into records keyed by
// ticker.
type Pricer struct {
	topic  string
	filter Predicate
}

var _ stream.Processor[Quote, Record] = (*Pricer)(nil)

// Option configures a Pricer.
type Option func(*Pricer)

// WithTopic sets the output topic.
func WithTopic(topic string) Option {
	return func(p *Pricer) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// WithFilter drops quotes for which pred does not match. Dropped quotes
// produce no output and no error.
func WithFilter(pred Predicate) Option {
	return func(p *Pricer) { p.filter = pred }
}

func NewPricer(opts ...Option) *Pricer {
	p := &Pricer{topic: DefaultTopic}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pricer) Handle(ctx context.Context, q Quote) ([]Record, error) {
	if p.filter != nil {
		ok, err := p.filter.Match(ctx, q.Fields())
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", q.Symbol, err)
		}
		if !ok {
			return nil, nil
		}
	}

	rec, err := Price(q)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", q.Symbol, err)
	}
	return []Record{rec}, nil
}

func (p *Pricer) Key(r Record) string {
	return r.Ticker
}

func (p *Pricer) Topic(Record) string {
	return p.topic
}
