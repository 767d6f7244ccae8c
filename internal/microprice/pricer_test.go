package microprice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lsm/microprice/internal/observability"
	"github.com/lsm/microprice/internal/sink"
	"github.com/lsm/microprice/internal/source"
	"github.com/lsm/microprice/internal/stream"
)

type predicateFunc func(vars map[string]any) (bool, error)

func (f predicateFunc) Match(_ context.Context, vars map[string]any) (bool, error) {
	return f(vars)
}

func fullQuote(sym string, ts uint64) Quote {
	return Quote{Symbol: sym, Timestamp: ts, Bid: SomeSide(98, 50), Ask: SomeSide(101, 100)}
}

func TestPricer_Handle(t *testing.T) {
	p := NewPricer()

	out, err := p.Handle(context.Background(), fullQuote("AAPL", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Microprice != 99.0 {
		t.Fatalf("unexpected output %+v", out)
	}
	if p.Topic(out[0]) != DefaultTopic {
		t.Errorf("expected default topic %s, got %s", DefaultTopic, p.Topic(out[0]))
	}
}

func TestPricer_MissingSideIsError(t *testing.T) {
	out, err := NewPricer().Handle(context.Background(), Quote{Symbol: "AAPL", Ask: SomeSide(101, 1)})
	if len(out) != 0 {
		t.Errorf("expected no output, got %+v", out)
	}
	var mse *MissingSideError
	if !errors.As(err, &mse) || !mse.Bid || mse.Ask {
		t.Fatalf("expected missing bid error, got %v", err)
	}
}

func TestPricer_KeyDeterminism(t *testing.T) {
	p := NewPricer()
	a, _ := p.Handle(context.Background(), fullQuote("AAPL", 1))
	b, _ := p.Handle(context.Background(), fullQuote("AAPL", 2))

	if p.Key(a[0]) != p.Key(a[0]) {
		t.Error("expected key to be stable for the same output")
	}
	if p.Key(a[0]) != p.Key(b[0]) {
		t.Errorf("expected same key for same instrument, got %q and %q", p.Key(a[0]), p.Key(b[0]))
	}
	if p.Key(a[0]) != "AAPL" {
		t.Errorf("expected key AAPL, got %q", p.Key(a[0]))
	}
}

func TestPricer_WithTopic(t *testing.T) {
	if got := NewPricer(WithTopic("prices.micro")).Topic(Record{}); got != "prices.micro" {
		t.Errorf("expected prices.micro, got %s", got)
	}
	if got := NewPricer(WithTopic("")).Topic(Record{}); got != DefaultTopic {
		t.Errorf("expected empty topic to keep default, got %s", got)
	}
}

func TestPricer_Filter(t *testing.T) {
	onlyAAPL := predicateFunc(func(vars map[string]any) (bool, error) {
		return vars["symbol"] == "AAPL", nil
	})
	p := NewPricer(WithFilter(onlyAAPL))

	out, err := p.Handle(context.Background(), fullQuote("MSFT", 1))
	if err != nil || out != nil {
		t.Errorf("expected filtered quote to produce nothing, got %v, %v", out, err)
	}

	// Filtered quotes are not validated.
	out, err = p.Handle(context.Background(), Quote{Symbol: "MSFT"})
	if err != nil || out != nil {
		t.Errorf("expected filtered incomplete quote to produce nothing, got %v, %v", out, err)
	}

	out, err = p.Handle(context.Background(), fullQuote("AAPL", 1))
	if err != nil || len(out) != 1 {
		t.Errorf("expected matching quote to be priced, got %v, %v", out, err)
	}
}

func TestPricer_FilterError(t *testing.T) {
	cause := errors.New("no such key: bid")
	p := NewPricer(WithFilter(predicateFunc(func(map[string]any) (bool, error) { return false, cause })))

	if _, err := p.Handle(context.Background(), fullQuote("AAPL", 1)); !errors.Is(err, cause) {
		t.Fatalf("expected filter error, got %v", err)
	}
}

func TestQuote_Fields(t *testing.T) {
	f := Quote{Symbol: "AAPL", Timestamp: 9, Bid: SomeSide(98, 50)}.Fields()
	if f["symbol"] != "AAPL" || f["timestamp"] != uint64(9) {
		t.Errorf("unexpected identity fields %v", f)
	}
	bid, ok := f["bid"].(map[string]any)
	if !ok || bid["price"] != 98.0 || bid["size"] != int64(50) {
		t.Errorf("unexpected bid fields %v", f["bid"])
	}
	if f["ask"] != nil {
		t.Errorf("expected absent ask to be nil, got %v", f["ask"])
	}
}

// --- End to end through the stream runner ---

type sliceSource struct {
	values [][]byte
}

func (s *sliceSource) Start(ctx context.Context, handler source.Handler) error {
	for i, v := range s.values {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := handler(ctx, source.Event{Value: v, Topic: "quotes", Offset: int64(i)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *sliceSource) Close() error { return nil }

type collectSink struct {
	records []sink.Record
}

func (c *collectSink) Deliver(_ context.Context, rec sink.Record) error {
	c.records = append(c.records, rec)
	return nil
}

func (c *collectSink) Close() error { return nil }

func TestPricer_StreamResilience(t *testing.T) {
	const n = 4
	values := [][]byte{[]byte(`{"sym":`)}
	for i := 0; i < n; i++ {
		values = append(values, []byte(fmt.Sprintf(`{"ev":"Q","sym":"T%d","bp":98.0,"bs":50,"ap":101.0,"as":100,"t":%d}`, i, i)))
	}
	values = append(values,
		[]byte(`{"sym":"NOBID","ap":101.0,"as":100,"t":1}`),
		[]byte(`{"sym":"EMPTY","bp":98.0,"bs":0,"ap":101.0,"as":0,"t":1}`),
	)

	sk := &collectSink{}
	m := observability.NewMetrics(prometheus.NewRegistry())
	r := stream.New(stream.Config{Name: "microprice"}, &sliceSource{values: values},
		stream.Processor[Quote, Record](NewPricer()), DecodeEvent, NewEncoder(EncoderConfig{}), sk,
		stream.WithMetrics(m), stream.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sk.records) != n {
		t.Fatalf("expected %d records, got %d", n, len(sk.records))
	}
	for i, rec := range sk.records {
		if rec.Topic != DefaultTopic || rec.Key != fmt.Sprintf("T%d", i) {
			t.Errorf("record %d: unexpected routing %s/%s", i, rec.Topic, rec.Key)
		}
		var out Record
		if err := json.Unmarshal(rec.Value, &out); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if out.Microprice != 99.0 || out.Midprice != 99.5 || out.Timestamp != uint64(i) {
			t.Errorf("record %d: unexpected payload %+v", i, out)
		}
	}

	if got := testutil.ToFloat64(m.Errors.WithLabelValues("microprice", stream.CodeDecodeFailed)); got != 1 {
		t.Errorf("expected 1 decode error, got %v", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("microprice", stream.CodeHandleFailed)); got != 2 {
		t.Errorf("expected 2 handle errors (missing side, zero size), got %v", got)
	}
}
