package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicLister is the subset of *kadm.Client used by CheckTopics.
type TopicLister interface {
	ListTopics(ctx context.Context, topics ...string) (kadm.TopicDetails, error)
}

// Pinger is the subset of *kgo.Client used by PingCheck.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckTopics verifies that every topic exists and is readable by the
// client's principal. All problems are reported together.
func CheckTopics(ctx context.Context, admin TopicLister, topics ...string) error {
	topics = slices.Compact(slices.Sorted(slices.Values(topics)))
	if len(topics) == 0 {
		return nil
	}

	details, err := admin.ListTopics(ctx, topics...)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	var errs []error
	for _, topic := range topics {
		d, ok := details[topic]
		switch {
		case !ok || errors.Is(d.Err, kerr.UnknownTopicOrPartition):
			errs = append(errs, fmt.Errorf("topic %q does not exist", topic))
		case d.Err != nil:
			errs = append(errs, fmt.Errorf("topic %q: %w", topic, d.Err))
		case len(d.Partitions) == 0:
			errs = append(errs, fmt.Errorf("topic %q has no partitions", topic))
		}
	}
	return errors.Join(errs...)
}

// PingCheck returns a readiness check that succeeds while a broker is
// reachable.
func PingCheck(p Pinger) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("kafka ping: %w", err)
		}
		return nil
	}
}

// IsAuthError reports whether err is an authentication or authorization
// failure. Retrying these never succeeds.
func IsAuthError(err error) bool {
	for _, target := range []error{
		kerr.SaslAuthenticationFailed,
		kerr.IllegalSaslState,
		kerr.UnsupportedSaslMechanism,
		kerr.TopicAuthorizationFailed,
		kerr.GroupAuthorizationFailed,
		kerr.ClusterAuthorizationFailed,
		kerr.TransactionalIDAuthorizationFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsUnrecoverable reports whether err leaves the client unusable.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, kgo.ErrClientClosed) || IsAuthError(err)
}
