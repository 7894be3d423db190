// Package audit records elevated access lifecycle events to one or more sinks.
package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront-api/internal/bucketing"
	"storefront-api/internal/models"
	"storefront-api/internal/util"
)

// Recorder accepts lifecycle events. Implementations must not block the
// caller on slow sinks for longer than the caller's context allows.
type Recorder interface {
	Record(ctx context.Context, event models.AccessEvent) error
}

// Sink is one destination for events.
type Sink interface {
	Name() string
	Write(ctx context.Context, event models.AccessEvent) error
}

// EventSearcher returns the most recent events of one account, newest first.
type EventSearcher interface {
	EventsForAccount(ctx context.Context, accountID string, limit int) ([]models.AccessEvent, error)
}

// Fanout writes every event to all sinks concurrently.
type Fanout struct {
	sinks     []Sink
	bucketing *bucketing.BucketingManager
}

func NewFanout(bm *bucketing.BucketingManager, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, bucketing: bm}
}

func (f *Fanout) Record(ctx context.Context, event models.AccessEvent) error {
	f.stamp(&event)

	g, gctx := errgroup.WithContext(ctx)
	errs := make([]error, len(f.sinks))
	for i, sink := range f.sinks {
		i, sink := i, sink
		g.Go(func() error {
			if err := sink.Write(gctx, event); err != nil {
				util.Warn("audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("event_type", string(event.Type)),
					zap.Error(err))
				errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (f *Fanout) stamp(event *models.AccessEvent) {
	if event.EventID == "" {
		event.EventID = models.NewEventID(event.OccurredAt)
	}
	if f.bucketing != nil {
		event.EventBucket = f.bucketing.GetEventBucket(event.AccountID)
		event.EventDate = f.bucketing.GetDateBucket(event.OccurredAt)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, models.AccessEvent) error { return nil }
