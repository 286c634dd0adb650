// Package calendar mirrors call records into a remote calendar. The backing
// APIs are rate limited, so unlike the mail path a fixed delay is enforced
// between items.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/commkeep/commkeep/internal/format"
	"github.com/commkeep/commkeep/internal/logger"
	"github.com/commkeep/commkeep/internal/record"
)

// MinEventDuration is the floor applied to zero or near-zero length calls so
// the resulting calendar entry is visible.
const MinEventDuration = time.Minute

// DefaultDelay is the inter-item pause between inserts.
const DefaultDelay = 500 * time.Millisecond

// Event is one calendar entry to be created.
type Event struct {
	Title string
	Start time.Time
	End   time.Time
	Notes string
}

// Sink inserts events into a concrete calendar backend.
type Sink interface {
	Insert(ctx context.Context, ev Event) error
}

// Mirror pushes call records into a Sink one at a time.
type Mirror struct {
	sink  Sink
	delay time.Duration
	log   logger.Logger
}

func NewMirror(sink Sink, delay time.Duration, log logger.Logger) *Mirror {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Mirror{sink: sink, delay: delay, log: log}
}

// Push inserts every call in order, invoking onDelivered with the record id
// after each successful insert so the caller can advance its checkpoint.
// Stops at the first insert error, at context cancellation, or when
// cancelled reports true; already-inserted items stand.
func (m *Mirror) Push(ctx context.Context, calls []record.CallRecord, cancelled func() bool, onDelivered func(int64)) (int, error) {
	inserted := 0
	for i, c := range calls {
		if cancelled != nil && cancelled() {
			return inserted, context.Canceled
		}
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		if err := m.sink.Insert(ctx, EventFor(c)); err != nil {
			return inserted, fmt.Errorf("insert call %d: %w", c.ID, err)
		}
		inserted++
		if onDelivered != nil {
			onDelivered(c.ID)
		}

		if i < len(calls)-1 {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return inserted, ctx.Err()
			}
		}
	}
	return inserted, nil
}

// EventFor maps one call record to a calendar event, applying the minimum
// duration floor.
func EventFor(c record.CallRecord) Event {
	contact := format.SanitizeContact(c.Counterparty)

	dur := c.Duration
	if dur < MinEventDuration {
		dur = MinEventDuration
	}

	kind := "Outgoing"
	switch c.Direction {
	case record.DirectionIncoming:
		kind = "Incoming"
	case record.DirectionMissed:
		kind = "Missed"
	}

	return Event{
		Title: fmt.Sprintf("%s call - %s", kind, contact),
		Start: c.OccurredAt,
		End:   c.OccurredAt.Add(dur),
		Notes: fmt.Sprintf("%s call with %s, duration %s", kind, contact, c.Duration),
	}
}
