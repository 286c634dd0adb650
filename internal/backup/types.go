package backup

import (
	"context"
	"encoding/json"

	"github.com/commkeep/commkeep/internal/format"
	"github.com/commkeep/commkeep/internal/record"
	"github.com/commkeep/commkeep/internal/session"
)

// RecordSource is the local archive the pipeline reads from.
type RecordSource interface {
	Messages(ctx context.Context, sinceID int64, limit int) ([]record.Message, error)
	Calls(ctx context.Context, sinceID int64, limit int) ([]record.CallRecord, error)
	CountMessages(ctx context.Context, sinceID int64) (int, error)
	CountCalls(ctx context.Context, sinceID int64) (int, error)
	Connected() bool
}

// PayloadFormatter turns one record into a protocol-ready payload.
// Satisfied by format.Formatter.
type PayloadFormatter interface {
	Format(rec record.Record) (format.Payload, error)
}

// TransferSession is the authenticated remote connection a run appends
// payloads through. Opened once per run, closed on every exit path.
type TransferSession interface {
	Open(ctx context.Context, creds session.Credentials) error
	EnsureContainer(ctx context.Context, name string) error
	AppendBatch(ctx context.Context, items []format.Payload, container string) <-chan session.AckEvent
	Close() error
}

// Progress is one observer notification, emitted on every acknowledgement.
type Progress struct {
	Stream    record.Stream `json:"stream"`
	Delivered int           `json:"delivered"`
	Total     int           `json:"total"`
	LastID    int64         `json:"lastId"`
	// Overall is the weighted blend across phases, in [0,1], monotonically
	// non-decreasing within a run.
	Overall float64 `json:"overall"`
}

// StreamResult are the per-stream counters of one run.
type StreamResult struct {
	Found     int `json:"found"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// BatchResult aggregates one full run.
type BatchResult struct {
	Messages         StreamResult `json:"messages"`
	Calls            StreamResult `json:"calls"`
	CalendarMirrored int          `json:"calendarMirrored"`
}

// OutcomeKind discriminates run outcomes.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeCancelled
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failure"
	}
}

// MarshalJSON serializes the kind as its string form so status responses
// stay human readable.
func (k OutcomeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Outcome is the final report of a run. Partial progress surfaces as
// Success with Warnings, not Failure, whenever anything was delivered.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Result   BatchResult `json:"result"`
	Err      *Error      `json:"-"`
	ErrMsg   string      `json:"error,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Callbacks decouple the pipeline loop from whatever is observing it.
// Either field may be nil.
type Callbacks struct {
	OnProgress func(Progress)
	OnComplete func(Outcome)
}

// Containers names the remote destinations per stream.
type Containers struct {
	Messages string
	Calls    string
}
