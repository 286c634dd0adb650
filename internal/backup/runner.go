package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commkeep/commkeep/internal/calendar"
	"github.com/commkeep/commkeep/internal/checkpoint"
	"github.com/commkeep/commkeep/internal/format"
	"github.com/commkeep/commkeep/internal/logger"
	"github.com/commkeep/commkeep/internal/record"
	"github.com/commkeep/commkeep/internal/session"
)

// State labels the pipeline's position for status queries.
type State string

const (
	StateIdle       State = "idle"
	StateReading    State = "reading"
	StateFormatting State = "formatting"
	StateDelivering State = "delivering"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// EventPublisher receives progress and summary events. Satisfied by
// events.Publisher; optional.
type EventPublisher interface {
	Progress(account string, stream string, lastID int64, payload any) error
	Summary(account string, payload any) error
}

// Phase weights for the blended progress value.
const (
	weightMessages = 0.45
	weightCalls    = 0.25
	weightCalendar = 0.30
)

// Runner executes one backup pass: messages, then call records, then the
// calendar mirror, sequentially over a single transfer session. Streams are
// never interleaved and the session never sees two concurrent batches.
type Runner struct {
	Account        string
	Source         RecordSource
	Checkpoints    *checkpoint.Store
	Session        TransferSession
	Credentials    session.Credentials
	Containers     Containers
	Formatter      PayloadFormatter
	CalendarMirror *calendar.Mirror
	Events         EventPublisher
	Log            logger.Logger
	Callbacks      Callbacks

	cancelled atomic.Bool

	mu          sync.Mutex
	state       State
	last        Progress
	lastOverall float64
}

// Cancel requests that the run stop. Polled at acknowledgement boundaries,
// so at most one further item is acted on; the checkpoint keeps whatever was
// durably advanced.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
}

// Snapshot reports the current state and last progress notification.
func (r *Runner) Snapshot() (State, Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.last
}

type phase struct {
	stream record.Stream
	weight float64
}

func (r *Runner) phases(t checkpoint.Toggles) []phase {
	var ps []phase
	if t.BackupMessages {
		ps = append(ps, phase{record.StreamMessages, weightMessages})
	}
	if t.BackupCalls {
		ps = append(ps, phase{record.StreamCalls, weightCalls})
	}
	if t.MirrorCalendar && r.CalendarMirror != nil {
		ps = append(ps, phase{record.StreamCalendar, weightCalendar})
	}

	// Normalize so the enabled phases span the whole bar.
	var sum float64
	for _, p := range ps {
		sum += p.weight
	}
	for i := range ps {
		ps[i].weight /= sum
	}
	return ps
}

// Run executes a full backup pass and reports the outcome. The session is
// closed on every exit path.
func (r *Runner) Run(ctx context.Context) Outcome {
	if r.Log == nil {
		r.Log = logger.Nop{}
	}
	r.cancelled.Store(false)
	r.mu.Lock()
	r.lastOverall = 0
	r.last = Progress{}
	r.mu.Unlock()
	r.setState(StateIdle)

	defer r.Session.Close()

	r.Log.Info("backup run starting", logger.F("account", r.Account))

	var (
		result    BatchResult
		warnings  []string
		hardErr   *Error
		cancelled bool
	)

	sessionReady := false
	base := 0.0
	for _, ph := range r.phases(r.Checkpoints.Toggles()) {
		if r.cancelled.Load() {
			cancelled = true
			break
		}

		switch ph.stream {
		case record.StreamMessages, record.StreamCalls:
			container := r.Containers.Messages
			if ph.stream == record.StreamCalls {
				container = r.Containers.Calls
			}
			sr, warn, err := r.runMailStream(ctx, ph.stream, container, &sessionReady, base, ph.weight)
			if ph.stream == record.StreamMessages {
				result.Messages = sr
			} else {
				result.Calls = sr
			}
			if warn != "" {
				warnings = append(warnings, warn)
			}
			if err != nil {
				if err.Kind == KindCancelled {
					cancelled = true
				} else if hardErr == nil {
					hardErr = err
				} else {
					warnings = append(warnings, fmt.Sprintf("%s: %v", ph.stream, err))
				}
			}
		case record.StreamCalendar:
			n, warn, err := r.runCalendar(ctx, base, ph.weight)
			result.CalendarMirrored = n
			if warn != "" {
				warnings = append(warnings, warn)
			}
			if err != nil && err.Kind == KindCancelled {
				cancelled = true
			}
		}

		if cancelled {
			break
		}
		base += ph.weight
	}

	r.setState(StateFinalizing)

	outcome := Outcome{Result: result, Warnings: warnings}
	switch {
	case cancelled:
		outcome.Kind = OutcomeCancelled
		r.setState(StateCancelled)
	case hardErr != nil:
		outcome.Kind = OutcomeFailure
		outcome.Err = hardErr
		outcome.ErrMsg = hardErr.Error()
		r.setState(StateFailed)
	default:
		outcome.Kind = OutcomeSuccess
		r.report(Progress{Overall: 1})
		r.setState(StateCompleted)
	}

	r.Log.Info("backup run finished",
		logger.F("account", r.Account),
		logger.F("outcome", outcome.Kind.String()),
		logger.F("messagesFound", result.Messages.Found),
		logger.F("messagesDelivered", result.Messages.Delivered),
		logger.F("callsFound", result.Calls.Found),
		logger.F("callsDelivered", result.Calls.Delivered),
		logger.F("calendarMirrored", result.CalendarMirrored),
		logger.F("warnings", len(warnings)),
	)
	if outcome.Kind == OutcomeFailure {
		r.Log.Error("backup run failed", logger.F("kind", hardErr.Kind.String()), logger.F("err", hardErr.Error()))
	}

	if r.Events != nil {
		if err := r.Events.Summary(r.Account, outcome); err != nil {
			r.Log.Warn("failed to publish run summary", logger.F("err", err.Error()))
		}
	}
	if r.Callbacks.OnComplete != nil {
		r.Callbacks.OnComplete(outcome)
	}
	return outcome
}

// runMailStream performs one stream's Reading -> Formatting -> Delivering
// pass. A returned warning means partial success; a returned error means the
// stream produced nothing durable or was cancelled.
func (r *Runner) runMailStream(ctx context.Context, stream record.Stream, container string, sessionReady *bool, base, weight float64) (StreamResult, string, *Error) {
	var sr StreamResult

	r.setState(StateReading)
	since := r.Checkpoints.Cursor(stream)
	records, err := r.fetch(ctx, stream, since)
	if err != nil {
		return sr, "", &Error{Kind: KindIO, Msg: "read " + string(stream), Err: err}
	}
	sr.Found = len(records)
	if sr.Found == 0 {
		r.Log.Info("stream up to date", logger.F("stream", stream), logger.F("cursor", since))
		r.touch(stream)
		return sr, "", nil
	}

	r.setState(StateFormatting)
	payloads := make([]format.Payload, 0, len(records))
	for _, rec := range records {
		p, ferr := r.Formatter.Format(rec)
		if ferr != nil {
			sr.Skipped++
			r.Log.Warn("skipping unformattable record",
				logger.F("stream", stream), logger.F("id", rec.RecordID()), logger.F("err", ferr.Error()))
			continue
		}
		payloads = append(payloads, p)
	}

	r.setState(StateDelivering)
	if !*sessionReady {
		if err := r.Session.Open(ctx, r.Credentials); err != nil {
			return sr, "", wrap("open session", err)
		}
		*sessionReady = true
	}
	if err := r.Session.EnsureContainer(ctx, container); err != nil {
		return sr, "", wrap("ensure container "+container, err)
	}

	total := len(payloads)
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	acks := r.Session.AppendBatch(sctx, payloads, container)

	var fatal error
	for ev := range acks {
		// Cancellation is checked before acting on each event; items already
		// in flight keep their acknowledgements, nothing new is submitted.
		if r.cancelled.Load() {
			cancel()
			r.touch(stream)
			return sr, "", &Error{Kind: KindCancelled, Msg: "backup cancelled"}
		}

		switch ev.Kind {
		case session.AckDelivered:
			sr.Delivered++
			if _, err := r.Checkpoints.Advance(stream, ev.ID); err != nil {
				// Do not lose subsequent progress because one save failed;
				// the next acknowledgement persists the running maximum.
				r.Log.Warn("checkpoint save failed, retrying on next acknowledgement",
					logger.F("stream", stream), logger.F("id", ev.ID), logger.F("err", err.Error()))
			}
			r.report(Progress{
				Stream:    stream,
				Delivered: sr.Delivered,
				Total:     total,
				LastID:    ev.ID,
				Overall:   base + weight*float64(sr.Delivered)/float64(total),
			})
		case session.AckFailed:
			sr.Failed++
			r.Log.Warn("item rejected by remote",
				logger.F("stream", stream), logger.F("id", ev.ID), logger.F("reason", ev.Reason))
		case session.AckFatal:
			fatal = ev.Err
		}
		if fatal != nil {
			cancel()
			break
		}
	}

	r.touch(stream)

	if fatal != nil {
		if sr.Delivered == 0 {
			return sr, "", wrap("deliver "+string(stream), fatal)
		}
		warn := fmt.Sprintf("%s: interrupted after %d of %d delivered: %v", stream, sr.Delivered, total, fatal)
		r.Log.Warn("stream interrupted with partial progress",
			logger.F("stream", stream), logger.F("delivered", sr.Delivered), logger.F("total", total),
			logger.F("err", fatal.Error()))
		return sr, warn, nil
	}
	return sr, "", nil
}

// runCalendar mirrors unseen call records into the secondary sink. Sink
// trouble never fails the mail backup and surfaces as a warning only; a
// cancellation request still terminates the run as cancelled.
func (r *Runner) runCalendar(ctx context.Context, base, weight float64) (int, string, *Error) {
	since := r.Checkpoints.Cursor(record.StreamCalendar)
	calls, err := r.Source.Calls(ctx, since, 0)
	if err != nil {
		return 0, fmt.Sprintf("calendar: read calls: %v", err), nil
	}
	total := len(calls)
	if total == 0 {
		r.touch(record.StreamCalendar)
		return 0, "", nil
	}

	delivered := 0
	n, err := r.CalendarMirror.Push(ctx, calls, r.cancelled.Load, func(id int64) {
		delivered++
		if _, serr := r.Checkpoints.Advance(record.StreamCalendar, id); serr != nil {
			r.Log.Warn("calendar checkpoint save failed", logger.F("id", id), logger.F("err", serr.Error()))
		}
		r.report(Progress{
			Stream:    record.StreamCalendar,
			Delivered: delivered,
			Total:     total,
			LastID:    id,
			Overall:   base + weight*float64(delivered)/float64(total),
		})
	})
	r.touch(record.StreamCalendar)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return n, "", &Error{Kind: KindCancelled, Msg: "backup cancelled"}
		}
		warn := fmt.Sprintf("calendar: mirrored %d of %d: %v", n, total, err)
		r.Log.Warn("calendar mirror incomplete", logger.F("mirrored", n), logger.F("total", total), logger.F("err", err.Error()))
		return n, warn, nil
	}
	return n, "", nil
}

func (r *Runner) fetch(ctx context.Context, stream record.Stream, since int64) ([]record.Record, error) {
	switch stream {
	case record.StreamMessages:
		ms, err := r.Source.Messages(ctx, since, 0)
		if err != nil {
			return nil, err
		}
		out := make([]record.Record, len(ms))
		for i, m := range ms {
			out[i] = m
		}
		return out, nil
	case record.StreamCalls:
		cs, err := r.Source.Calls(ctx, since, 0)
		if err != nil {
			return nil, err
		}
		out := make([]record.Record, len(cs))
		for i, c := range cs {
			out[i] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown stream %q", stream)
	}
}

func (r *Runner) touch(stream record.Stream) {
	if err := r.Checkpoints.Touch(stream, time.Now()); err != nil {
		r.Log.Warn("failed to record run timestamp", logger.F("stream", stream), logger.F("err", err.Error()))
	}
}

// report pushes one progress notification, clamping the overall value so it
// never decreases within a run.
func (r *Runner) report(p Progress) {
	r.mu.Lock()
	if p.Overall < r.lastOverall {
		p.Overall = r.lastOverall
	} else {
		r.lastOverall = p.Overall
	}
	r.last = p
	r.mu.Unlock()

	if r.Callbacks.OnProgress != nil {
		r.Callbacks.OnProgress(p)
	}
	if r.Events != nil {
		if err := r.Events.Progress(r.Account, string(p.Stream), p.LastID, p); err != nil {
			r.Log.Debug("failed to publish progress event", logger.F("err", err.Error()))
		}
	}
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
