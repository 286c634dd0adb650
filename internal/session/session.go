// Package session owns one persistent, authenticated connection to the
// remote mailbox and pipelines append commands over it. The wire protocol is
// line oriented: the client sends AUTH, SELECT, CREATE, and APPEND requests;
// the server replies with OK, NO, READY, and per-item SUCCESS/ERROR/FATAL
// tokens that may arrive out of order relative to submission.
package session

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/commkeep/commkeep/internal/format"
	"github.com/commkeep/commkeep/internal/logger"
)

// Credentials authenticate one account against the remote system.
type Credentials struct {
	Email  string
	Secret string
}

// AckKind discriminates acknowledgement events.
type AckKind int

const (
	// AckDelivered confirms durable delivery of one payload.
	AckDelivered AckKind = iota
	// AckFailed rejects one payload; the batch continues.
	AckFailed
	// AckFatal terminates the batch early.
	AckFatal
)

// AckEvent is one acknowledgement from the remote side, correlated by the
// record id carried in the append command.
type AckEvent struct {
	Kind   AckKind
	ID     int64
	Reason string
	Err    error
}

// DefaultAckIdle bounds how long AppendBatch waits between acknowledgements
// before declaring the connection dead.
const DefaultAckIdle = 2 * time.Minute

// Session is a single long-lived protocol conversation. Open once per
// pipeline run, reuse for every item, close on every exit path. Not safe for
// two concurrent AppendBatch calls.
type Session struct {
	dial    DialFunc
	log     logger.Logger
	ackIdle time.Duration

	mu         sync.Mutex
	tr         Transport
	lines      chan string
	done       chan struct{}
	open       bool
	inBatch    bool
	containers map[string]struct{}

	readMu  sync.Mutex
	readErr error
}

// New creates a session that will dial on Open. A zero ackIdle means
// DefaultAckIdle.
func New(dial DialFunc, log logger.Logger, ackIdle time.Duration) *Session {
	if log == nil {
		log = logger.Nop{}
	}
	if ackIdle <= 0 {
		ackIdle = DefaultAckIdle
	}
	return &Session{dial: dial, log: log, ackIdle: ackIdle}
}

// Open dials and authenticates. Idempotent: calling while open is a no-op.
func (s *Session) Open(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	tr, err := s.dial(ctx)
	if err != nil {
		return &ConnectivityError{Err: err}
	}

	s.tr = tr
	s.lines = make(chan string, 128)
	s.done = make(chan struct{})
	go s.readLoop(tr, s.lines, s.done)

	if err := s.writeLine(fmt.Sprintf("AUTH %s %s", creds.Email, creds.Secret)); err != nil {
		s.teardownLocked()
		return &ConnectivityError{Err: err}
	}

	line, err := s.awaitLine(ctx, s.ackIdle)
	if err != nil {
		s.teardownLocked()
		return err
	}

	switch {
	case line == "OK":
		s.open = true
		s.containers = make(map[string]struct{})
		return nil
	case strings.HasPrefix(line, "NO"):
		s.teardownLocked()
		return &AuthError{Reason: strings.TrimSpace(strings.TrimPrefix(line, "NO"))}
	default:
		s.teardownLocked()
		return &ProtocolError{Reason: "unexpected auth reply: " + line}
	}
}

// EnsureContainer selects the named container, creating it first if the
// select fails. Runs at most once per container per session.
func (s *Session) EnsureContainer(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return &ProtocolError{Reason: "session not open"}
	}
	if _, ok := s.containers[name]; ok {
		return nil
	}

	if err := s.selectContainer(ctx, name); err != nil {
		if err := s.request(ctx, "CREATE "+name); err != nil {
			return err
		}
		if err := s.selectContainer(ctx, name); err != nil {
			return err
		}
	}

	s.containers[name] = struct{}{}
	return nil
}

func (s *Session) selectContainer(ctx context.Context, name string) error {
	return s.request(ctx, "SELECT "+name)
}

// request sends one line and expects OK or READY back.
func (s *Session) request(ctx context.Context, line string) error {
	if err := s.writeLine(line); err != nil {
		return &ConnectivityError{Err: err}
	}
	reply, err := s.awaitLine(ctx, s.ackIdle)
	if err != nil {
		return err
	}
	switch {
	case reply == "OK" || reply == "READY":
		return nil
	case strings.HasPrefix(reply, "NO"):
		return &ProtocolError{Reason: strings.TrimSpace(strings.TrimPrefix(reply, "NO"))}
	case strings.HasPrefix(reply, "FATAL:"):
		return &ProtocolError{Reason: strings.TrimPrefix(reply, "FATAL:")}
	default:
		return &ProtocolError{Reason: "unexpected reply: " + reply}
	}
}

// AppendBatch pipelines every payload into the container and streams back
// acknowledgement events. The channel is finite and not restartable: it
// closes when every item has been acknowledged, on a FATAL token, on
// connection loss, on ack idle timeout, or when ctx is cancelled. Events may
// arrive out of submission order; correlate by id.
func (s *Session) AppendBatch(ctx context.Context, items []format.Payload, container string) <-chan AckEvent {
	out := make(chan AckEvent, 16)

	go func() {
		defer close(out)

		s.mu.Lock()
		if !s.open {
			s.mu.Unlock()
			out <- AckEvent{Kind: AckFatal, Err: &ProtocolError{Reason: "session not open"}}
			return
		}
		if s.inBatch {
			s.mu.Unlock()
			out <- AckEvent{Kind: AckFatal, Err: &ProtocolError{Reason: "append batch already in progress"}}
			return
		}
		s.inBatch = true
		tr := s.tr
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.inBatch = false
			s.mu.Unlock()
		}()

		wctx, cancelWriter := context.WithCancel(ctx)
		defer cancelWriter()

		g, wctx := errgroup.WithContext(wctx)
		g.Go(func() error {
			for _, p := range items {
				select {
				case <-wctx.Done():
					return wctx.Err()
				default:
				}
				header := fmt.Sprintf("APPEND %d %s %d %d\r\n", p.ID, container, p.OccurredAt.Unix(), len(p.Bytes))
				if _, err := tr.Write([]byte(header)); err != nil {
					return err
				}
				if _, err := tr.Write(p.Bytes); err != nil {
					return err
				}
				if _, err := tr.Write([]byte("\r\n")); err != nil {
					return err
				}
			}
			return nil
		})

		emit := func(ev AckEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		pending := len(items)
	recv:
		for pending > 0 {
			line, err := s.awaitLine(ctx, s.ackIdle)
			if err != nil {
				cancelWriter()
				emit(AckEvent{Kind: AckFatal, Err: err})
				break
			}

			switch {
			case strings.HasPrefix(line, "SUCCESS:"):
				id, perr := strconv.ParseInt(strings.TrimPrefix(line, "SUCCESS:"), 10, 64)
				if perr != nil {
					s.log.Warn("unparseable success token", logger.F("line", line))
					continue
				}
				pending--
				if !emit(AckEvent{Kind: AckDelivered, ID: id}) {
					break recv
				}
			case strings.HasPrefix(line, "ERROR:"):
				parts := strings.SplitN(line, ":", 3)
				if len(parts) < 3 {
					s.log.Warn("unparseable error token", logger.F("line", line))
					continue
				}
				id, perr := strconv.ParseInt(parts[1], 10, 64)
				if perr != nil {
					s.log.Warn("unparseable error token", logger.F("line", line))
					continue
				}
				pending--
				if !emit(AckEvent{Kind: AckFailed, ID: id, Reason: parts[2]}) {
					break recv
				}
			case strings.HasPrefix(line, "FATAL:"):
				cancelWriter()
				emit(AckEvent{Kind: AckFatal, Err: &ProtocolError{Reason: strings.TrimPrefix(line, "FATAL:")}})
				break recv
			default:
				// READY or other chatter between requests; ignore.
			}
		}

		cancelWriter()
		_ = g.Wait()
	}()

	return out
}

// Close releases the connection. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

func (s *Session) teardownLocked() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.tr != nil {
		s.tr.Close()
		s.tr = nil
	}
	s.open = false
	s.containers = nil
}

// TestCredentials opens a throwaway connection, attempts authentication
// only, and always closes before returning.
func TestCredentials(ctx context.Context, dial DialFunc, log logger.Logger, creds Credentials) error {
	s := New(dial, log, 0)
	defer s.Close()
	return s.Open(ctx, creds)
}

func (s *Session) writeLine(line string) error {
	_, err := s.tr.Write([]byte(line + "\r\n"))
	return err
}

// readLoop feeds server lines into the session's line channel until the
// transport errors out or the session is torn down.
func (s *Session) readLoop(tr Transport, lines chan string, done chan struct{}) {
	r := bufio.NewReader(tr)
	for {
		raw, err := r.ReadString('\n')
		line := strings.TrimRight(raw, "\r\n")
		if line != "" {
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		if err != nil {
			s.readMu.Lock()
			s.readErr = err
			s.readMu.Unlock()
			close(lines)
			return
		}
	}
}

// awaitLine returns the next server line, bounding the wait by both ctx and
// an idle timeout.
func (s *Session) awaitLine(ctx context.Context, idle time.Duration) (string, error) {
	timer := time.NewTimer(idle)
	defer timer.Stop()

	select {
	case line, ok := <-s.lines:
		if !ok {
			s.readMu.Lock()
			err := s.readErr
			s.readMu.Unlock()
			return "", &ConnectivityError{Err: fmt.Errorf("connection closed: %w", err)}
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", &ConnectivityError{Err: ErrAckTimeout}
	}
}
