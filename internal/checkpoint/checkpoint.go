package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/commkeep/commkeep/internal/record"
)

// StreamState is the durable cursor for one stream. LastRowID only ever
// moves forward, and only after the remote side acknowledged delivery of
// that row.
type StreamState struct {
	LastRowID      int64      `json:"lastRowId"`
	LastBackupDate *time.Time `json:"lastBackupDate"`
}

// Toggles enables or disables individual streams.
type Toggles struct {
	BackupMessages bool `json:"backupMessages"`
	BackupCalls    bool `json:"backupCalls"`
	MirrorCalendar bool `json:"mirrorCalendar"`
}

// Templates holds the user-configurable subject/body templates.
type Templates struct {
	MessageSubject string `json:"messageSubject"`
	MessageBody    string `json:"messageBody"`
	CallSubject    string `json:"callSubject"`
	CallBody       string `json:"callBody"`
}

// State is the persisted backup state. Unknown fields are ignored on load
// and missing fields default rather than fail.
type State struct {
	Email     string                         `json:"email"`
	Streams   map[record.Stream]*StreamState `json:"streams"`
	Toggles   Toggles                        `json:"toggles"`
	Templates Templates                      `json:"templates"`
}

func defaultState() *State {
	return &State{
		Streams: make(map[record.Stream]*StreamState),
		Toggles: Toggles{BackupMessages: true, BackupCalls: true},
	}
}

// Store persists State as a single JSON file. Every save is a full atomic
// rewrite (write to temp file, then rename), so a kill mid-write leaves the
// previous state intact. Safe to call once per delivered item.
type Store struct {
	path string

	mu    sync.Mutex
	state *State
}

// Open loads the state file, creating fresh defaults if it does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.state = defaultState()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	st := defaultState()
	if err := json.Unmarshal(data, st); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if st.Streams == nil {
		st.Streams = make(map[record.Stream]*StreamState)
	}
	s.state = st
	return nil
}

// Save atomically rewrites the state file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Cursor returns the last delivered row id for a stream, zero if none.
func (s *Store) Cursor(stream record.Stream) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state.Streams[stream]; ok {
		return st.LastRowID
	}
	return 0
}

// Advance moves the cursor for a stream to id if id is greater than the
// current value and persists the state. Out-of-order acknowledgements are
// absorbed by the running-max rule. Returns the persisted cursor.
func (s *Store) Advance(stream record.Stream, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streamLocked(stream)
	if id > st.LastRowID {
		st.LastRowID = id
	}
	return st.LastRowID, s.saveLocked()
}

// Touch records the time of the last run for a stream and persists.
func (s *Store) Touch(stream record.Stream, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streamLocked(stream)
	st.LastBackupDate = &t
	return s.saveLocked()
}

func (s *Store) streamLocked(stream record.Stream) *StreamState {
	st, ok := s.state.Streams[stream]
	if !ok {
		st = &StreamState{}
		s.state.Streams[stream] = st
	}
	return st
}

// Email returns the configured destination account.
func (s *Store) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Email
}

// SetEmail updates the destination account and persists.
func (s *Store) SetEmail(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Email = email
	return s.saveLocked()
}

// Toggles returns the current stream toggles.
func (s *Store) Toggles() Toggles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Toggles
}

// SetToggles updates the stream toggles and persists.
func (s *Store) SetToggles(t Toggles) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Toggles = t
	return s.saveLocked()
}

// Templates returns the configured formatting templates.
func (s *Store) Templates() Templates {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Templates
}

// SetTemplates updates the formatting templates and persists.
func (s *Store) SetTemplates(t Templates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Templates = t
	return s.saveLocked()
}
