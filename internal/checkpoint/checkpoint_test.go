package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commkeep/commkeep/internal/record"
)

func open(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestFreshStateDefaults(t *testing.T) {
	s, _ := open(t)

	require.Equal(t, int64(0), s.Cursor(record.StreamMessages))
	require.Equal(t, "", s.Email())
	require.True(t, s.Toggles().BackupMessages)
	require.True(t, s.Toggles().BackupCalls)
	require.False(t, s.Toggles().MirrorCalendar)
}

func TestAdvanceIsRunningMax(t *testing.T) {
	s, _ := open(t)

	cur, err := s.Advance(record.StreamMessages, 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), cur)

	// Out-of-order acknowledgement must not regress the cursor.
	cur, err = s.Advance(record.StreamMessages, 7)
	require.NoError(t, err)
	require.Equal(t, int64(10), cur)

	cur, err = s.Advance(record.StreamMessages, 12)
	require.NoError(t, err)
	require.Equal(t, int64(12), cur)
	require.Equal(t, int64(12), s.Cursor(record.StreamMessages))
}

func TestStreamsAreIndependent(t *testing.T) {
	s, _ := open(t)

	_, err := s.Advance(record.StreamMessages, 100)
	require.NoError(t, err)

	require.Equal(t, int64(0), s.Cursor(record.StreamCalls))
	require.Equal(t, int64(0), s.Cursor(record.StreamCalendar))
}

func TestRoundTrip(t *testing.T) {
	s, path := open(t)

	_, err := s.Advance(record.StreamMessages, 55)
	require.NoError(t, err)
	_, err = s.Advance(record.StreamCalls, 9)
	require.NoError(t, err)
	require.NoError(t, s.SetEmail("me@example.com"))
	require.NoError(t, s.Touch(record.StreamMessages, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, s.SetTemplates(Templates{MessageSubject: "custom {contact}"}))

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, int64(55), reopened.Cursor(record.StreamMessages))
	require.Equal(t, int64(9), reopened.Cursor(record.StreamCalls))
	require.Equal(t, "me@example.com", reopened.Email())
	require.Equal(t, "custom {contact}", reopened.Templates().MessageSubject)
}

func TestUnknownFieldsIgnoredAndMissingFieldsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	raw := `{"email":"old@example.com","futureField":{"a":1},"streams":{"messages":{"lastRowId":3}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	s, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, "old@example.com", s.Email())
	require.Equal(t, int64(3), s.Cursor(record.StreamMessages))
	require.Equal(t, int64(0), s.Cursor(record.StreamCalls))
}

func TestSaveIsAtomicRewrite(t *testing.T) {
	s, path := open(t)
	_, err := s.Advance(record.StreamMessages, 1)
	require.NoError(t, err)

	// No temp files left behind, and the file is valid JSON at rest.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
}
