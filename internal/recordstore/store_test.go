package recordstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commkeep/commkeep/internal/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMessages(t *testing.T, s *Store, n int) []int64 {
	t.Helper()
	base := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.InsertMessage(context.Background(), record.Message{
			OccurredAt:   base.Add(time.Duration(i) * time.Minute),
			Counterparty: "+15551234567",
			Direction:    record.DirectionIncoming,
			Body:         "hello",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)
	require.True(t, s.Connected())

	n, err := s.CountMessages(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMessagesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)

	id, err := s.InsertMessage(context.Background(), record.Message{
		OccurredAt:    ts,
		Counterparty:  "+15551234567",
		Direction:     record.DirectionOutgoing,
		Body:          "on my way",
		HasAttachment: true,
	})
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := s.Messages(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, record.Message{
		ID:            id,
		OccurredAt:    ts,
		Counterparty:  "+15551234567",
		Direction:     record.DirectionOutgoing,
		Body:          "on my way",
		HasAttachment: true,
	}, got[0])
}

func TestMessagesSinceIDIsExclusive(t *testing.T) {
	s := openTestStore(t)
	ids := seedMessages(t, s, 5)

	got, err := s.Messages(context.Background(), ids[2], 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, ids[3], got[0].ID)
	require.Equal(t, ids[4], got[1].ID)

	// Cursor at the newest row yields nothing.
	got, err = s.Messages(context.Background(), ids[4], 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMessagesAscendingAndLimited(t *testing.T) {
	s := openTestStore(t)
	ids := seedMessages(t, s, 10)

	got, err := s.Messages(context.Background(), 0, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		require.Equal(t, ids[i], m.ID)
	}
}

func TestCallsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2024, 3, 14, 16, 0, 0, 0, time.UTC)

	id, err := s.InsertCall(context.Background(), record.CallRecord{
		OccurredAt:   ts,
		Counterparty: "+15557654321",
		Direction:    record.DirectionMissed,
		Duration:     95 * time.Second,
	})
	require.NoError(t, err)

	got, err := s.Calls(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, record.CallRecord{
		ID:           id,
		OccurredAt:   ts,
		Counterparty: "+15557654321",
		Direction:    record.DirectionMissed,
		Duration:     95 * time.Second,
	}, got[0])
}

func TestCallsSinceIDIsExclusive(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 3, 14, 16, 0, 0, 0, time.UTC)

	var ids []int64
	for i := 0; i < 4; i++ {
		id, err := s.InsertCall(context.Background(), record.CallRecord{
			OccurredAt:   base.Add(time.Duration(i) * time.Minute),
			Counterparty: "+15557654321",
			Direction:    record.DirectionIncoming,
			Duration:     time.Minute,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	got, err := s.Calls(context.Background(), ids[1], 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, ids[2], got[0].ID)
	require.Equal(t, ids[3], got[1].ID)
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)
	ids := seedMessages(t, s, 7)
	_, err := s.InsertCall(context.Background(), record.CallRecord{
		OccurredAt:   time.Now(),
		Counterparty: "+15557654321",
		Direction:    record.DirectionOutgoing,
		Duration:     time.Minute,
	})
	require.NoError(t, err)

	n, err := s.CountMessages(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = s.CountMessages(context.Background(), ids[4])
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.CountCalls(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.InsertMessage(context.Background(), record.Message{
		OccurredAt:   time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC),
		Counterparty: "+15551234567",
		Direction:    record.DirectionIncoming,
		Body:         "persists",
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Messages(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "persists", got[0].Body)
}
