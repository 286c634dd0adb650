package format

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commkeep/commkeep/internal/checkpoint"
	"github.com/commkeep/commkeep/internal/record"
)

func TestSanitizeContact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "filtered suffix", in: "+15551234567(filtered)", want: "+15551234567"},
		{name: "plain number", in: "+15551234567", want: "+15551234567"},
		{name: "underscore tag", in: "Alice(work_mobile)", want: "Alice"},
		{name: "trailing space after tag", in: "Bob(spam) ", want: "Bob"},
		{name: "parenthetical with digits kept", in: "Carol(2)", want: "Carol(2)"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeContact(tt.in))
		})
	}
}

func TestSubstitute(t *testing.T) {
	vals := map[string]string{"{contact}": "Alice", "{type}": "SMS"}

	require.Equal(t, "Alice - SMS", substitute("{contact} - {type}", vals))
	require.Equal(t, "Alice {bogus}", substitute("{contact} {bogus}", vals))
	require.Equal(t, "no placeholders", substitute("no placeholders", vals))
}

func TestFormatMessage(t *testing.T) {
	f := New("me@example.com", checkpoint.Templates{})
	occurred := time.Date(2024, time.March, 14, 15, 9, 26, 0, time.UTC)

	p, err := f.Format(record.Message{
		ID:           42,
		OccurredAt:   occurred,
		Counterparty: "+15551234567(filtered)",
		Direction:    record.DirectionIncoming,
		Body:         "hello there",
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), p.ID)
	require.Equal(t, occurred, p.OccurredAt)

	text := string(p.Bytes)
	require.Contains(t, text, "Subject: +15551234567 - SMS\r\n")
	require.Contains(t, text, "From: +15551234567 <+15551234567@backup.invalid>\r\n")
	require.Contains(t, text, "To: me@example.com\r\n")
	require.Contains(t, text, "Date: Thu, 14 Mar 2024 15:09:26 +0000\r\n")
	require.Contains(t, text, "X-Commkeep-ID: 42\r\n")
	require.Contains(t, text, "X-Commkeep-Type: messages\r\n")
	require.Contains(t, text, "hello there")
	require.NotContains(t, text, "(filtered)")
}

func TestFormatMessageOutgoingFlipsAddresses(t *testing.T) {
	f := New("me@example.com", checkpoint.Templates{})

	p, err := f.Format(record.Message{
		ID:           7,
		OccurredAt:   time.Now(),
		Counterparty: "Alice",
		Direction:    record.DirectionOutgoing,
		Body:         "on my way",
	})
	require.NoError(t, err)

	text := string(p.Bytes)
	require.Contains(t, text, "From: me@example.com\r\n")
	require.Contains(t, text, "To: Alice <Alice@backup.invalid>\r\n")
}

func TestFormatMessagePlaceholderBodies(t *testing.T) {
	f := New("me@example.com", checkpoint.Templates{})

	p, err := f.Format(record.Message{ID: 1, OccurredAt: time.Now(), Counterparty: "A"})
	require.NoError(t, err)
	require.Contains(t, string(p.Bytes), "[no text]")

	p, err = f.Format(record.Message{ID: 2, OccurredAt: time.Now(), Counterparty: "A", HasAttachment: true})
	require.NoError(t, err)
	require.Contains(t, string(p.Bytes), "[attachment]")
}

func TestFormatCall(t *testing.T) {
	f := New("me@example.com", checkpoint.Templates{})

	p, err := f.Format(record.CallRecord{
		ID:           9,
		OccurredAt:   time.Date(2024, time.January, 2, 10, 30, 0, 0, time.UTC),
		Counterparty: "+15550001111(spam)",
		Direction:    record.DirectionMissed,
		Duration:     95 * time.Second,
	})
	require.NoError(t, err)

	text := string(p.Bytes)
	require.Contains(t, text, "Subject: +15550001111 - Call (1:35)\r\n")
	require.Contains(t, text, "Missed call with +15550001111")
	require.Contains(t, text, "X-Commkeep-Type: calls\r\n")
}

func TestFormatCustomTemplates(t *testing.T) {
	f := New("me@example.com", checkpoint.Templates{
		MessageSubject: "msg from {contact} at {time}",
		MessageBody:    "{body} -- {bogus}",
	})

	p, err := f.Format(record.Message{
		ID:           3,
		OccurredAt:   time.Date(2024, time.June, 1, 8, 15, 0, 0, time.UTC),
		Counterparty: "Alice",
		Body:         "hi",
	})
	require.NoError(t, err)

	text := string(p.Bytes)
	require.Contains(t, text, "Subject: msg from Alice at 08:15\r\n")
	require.Contains(t, text, "hi -- {bogus}")
}

func TestFormatUnsupportedRecord(t *testing.T) {
	f := New("me@example.com", checkpoint.Templates{})
	_, err := f.Format(nil)
	require.Error(t, err)
}

func TestHeaderBodySeparation(t *testing.T) {
	f := New("me@example.com", checkpoint.Templates{})
	p, err := f.Format(record.Message{ID: 5, OccurredAt: time.Now(), Counterparty: "A", Body: "b"})
	require.NoError(t, err)

	parts := strings.SplitN(string(p.Bytes), "\r\n\r\n", 2)
	require.Len(t, parts, 2, "payload must contain a blank line between headers and body")
}
