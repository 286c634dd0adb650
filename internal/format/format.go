package format

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/commkeep/commkeep/internal/checkpoint"
	"github.com/commkeep/commkeep/internal/record"
)

// Payload is the protocol-ready representation of one record, carrying the
// originating id and timestamp for the append command's explicit date field.
type Payload struct {
	ID         int64
	OccurredAt time.Time
	Bytes      []byte
}

const (
	// dateLayout matches the mail date-header grammar: day-of-week, day,
	// month name, year, time, zone offset.
	dateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

	noTextPlaceholder     = "[no text]"
	attachmentPlaceholder = "[attachment]"

	defaultMessageSubject = "{contact} - SMS"
	defaultMessageBody    = "{body}"
	defaultCallSubject    = "{contact} - Call ({duration})"
	defaultCallBody       = "{type} call with {contact} on {date} at {time}, duration {duration}"
)

// Trailing parenthetical tags appended by the source system, e.g.
// "+15551234567(filtered)".
var suffixTagRe = regexp.MustCompile(`\([A-Za-z_]+\)\s*$`)

// SanitizeContact strips system-appended parenthetical suffixes from a
// counterparty identifier. Applied everywhere a counterparty surfaces.
func SanitizeContact(contact string) string {
	return strings.TrimSpace(suffixTagRe.ReplaceAllString(contact, ""))
}

// Formatter turns records into mail payloads. Pure, no I/O.
type Formatter struct {
	account   string
	templates checkpoint.Templates
}

// New creates a formatter for the given destination account. Empty template
// fields fall back to defaults.
func New(account string, templates checkpoint.Templates) *Formatter {
	if templates.MessageSubject == "" {
		templates.MessageSubject = defaultMessageSubject
	}
	if templates.MessageBody == "" {
		templates.MessageBody = defaultMessageBody
	}
	if templates.CallSubject == "" {
		templates.CallSubject = defaultCallSubject
	}
	if templates.CallBody == "" {
		templates.CallBody = defaultCallBody
	}
	return &Formatter{account: account, templates: templates}
}

// Format builds the payload for one record.
func (f *Formatter) Format(rec record.Record) (Payload, error) {
	switch r := rec.(type) {
	case record.Message:
		return f.formatMessage(r), nil
	case record.CallRecord:
		return f.formatCall(r), nil
	default:
		return Payload{}, fmt.Errorf("unsupported record type %T", rec)
	}
}

func (f *Formatter) formatMessage(m record.Message) Payload {
	contact := SanitizeContact(m.Counterparty)
	body := m.Body
	if body == "" {
		body = noTextPlaceholder
		if m.HasAttachment {
			body = attachmentPlaceholder
		}
	}

	vals := substitutions(contact, m.OccurredAt, "SMS", 0, body)
	subject := substitute(f.templates.MessageSubject, vals)
	text := substitute(f.templates.MessageBody, vals)

	return Payload{
		ID:         m.ID,
		OccurredAt: m.OccurredAt,
		Bytes:      f.render(m, contact, subject, text),
	}
}

func (f *Formatter) formatCall(c record.CallRecord) Payload {
	contact := SanitizeContact(c.Counterparty)
	kind := "Outgoing"
	switch c.Direction {
	case record.DirectionIncoming:
		kind = "Incoming"
	case record.DirectionMissed:
		kind = "Missed"
	}

	vals := substitutions(contact, c.OccurredAt, kind, c.Duration, "")
	subject := substitute(f.templates.CallSubject, vals)
	text := substitute(f.templates.CallBody, vals)

	return Payload{
		ID:         c.ID,
		OccurredAt: c.OccurredAt,
		Bytes:      f.render(c, contact, subject, text),
	}
}

// render produces the header block and text body.
func (f *Formatter) render(rec record.Record, contact, subject, text string) []byte {
	var b strings.Builder

	from := contact + " <" + contact + "@backup.invalid>"
	to := f.account
	if msg, ok := rec.(record.Message); ok && msg.Direction == record.DirectionOutgoing {
		from, to = f.account, contact+" <"+contact+"@backup.invalid>"
	}

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", rec.Timestamp().Format(dateLayout))
	fmt.Fprintf(&b, "Message-ID: <%s.%d@commkeep>\r\n", rec.RecordStream(), rec.RecordID())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&b, "X-Commkeep-ID: %d\r\n", rec.RecordID())
	fmt.Fprintf(&b, "X-Commkeep-Type: %s\r\n", rec.RecordStream())
	fmt.Fprintf(&b, "X-Commkeep-Captured: %d\r\n", rec.Timestamp().Unix())
	b.WriteString("\r\n")
	b.WriteString(text)
	b.WriteString("\r\n")

	return []byte(b.String())
}

func substitutions(contact string, ts time.Time, kind string, dur time.Duration, body string) map[string]string {
	return map[string]string{
		"{contact}":  contact,
		"{date}":     ts.Format("2006-01-02"),
		"{time}":     ts.Format("15:04"),
		"{type}":     kind,
		"{duration}": formatDuration(dur),
		"{body}":     body,
	}
}

// substitute applies literal find-and-replace for each known placeholder.
// Unknown placeholders are left verbatim.
func substitute(tmpl string, vals map[string]string) string {
	out := tmpl
	for key, val := range vals {
		out = strings.ReplaceAll(out, key, val)
	}
	return out
}

func formatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
