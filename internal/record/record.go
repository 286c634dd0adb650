package record

import "time"

// Stream identifies an independently checkpointed record category.
type Stream string

const (
	StreamMessages Stream = "messages"
	StreamCalls    Stream = "calls"
	StreamCalendar Stream = "calendar"
)

// Direction of a message or call relative to the device owner.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionMissed   Direction = "missed"
)

// Record is one immutable entry from the local archive. Identifiers are
// strictly increasing within a stream.
type Record interface {
	RecordID() int64
	RecordStream() Stream
	Timestamp() time.Time
	Contact() string
}

// Message is one SMS/MMS entry.
type Message struct {
	ID            int64
	OccurredAt    time.Time
	Counterparty  string
	Direction     Direction
	Body          string
	HasAttachment bool
}

func (m Message) RecordID() int64      { return m.ID }
func (m Message) RecordStream() Stream { return StreamMessages }
func (m Message) Timestamp() time.Time { return m.OccurredAt }
func (m Message) Contact() string      { return m.Counterparty }

// CallRecord is one call-log entry.
type CallRecord struct {
	ID           int64
	OccurredAt   time.Time
	Counterparty string
	Direction    Direction
	Duration     time.Duration
}

func (c CallRecord) RecordID() int64      { return c.ID }
func (c CallRecord) RecordStream() Stream { return StreamCalls }
func (c CallRecord) Timestamp() time.Time { return c.OccurredAt }
func (c CallRecord) Contact() string      { return c.Counterparty }
