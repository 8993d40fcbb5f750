package event

import (
	"strings"
	"time"
)

type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindSystem Kind = "system"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Event is a normalized message. Immutable once created.
type Event struct {
	ID          string    `json:"id"`
	ContactRef  string    `json:"contactRef"`
	ContactName string    `json:"contactName"`
	Text        string    `json:"text"`
	Kind        Kind      `json:"kind"`
	OccurredAt  time.Time `json:"occurredAt"`
	Direction   Direction `json:"direction"`
	IsAutoReply bool      `json:"isAutoReply"`
	Failed      bool      `json:"failed,omitempty"` // outbound send that exhausted retries
}

// RawEvent is what a driver hands over before normalization: contact
// identity, text, timestamp and enough hints to classify direction and kind.
type RawEvent struct {
	ID          string
	ContactRef  string
	ContactName string
	Text        string
	Timestamp   time.Time
	Outbound    bool
	HasImage    bool
	System      bool
}

// Normalize converts a RawEvent to an Event. The same logic serves the
// poller and the history fetcher so kind/direction detection lives in one
// place.
func Normalize(raw RawEvent) Event {
	kind := KindText
	switch {
	case raw.System:
		kind = KindSystem
	case raw.HasImage:
		kind = KindImage
	}

	dir := Inbound
	if raw.Outbound {
		dir = Outbound
	}

	name := strings.TrimSpace(raw.ContactName)
	if name == "" {
		name = raw.ContactRef
	}

	return Event{
		ID:          strings.TrimSpace(raw.ID),
		ContactRef:  strings.TrimSpace(raw.ContactRef),
		ContactName: name,
		Text:        raw.Text,
		Kind:        kind,
		OccurredAt:  raw.Timestamp,
		Direction:   dir,
	}
}
