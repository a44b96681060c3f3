package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status int

const (
	Idle Status = iota
	Listening
	Thinking
	Speaking
	Error
)

var statusNames = [...]string{
	Idle:      "IDLE",
	Listening: "LISTENING",
	Thinking:  "THINKING",
	Speaking:  "SPEAKING",
	Error:     "ERROR",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(b)) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// AllStatuses lists every status name, in order.
func AllStatuses() []string {
	return append([]string(nil), statusNames[:]...)
}

type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

// Entry is one line of the conversation log.
type Entry struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

type EventKind string

const (
	StatusChanged EventKind = "status"
	EntryAdded    EventKind = "entry"
	LogCleared    EventKind = "cleared"
	Transcribed   EventKind = "transcript"
	Failed        EventKind = "error"
)

// Event is a notification for the presentation layer. Status is set on
// every event; Entry only for EntryAdded; Text for Transcribed and Failed.
type Event struct {
	Kind   EventKind `json:"kind"`
	Status Status    `json:"status"`
	Entry  *Entry    `json:"entry,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	Status     Status  `json:"status"`
	Transcript string  `json:"transcript,omitempty"`
	Error      string  `json:"error,omitempty"`
	History    []Entry `json:"history"`
}
