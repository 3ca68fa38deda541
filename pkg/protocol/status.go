package protocol

import (
	"fmt"
	"strconv"
)

// StatusType is the lifecycle state of a document session or replica.
type StatusType uint8

const (
	StatusIdle      StatusType = 0x00
	StatusLoading   StatusType = 0x01
	StatusCompleted StatusType = 0x02
	StatusError     StatusType = 0x03
)

var statusNames = [...]string{
	StatusIdle:      "idle",
	StatusLoading:   "loading",
	StatusCompleted: "completed",
	StatusError:     "error",
}

// String returns the wire name of the status type.
func (t StatusType) String() string {
	if t.Valid() {
		return statusNames[t]
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known status type.
func (t StatusType) Valid() bool {
	return int(t) < len(statusNames)
}

// MarshalText implements encoding.TextMarshaler.
func (t StatusType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("protocol: unknown status type %d", t)
	}
	return []byte(statusNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *StatusType) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*t = StatusType(i)
			return nil
		}
	}
	return fmt.Errorf("protocol: unknown status type %q", b)
}

// Status is a lifecycle state with an optional payload. For StatusError the
// payload is the failure message.
type Status struct {
	Type StatusType `json:"type"`
	Data string     `json:"data,omitempty"`
}

// Idle, Loading and Completed build statuses without a payload.
func Idle() Status      { return Status{Type: StatusIdle} }
func Loading() Status   { return Status{Type: StatusLoading} }
func Completed() Status { return Status{Type: StatusCompleted} }

// Failed builds an error status carrying err's message.
func Failed(err error) Status {
	s := Status{Type: StatusError}
	if err != nil {
		s.Data = err.Error()
	}
	return s
}

// String returns a compact description for logs.
func (s Status) String() string {
	if s.Data == "" {
		return s.Type.String()
	}
	return s.Type.String() + "(" + s.Data + ")"
}

// ValidTransition reports whether a session may move from one status to
// another. Staying in the same state is always allowed.
//
//	idle      → loading
//	loading   → completed | error
//	completed → loading | error
//	error     → loading
func ValidTransition(from, to StatusType) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusIdle:
		return to == StatusLoading
	case StatusLoading:
		return to == StatusCompleted || to == StatusError
	case StatusCompleted:
		return to == StatusLoading || to == StatusError
	case StatusError:
		return to == StatusLoading
	}
	return false
}
