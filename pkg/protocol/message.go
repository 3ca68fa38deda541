package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vango-dev/treesync/pkg/markup"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	// TypeNewDocument carries a full serialized document.
	TypeNewDocument MessageType = "newDocument"
	// TypeDocumentDiff carries an edit script against the last state.
	TypeDocumentDiff MessageType = "documentDiff"
	// TypeStatusChange carries a session status.
	TypeStatusChange MessageType = "statusChange"
	// TypeOpen carries the options of the document a client wants.
	TypeOpen MessageType = "open"
)

// ErrUnknownMessageType is returned for messages of an unknown type.
var ErrUnknownMessageType = errors.New("protocol: unknown message type")

// Message is one unit of the sync protocol. Exactly one payload field is
// set, selected by Type.
type Message struct {
	Type     MessageType
	Document *markup.Record
	Script   markup.Script
	Status   Status
	Open     OpenOptions
}

// NewDocumentMessage serializes root into a newDocument message.
func NewDocumentMessage(root *markup.Node) *Message {
	return &Message{Type: TypeNewDocument, Document: markup.Serialize(root)}
}

// DocumentDiffMessage wraps an edit script.
func DocumentDiffMessage(script markup.Script) *Message {
	return &Message{Type: TypeDocumentDiff, Script: script}
}

// StatusChangeMessage wraps a status.
func StatusChangeMessage(s Status) *Message {
	return &Message{Type: TypeStatusChange, Status: s}
}

// OpenMessage wraps open options.
func OpenMessage(o OpenOptions) *Message {
	return &Message{Type: TypeOpen, Open: o}
}

// Validate checks that the payload matches the type.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeNewDocument:
		if m.Document == nil {
			return fmt.Errorf("protocol: %s without document", m.Type)
		}
	case TypeDocumentDiff:
		for i, a := range m.Script {
			if !a.Op.Valid() {
				return fmt.Errorf("protocol: action %d: %w", i, markup.ErrUnknownOp)
			}
		}
	case TypeStatusChange:
		if !m.Status.Type.Valid() {
			return fmt.Errorf("protocol: invalid status %d", m.Status.Type)
		}
	case TypeOpen:
		return m.Open.Validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	return nil
}

// String returns a compact description for logs.
func (m *Message) String() string {
	switch m.Type {
	case TypeDocumentDiff:
		return fmt.Sprintf("%s(%d actions)", m.Type, len(m.Script))
	case TypeStatusChange:
		return fmt.Sprintf("%s(%s)", m.Type, m.Status)
	case TypeOpen:
		return fmt.Sprintf("%s(%s)", m.Type, m.Open.URL)
	default:
		return string(m.Type)
	}
}

type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON renders the message as {"type": ..., "data": ...}.
func (m *Message) MarshalJSON() ([]byte, error) {
	var payload any
	switch m.Type {
	case TypeNewDocument:
		payload = m.Document
	case TypeDocumentDiff:
		script := m.Script
		if script == nil {
			script = markup.Script{}
		}
		payload = script
	case TypeStatusChange:
		payload = m.Status
	case TypeOpen:
		payload = m.Open
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: m.Type, Data: data})
}

// UnmarshalJSON parses the {"type": ..., "data": ...} form.
func (m *Message) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	out := Message{Type: env.Type}
	var target any
	switch env.Type {
	case TypeNewDocument:
		out.Document = new(markup.Record)
		target = out.Document
	case TypeDocumentDiff:
		target = &out.Script
	case TypeStatusChange:
		target = &out.Status
	case TypeOpen:
		target = &out.Open
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("protocol: %s without data", env.Type)
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return err
	}
	*m = out
	return nil
}
