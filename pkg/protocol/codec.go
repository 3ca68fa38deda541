package protocol

import (
	"encoding/json"
	"fmt"
)

// Codec converts messages to and from bytes.
type Codec interface {
	// Name identifies the codec in configuration and logs.
	Name() string
	Marshal(m *Message) ([]byte, error)
	// Unmarshal returns a *DecodeError for malformed payloads.
	Unmarshal(data []byte) (*Message, error)
}

// Built-in codecs.
var (
	JSON   Codec = jsonCodec{}
	Binary Codec = binaryCodec{}
)

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case Binary.Name():
		return Binary, nil
	default:
		return nil, fmt.Errorf("protocol: unknown codec %q", name)
	}
}

// DecodeError reports a payload that could not be turned into a message.
// The stream it came from is still usable; readers skip the message.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: %s decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (c jsonCodec) Unmarshal(data []byte) (*Message, error) {
	m := new(Message)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	return m, nil
}

type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }

func (binaryCodec) Marshal(m *Message) ([]byte, error) {
	f, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	return f.Encode(), nil
}

func (c binaryCodec) Unmarshal(data []byte) (*Message, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	return DecodeMessage(f)
}
