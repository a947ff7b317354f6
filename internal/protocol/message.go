// Package protocol defines the binary wire messages exchanged between
// the editor client and the synchronization server. Messages are CBOR
// encoded: a small envelope carrying a kind tag and a payload.
package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"quillsync/internal/ot"
)

type Kind string

const (
	// Client to server.
	KindEdit Kind = "edit"

	// Server to client.
	KindInit      Kind = "init"
	KindHistory   Kind = "history"
	KindAck       Kind = "ack"
	KindOutOfSync Kind = "out_of_sync"
)

var ErrMalformedMessage = errors.New("malformed wire message")

type Message struct {
	Kind    Kind            `cbor:"kind"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}

// EditPayload submits an operation produced against the document as it
// was at BaseRevision.
type EditPayload struct {
	BaseRevision uint64        `cbor:"base_revision"`
	Operation    *ot.Operation `cbor:"operation"`
}

// InitPayload seeds a fresh connection with the current document state.
type InitPayload struct {
	Text     string `cbor:"text"`
	Revision uint64 `cbor:"revision"`
}

// HistoryPayload carries accepted operations in log order; the first
// entry produced revision StartRevision+1.
type HistoryPayload struct {
	StartRevision uint64          `cbor:"start_revision"`
	Operations    []*ot.Operation `cbor:"operations"`
}

// AckPayload acknowledges the sender's outstanding operation.
type AckPayload struct {
	UpToRevision uint64 `cbor:"up_to_revision"`
}

// NewMessage wraps payload into an envelope of the given kind. A nil
// payload produces a bare envelope, as used by out_of_sync.
func NewMessage(kind Kind, payload interface{}) (*Message, error) {
	m := &Message{Kind: kind}
	if payload != nil {
		data, err := cbor.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.Payload = data
	}
	return m, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return fmt.Errorf("%w: %s message has no payload", ErrMalformedMessage, m.Kind)
	}
	if err := cbor.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

func Encode(m *Message) ([]byte, error) {
	return cbor.Marshal(m)
}

func Decode(data []byte) (*Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformedMessage)
	}
	return &m, nil
}
