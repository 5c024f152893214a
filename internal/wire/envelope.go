package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldEvent   protowire.Number = 1
	fieldPayload protowire.Number = 2
	fieldFrom    protowire.Number = 3
)

// Envelope is one message on a connection.
type Envelope struct {
	Event   string
	Payload []byte
	From    string
}

// NewEnvelope marshals payload as JSON into an envelope. A nil payload
// leaves Payload empty.
func NewEnvelope(event, from string, payload any) (Envelope, error) {
	env := Envelope{Event: event, From: from}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the JSON payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Event, err)
	}
	return nil
}

// Marshal encodes the envelope in protobuf wire format.
func (e Envelope) Marshal() []byte {
	var b []byte
	if e.Event != "" {
		b = protowire.AppendTag(b, fieldEvent, protowire.BytesType)
		b = protowire.AppendString(b, e.Event)
	}
	if len(e.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload)
	}
	if e.From != "" {
		b = protowire.AppendTag(b, fieldFrom, protowire.BytesType)
		b = protowire.AppendString(b, e.From)
	}
	return b
}

// Unmarshal decodes b into e. Unknown fields are skipped.
func (e *Envelope) Unmarshal(b []byte) error {
	*e = Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("invalid envelope tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("invalid envelope field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("invalid envelope field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldEvent:
			e.Event = string(v)
		case fieldPayload:
			e.Payload = append([]byte(nil), v...)
		case fieldFrom:
			e.From = string(v)
		}
	}
	return nil
}
