package wire

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEnvelope_MarshalLayout(t *testing.T) {
	env := Envelope{Event: "get_clients", From: "n1"}

	want := []byte{0x0a, 0x0b}
	want = append(want, "get_clients"...)
	want = append(want, 0x1a, 0x02)
	want = append(want, "n1"...)

	if got := env.Marshal(); !bytes.Equal(got, want) {
		t.Errorf("Expected %x, got %x", want, got)
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	in, err := NewEnvelope(EventInsertResponse, "c1", Response{Identifier: "notes", ExternalID: 3})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	var out Envelope
	if err := out.Unmarshal(in.Marshal()); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Event != in.Event || out.From != in.From || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("Expected %+v, got %+v", in, out)
	}

	var resp Response
	if err := out.Decode(&resp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if resp.ExternalID != 3 || resp.ProposedID != 0 {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestEnvelope_SkipsUnknownFields(t *testing.T) {
	b := Envelope{Event: EventGetClients}.Marshal()
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")

	var env Envelope
	if err := env.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if env.Event != EventGetClients {
		t.Errorf("Expected event to survive unknown fields, got %q", env.Event)
	}
}

func TestEnvelope_Truncated(t *testing.T) {
	b := Envelope{Event: EventGetData, Payload: []byte(`{}`)}.Marshal()

	var env Envelope
	if err := env.Unmarshal(b[:len(b)-1]); err == nil {
		t.Error("Expected error for truncated envelope")
	}
}

func TestEnvelope_DecodeEmpty(t *testing.T) {
	env, _ := NewEnvelope(EventGetClients, "n1", nil)
	var v Validated
	if err := env.Decode(&v); err == nil {
		t.Error("Expected error decoding empty payload")
	}
}

func TestCodec(t *testing.T) {
	c := Codec{}
	if c.Name() != CodecName {
		t.Errorf("Unexpected codec name %q", c.Name())
	}

	data, err := c.Marshal(&Envelope{Event: EventDisconnect})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var env Envelope
	if err := c.Unmarshal(data, &env); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if env.Event != EventDisconnect {
		t.Errorf("Expected %q, got %q", EventDisconnect, env.Event)
	}

	if _, err := c.Marshal("nope"); err == nil {
		t.Error("Expected error marshaling a foreign type")
	}
}

func TestEvents(t *testing.T) {
	tests := []struct {
		changeType string
		request    string
		response   string
	}{
		{"insert", EventInsertRequest, EventInsertResponse},
		{"update", EventUpdateRequest, EventUpdateResponse},
		{"delete", EventDeleteRequest, EventDeleteResponse},
	}
	for _, tt := range tests {
		if RequestEvent(tt.changeType) != tt.request {
			t.Errorf("RequestEvent(%s) = %s", tt.changeType, RequestEvent(tt.changeType))
		}
		if ResponseEvent(tt.changeType) != tt.response {
			t.Errorf("ResponseEvent(%s) = %s", tt.changeType, ResponseEvent(tt.changeType))
		}
		if ChangeTypeOf(tt.request) != tt.changeType || ChangeTypeOf(tt.response) != tt.changeType {
			t.Errorf("ChangeTypeOf mismatch for %s", tt.changeType)
		}
		if !IsRequest(tt.request) || IsRequest(tt.response) || !IsResponse(tt.response) {
			t.Errorf("IsRequest/IsResponse mismatch for %s", tt.changeType)
		}
	}
	if ChangeTypeOf(EventGetData) != "" {
		t.Error("Expected no change type for get_data")
	}
}
