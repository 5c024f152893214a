package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of the envelope codec.
const CodecName = "coordsync-envelope"

// Codec marshals *Envelope values for gRPC.
type Codec struct{}

func init() {
	encoding.RegisterCodec(Codec{})
}

func (Codec) Name() string {
	return CodecName
}

func (Codec) Marshal(v any) ([]byte, error) {
	switch env := v.(type) {
	case *Envelope:
		return env.Marshal(), nil
	case Envelope:
		return env.Marshal(), nil
	default:
		return nil, fmt.Errorf("codec %s: cannot marshal %T", CodecName, v)
	}
}

func (Codec) Unmarshal(data []byte, v any) error {
	env, ok := v.(*Envelope)
	if !ok {
		return fmt.Errorf("codec %s: cannot unmarshal into %T", CodecName, v)
	}
	return env.Unmarshal(data)
}
