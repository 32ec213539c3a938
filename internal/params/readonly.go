package params

import (
	"unicode/utf8"

	"github.com/danmuck/earlink/internal/earbuds"
	"github.com/danmuck/earlink/internal/protocol/schema"
)

type inEarCodec struct{}

// InEarState decodes the wear sensors. It cannot be written.
var InEarState Codec[earbuds.InEarState] = inEarCodec{}

func (inEarCodec) ID() uint16   { return schema.ConfigInEarState }
func (inEarCodec) Name() string { return "in_ear_state" }
func (inEarCodec) Length() int  { return 1 }

func (inEarCodec) Decode(b []byte) (earbuds.InEarState, error) {
	return earbuds.DecodeInEar(b[0]), nil
}

func (inEarCodec) Encode(earbuds.InEarState) ([]byte, error) {
	return nil, ErrReadOnly
}

type serialCodec struct{}

// SerialNumber is a fixed 20-byte UTF-8 string.
var SerialNumber Codec[string] = serialCodec{}

func (serialCodec) ID() uint16   { return schema.ConfigSerialNumber }
func (serialCodec) Name() string { return "serial_number" }
func (serialCodec) Length() int  { return 20 }

func (c serialCodec) Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", invalid(c.Name(), "not valid UTF-8")
	}
	return string(b), nil
}

func (serialCodec) Encode(string) ([]byte, error) {
	return nil, ErrReadOnly
}
