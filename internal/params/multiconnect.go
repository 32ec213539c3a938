package params

import "github.com/danmuck/earlink/internal/protocol/schema"

// toggle is a boolean config with fixed on and off bytes.
type toggle struct {
	id   uint16
	name string
	on   byte
	off  byte
}

// MultiConnect reports whether the headset keeps two hosts connected.
var MultiConnect Codec[bool] = toggle{id: schema.ConfigMultiConnect, name: "multi_connect", on: 0x01, off: 0x00}

func (t toggle) ID() uint16   { return t.id }
func (t toggle) Name() string { return t.name }
func (t toggle) Length() int  { return 1 }

func (t toggle) Decode(b []byte) (bool, error) {
	switch b[0] {
	case t.on:
		return true, nil
	case t.off:
		return false, nil
	}
	return false, invalid(t.name, "value 0x%02X", b[0])
}

func (t toggle) Encode(v bool) ([]byte, error) {
	if v {
		return []byte{t.on}, nil
	}
	return []byte{t.off}, nil
}
