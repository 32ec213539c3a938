package bytesutil

import (
	"bytes"
	"errors"
	"testing"
)

func TestEndianPacking(t *testing.T) {
	if got := PutU16BE(0x1234); !bytes.Equal(got, []byte{0x12, 0x34}) {
		t.Fatalf("u16be: %x", got)
	}
	if got := PutU16LE(0x1234); !bytes.Equal(got, []byte{0x34, 0x12}) {
		t.Fatalf("u16le: %x", got)
	}
	if got := PutU32BE(0xA1B2C3D4); !bytes.Equal(got, []byte{0xA1, 0xB2, 0xC3, 0xD4}) {
		t.Fatalf("u32be: %x", got)
	}
	if got := PutU32LE(0xA1B2C3D4); !bytes.Equal(got, []byte{0xD4, 0xC3, 0xB2, 0xA1}) {
		t.Fatalf("u32le: %x", got)
	}
	if v, err := U16BE([]byte{0x27, 0x17}); err != nil || v != 0x2717 {
		t.Fatalf("U16BE got=%x err=%v", v, err)
	}
	if v, err := U32LE([]byte{0xD4, 0xC3, 0xB2, 0xA1}); err != nil || v != 0xA1B2C3D4 {
		t.Fatalf("U32LE got=%x err=%v", v, err)
	}
	if _, err := U32BE([]byte{1, 2}); !errors.Is(err, ErrShort) {
		t.Fatalf("expected ErrShort, got %v", err)
	}
	if Join(High(0xBEEF), Low(0xBEEF)) != 0xBEEF {
		t.Fatalf("join/high/low mismatch")
	}
}

func TestHex(t *testing.T) {
	if got := HexSpaced([]byte{0xFE, 0xDC, 0xBA}); got != "FE DC BA" {
		t.Fatalf("hex spaced: %q", got)
	}
	if got := Hex([]byte{0x0a, 0xff}); got != "0aff" {
		t.Fatalf("hex: %q", got)
	}
	b, err := ParseHex("0xFE:DC ba")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if !bytes.Equal(b, []byte{0xFE, 0xDC, 0xBA}) {
		t.Fatalf("parse hex mismatch: %x", b)
	}
	if _, err := ParseHex("zz"); err == nil {
		t.Fatalf("expected parse error")
	}
}
