// Package bytesutil holds the integer packing and hex helpers shared by the
// wire codecs.
package bytesutil

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrShort = errors.New("bytesutil: short buffer")

func PutU16BE(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func PutU16LE(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

func PutU32BE(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func PutU32LE(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func U16BE(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: want 2 bytes, have %d", ErrShort, len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

func U16LE(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: want 2 bytes, have %d", ErrShort, len(b))
	}
	return binary.LittleEndian.Uint16(b), nil
}

func U32BE(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: want 4 bytes, have %d", ErrShort, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func U32LE(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: want 4 bytes, have %d", ErrShort, len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

// High and Low split a 16-bit value into its wire bytes.
func High(v uint16) byte { return byte(v >> 8) }
func Low(v uint16) byte  { return byte(v) }

// Join is the inverse of High/Low.
func Join(hi, lo byte) uint16 {
	return uint16(hi)<<8 | uint16(lo)
}

// Hex renders b as lowercase hex without separators.
func Hex(b []byte) string {
	return hex.EncodeToString(b)
}

// HexSpaced renders b as upper-case hex pairs separated by spaces, the form
// used in frame logs.
func HexSpaced(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

// ParseHex accepts hex with optional whitespace, colons, or a 0x prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bytesutil: parse hex: %w", err)
	}
	return out, nil
}
