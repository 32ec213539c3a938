package tlv

import (
	"errors"
	"fmt"
)

// Width is the number of tag bytes carried by each record.
type Width int

const (
	Tag8  Width = 1
	Tag16 Width = 2
)

// MaxRecordLen is the largest tag+value size the one-byte length can carry.
const MaxRecordLen = 0xFF

var (
	ErrShortRecordHeader = errors.New("tlv: short record header")
	ErrShortRecordValue  = errors.New("tlv: short record value")
	ErrRecordLength      = errors.New("tlv: record length smaller than tag")
	ErrValueTooLarge     = errors.New("tlv: value too large")
	ErrInvalidWidth      = errors.New("tlv: invalid tag width")
)

// Record is one length-prefixed record: [len, tag..., value...] where len
// counts the tag and value bytes.
type Record struct {
	Tag   uint16
	Value []byte
}

func EncodeRecord(w Width, r Record) ([]byte, error) {
	if w != Tag8 && w != Tag16 {
		return nil, ErrInvalidWidth
	}
	n := int(w) + len(r.Value)
	if n > MaxRecordLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(r.Value))
	}
	if w == Tag8 && r.Tag > 0xFF {
		return nil, fmt.Errorf("tlv: tag 0x%X does not fit one byte", r.Tag)
	}
	buf := make([]byte, 0, 1+n)
	buf = append(buf, byte(n))
	if w == Tag16 {
		buf = append(buf, byte(r.Tag>>8))
	}
	buf = append(buf, byte(r.Tag))
	buf = append(buf, r.Value...)
	return buf, nil
}

func EncodeRecords(w Width, records []Record) ([]byte, error) {
	out := make([]byte, 0)
	for _, r := range records {
		b, err := EncodeRecord(w, r)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeRecords parses records until payload is exhausted. A truncated tail
// stops parsing; the records decoded before it are returned with the error.
func DecodeRecords(w Width, payload []byte) ([]Record, error) {
	if w != Tag8 && w != Tag16 {
		return nil, ErrInvalidWidth
	}
	records := make([]Record, 0)
	i := 0
	for i < len(payload) {
		n := int(payload[i])
		if n < int(w) {
			return records, fmt.Errorf("%w: len=%d at offset %d", ErrRecordLength, n, i)
		}
		if len(payload)-i-1 < int(w) {
			return records, ErrShortRecordHeader
		}
		if len(payload)-i-1 < n {
			return records, fmt.Errorf("%w: want %d have %d", ErrShortRecordValue, n, len(payload)-i-1)
		}
		var tag uint16
		if w == Tag16 {
			tag = uint16(payload[i+1])<<8 | uint16(payload[i+2])
		} else {
			tag = uint16(payload[i+1])
		}
		val := make([]byte, n-int(w))
		copy(val, payload[i+1+int(w):i+1+n])
		records = append(records, Record{Tag: tag, Value: val})
		i += 1 + n
	}
	return records, nil
}

// DecodeMap is DecodeRecords keyed by tag; a repeated tag keeps the last value.
func DecodeMap(w Width, payload []byte) (map[uint16][]byte, error) {
	records, err := DecodeRecords(w, payload)
	out := make(map[uint16][]byte, len(records))
	for _, r := range records {
		out[r.Tag] = r.Value
	}
	return out, err
}

func GetRecord(records []Record, tag uint16) (Record, bool) {
	for _, r := range records {
		if r.Tag == tag {
			return r, true
		}
	}
	return Record{}, false
}
