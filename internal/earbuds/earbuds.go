// Package earbuds models the per-earbud battery byte reported by the device.
package earbuds

import (
	"fmt"
	"strings"
)

const (
	chargingMask = 0x80
	levelMask    = 0x7F
	maxLevel     = 100
)

// Earbud is one decoded battery byte. Level is -1 when the byte is invalid.
type Earbud struct {
	Raw      byte `json:"-"`
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
	Valid    bool `json:"valid"`
}

func FromByte(raw byte) Earbud {
	level := int(raw & levelMask)
	valid := level <= maxLevel
	e := Earbud{Raw: raw, Level: level, Charging: raw&chargingMask != 0 && valid, Valid: valid}
	if !valid {
		e.Level = -1
	}
	return e
}

func (e Earbud) String() string {
	if !e.Valid {
		return "invalid"
	}
	if e.Charging {
		return fmt.Sprintf("%d%% charging", e.Level)
	}
	return fmt.Sprintf("%d%%", e.Level)
}

// Earbuds is a full battery report.
type Earbuds struct {
	Left  Earbud `json:"left"`
	Right Earbud `json:"right"`
	Case  Earbud `json:"case"`
}

func FromBytes(left, right, caseByte byte) Earbuds {
	return Earbuds{Left: FromByte(left), Right: FromByte(right), Case: FromByte(caseByte)}
}

// Valid reports whether at least one of the three reports is usable.
func (e Earbuds) Valid() bool {
	return e.Left.Valid || e.Right.Valid || e.Case.Valid
}

// ChargingFlags packs charging state as bit0=left bit1=right bit2=case.
func (e Earbuds) ChargingFlags() uint8 {
	var f uint8
	if e.Left.Charging {
		f |= 1
	}
	if e.Right.Charging {
		f |= 2
	}
	if e.Case.Charging {
		f |= 4
	}
	return f
}

func (e Earbuds) String() string {
	parts := make([]string, 0, 3)
	if e.Left.Valid {
		parts = append(parts, "left "+e.Left.String())
	}
	if e.Right.Valid {
		parts = append(parts, "right "+e.Right.String())
	}
	if e.Case.Valid {
		parts = append(parts, "case "+e.Case.String())
	}
	if len(parts) == 0 {
		return "no battery data"
	}
	return strings.Join(parts, ", ")
}
