package earbuds

import "testing"

func TestFromByte(t *testing.T) {
	cases := []struct {
		raw      byte
		level    int
		charging bool
		valid    bool
	}{
		{raw: 0x64, level: 100, charging: false, valid: true},
		{raw: 0xB2, level: 50, charging: true, valid: true},
		{raw: 0x00, level: 0, charging: false, valid: true},
		{raw: 0x7F, level: -1, charging: false, valid: false},
		{raw: 0xFF, level: -1, charging: false, valid: false},
	}
	for _, tc := range cases {
		got := FromByte(tc.raw)
		if got.Level != tc.level || got.Charging != tc.charging || got.Valid != tc.valid {
			t.Fatalf("FromByte(0x%02X) got=%+v", tc.raw, got)
		}
	}
}

func TestEarbudsSummary(t *testing.T) {
	e := FromBytes(0x55, 0xE4, 0xFF)
	if !e.Valid() {
		t.Fatalf("expected valid report")
	}
	if e.ChargingFlags() != 2 {
		t.Fatalf("unexpected charging flags: %b", e.ChargingFlags())
	}
	if got := e.String(); got != "left 85%, right 100% charging" {
		t.Fatalf("unexpected summary: %q", got)
	}
	if FromBytes(0xFF, 0xFF, 0xFF).Valid() {
		t.Fatalf("expected invalid report")
	}
}
