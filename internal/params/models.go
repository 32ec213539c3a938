package params

import (
	"fmt"

	"github.com/danmuck/earlink/internal/protocol"
)

// Model is the static feature table entry for one vendor/product pair.
type Model struct {
	Name string `json:"name"`
	// equalizer holds raw mode values as shipped by the vendor; values that
	// are not EqualizerMode members are filtered on lookup.
	equalizer    []uint8
	InEarGesture bool `json:"in_ear_gesture"`
}

const (
	vendorXiaomi uint16 = 0x2717
	vendorRedmi  uint16 = 0x5A4D
)

func xiaomi(pid uint16) protocol.VidPid { return protocol.VidPid{Vendor: vendorXiaomi, Product: pid} }
func redmi(pid uint16) protocol.VidPid { return protocol.VidPid{Vendor: vendorRedmi, Product: pid} }

var (
	eqBasic    = []uint8{0, 1, 5, 6}
	eqBasic10  = []uint8{0, 1, 5, 6, 10}
	eqVolume   = []uint8{0, 1, 5, 6, 7}
	eqBuds5    = []uint8{1, 6, 10, 11, 13, 14}
	eqBuds5Pro = []uint8{1, 6, 10, 12, 13, 14, 15}
)

var models = map[protocol.VidPid]Model{
	xiaomi(0x5025): {Name: "Xiaomi Buds 3 Pro"},
	xiaomi(0x5026): {Name: "Xiaomi Buds 3"},
	xiaomi(0x5027): {Name: "Redmi Buds 3"},
	xiaomi(0x502A): {Name: "Redmi Buds 3"},
	xiaomi(0x502B): {Name: "Xiaomi Buds 3"},
	xiaomi(0x502D): {Name: "Xiaomi Buds 3T Pro"},
	xiaomi(0x5034): {Name: "Redmi Buds 4"},
	xiaomi(0x5035): {Name: "Xiaomi Buds 4 Pro", equalizer: []uint8{0, 1, 5, 6, 11, 12}, InEarGesture: true},
	xiaomi(0x5037): {Name: "Redmi Buds 4"},
	xiaomi(0x503B): {Name: "Xiaomi Buds 4 Pro", equalizer: []uint8{0, 5, 6, 12}, InEarGesture: true},
	xiaomi(0x5044): {Name: "Xiaomi Buds 4"},
	xiaomi(0x505A): {Name: "Xiaomi Buds 3 Star Wars"},
	xiaomi(0x505D): {Name: "Redmi Buds 4 Harry Potter"},
	xiaomi(0x505E): {Name: "Xiaomi Buds 3 Star Wars"},
	xiaomi(0x505F): {Name: "Redmi Buds 4 Active"},
	xiaomi(0x5066): {Name: "Xiaomi Buds 3 Disney"},
	xiaomi(0x5069): {Name: "Redmi Buds 4 Active"},
	xiaomi(0x506A): {Name: "Redmi Buds 5", equalizer: eqBasic},
	xiaomi(0x506B): {Name: "Redmi Buds 5 AAPE", equalizer: eqBasic},
	xiaomi(0x506C): {Name: "Redmi Buds 5 Pro", equalizer: eqBasic10, InEarGesture: true},
	xiaomi(0x506D): {Name: "Redmi Buds 5 Pro", equalizer: eqBasic10, InEarGesture: true},
	xiaomi(0x506F): {Name: "Redmi Buds 5 Pro Gaming", equalizer: eqBasic10, InEarGesture: true},
	xiaomi(0x5075): {Name: "Redmi Buds 5", equalizer: eqBasic},
	xiaomi(0x507F): {Name: "Xiaomi OpenWear Stereo", equalizer: []uint8{0, 1, 6}},
	xiaomi(0x5080): {Name: "Xiaomi OpenWear Stereo", equalizer: []uint8{0, 1, 6}},
	xiaomi(0x5081): {Name: "Xiaomi Buds 5", equalizer: eqBuds5, InEarGesture: true},
	xiaomi(0x5082): {Name: "Xiaomi Buds 5", equalizer: eqBuds5, InEarGesture: true},
	xiaomi(0x5088): {Name: "Redmi Buds 6 Active", equalizer: eqVolume},
	xiaomi(0x5089): {Name: "Redmi Buds 6 Active", equalizer: eqVolume},
	xiaomi(0x508A): {Name: "Redmi Buds 6 Lite", equalizer: eqBasic10},
	xiaomi(0x508B): {Name: "Redmi Buds 6 Lite", equalizer: eqBasic10},
	xiaomi(0x5095): {Name: "Redmi Buds 6S", equalizer: eqBasic},
	xiaomi(0x509A): {Name: "REDMI Buds SE", equalizer: eqVolume},
	xiaomi(0x509B): {Name: "Redmi Buds 6 Play", equalizer: eqVolume},
	xiaomi(0x509C): {Name: "Xiaomi Air4 SE", equalizer: eqVolume},
	xiaomi(0x509D): {Name: "REDMI Buds 6 Pro", equalizer: eqBasic10, InEarGesture: true},
	xiaomi(0x509E): {Name: "Redmi Buds 6 Pro", equalizer: eqBasic10, InEarGesture: true},
	xiaomi(0x509F): {Name: "Redmi Buds 6", equalizer: eqBasic10},
	xiaomi(0x50A0): {Name: "Redmi Buds 6", equalizer: eqBasic10},
	xiaomi(0x50AB): {Name: "Xiaomi Buds 5 Pro Wi-Fi", equalizer: eqBuds5Pro, InEarGesture: true},
	xiaomi(0x50AC): {Name: "Xiaomi Buds 5 Pro Wi-Fi", equalizer: eqBuds5Pro, InEarGesture: true},
	xiaomi(0x50AD): {Name: "Xiaomi Buds 5 Pro", equalizer: eqBuds5Pro, InEarGesture: true},
	xiaomi(0x50AF): {Name: "REDMI Buds 6 Pro Gaming", equalizer: eqBasic10, InEarGesture: true},
	xiaomi(0x50B4): {Name: "Xiaomi Buds 5 Pro", equalizer: eqBuds5Pro, InEarGesture: true},
	xiaomi(0x50B9): {Name: "REDMI Buds 7S", equalizer: []uint8{0, 1, 5, 6, 7, 10}},
	redmi(0xEA03):  {Name: "Redmi AirDots 3 Pro", equalizer: eqBasic, InEarGesture: true},
	redmi(0xEA0D):  {Name: "Redmi AirDots 3 Pro Genshin Impact", equalizer: eqBasic, InEarGesture: true},
	redmi(0xEA0E):  {Name: "Redmi Buds 4 Pro", equalizer: eqBasic, InEarGesture: true},
	redmi(0xEA0F):  {Name: "Redmi Buds 4 Pro", equalizer: eqBasic, InEarGesture: true},
}

// LookupModel returns the table entry for id.
func LookupModel(id protocol.VidPid) (Model, bool) {
	m, ok := models[id]
	return m, ok
}

// ModelName returns a display name, falling back to the raw ids.
func ModelName(id protocol.VidPid) string {
	if m, ok := models[id]; ok {
		return m.Name
	}
	return fmt.Sprintf("Unknown Device (%s)", id)
}

// SupportedEqualizerModes filters the full mode list down to what id
// offers. Unknown models and models without a list get only
// EqualizerDefault.
func SupportedEqualizerModes(id protocol.VidPid) []EqualizerMode {
	m, ok := models[id]
	if !ok || len(m.equalizer) == 0 {
		return []EqualizerMode{EqualizerDefault}
	}
	out := make([]EqualizerMode, 0, len(m.equalizer))
	for _, v := range m.equalizer {
		mode := EqualizerMode(v)
		if equalizerNames.known(mode) {
			out = append(out, mode)
		}
	}
	return out
}

func SupportsInEarGesture(id protocol.VidPid) bool {
	return models[id].InEarGesture
}
