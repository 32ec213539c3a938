package params

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/earlink/internal/protocol"
)

// Entry is the untyped view of one codec, used by the admin surfaces.
type Entry struct {
	ID       uint16 `json:"id"`
	Name     string `json:"name"`
	ReadOnly bool   `json:"read_only"`

	get    func(ctx context.Context, r protocol.Requester, deviceID string) (any, error)
	set    func(ctx context.Context, r protocol.Requester, deviceID string, raw json.RawMessage) (bool, error)
	decode func(raw []byte) (any, error)
}

func entryOf[T any](c Codec[T], readOnly bool) Entry {
	return Entry{
		ID:       c.ID(),
		Name:     c.Name(),
		ReadOnly: readOnly,
		get: func(ctx context.Context, r protocol.Requester, deviceID string) (any, error) {
			return Get(ctx, r, deviceID, c)
		},
		set: func(ctx context.Context, r protocol.Requester, deviceID string, raw json.RawMessage) (bool, error) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return false, invalid(c.Name(), "%v", err)
			}
			return Set(ctx, r, deviceID, c, v)
		},
		decode: func(raw []byte) (any, error) {
			return Decode(c, raw)
		},
	}
}

// Get reads the typed value of e from deviceID.
func (e Entry) Get(ctx context.Context, r protocol.Requester, deviceID string) (any, error) {
	return e.get(ctx, r, deviceID)
}

// Set decodes a JSON value for e and writes it.
func (e Entry) Set(ctx context.Context, r protocol.Requester, deviceID string, raw json.RawMessage) (bool, error) {
	if e.ReadOnly {
		return false, fmt.Errorf("%s: %w", e.Name, ErrReadOnly)
	}
	return e.set(ctx, r, deviceID, raw)
}

// DecodeRaw decodes a raw config value, as carried by a config-change
// notification.
func (e Entry) DecodeRaw(raw []byte) (any, error) {
	return e.decode(raw)
}

var registry = func() map[uint16]Entry {
	entries := []Entry{
		entryOf(Gesture, false),
		entryOf(MultiConnect, false),
		entryOf(Equalizer, false),
		entryOf(FindEarbuds, false),
		entryOf(NoiseCancellationList, false),
		entryOf(NoiseCancellationMode, false),
		entryOf(InEarState, true),
		entryOf(SerialNumber, true),
	}
	m := make(map[uint16]Entry, len(entries))
	for _, e := range entries {
		m[e.ID] = e
	}
	return m
}()

// ByID returns the entry registered for a config id.
func ByID(id uint16) (Entry, bool) {
	e, ok := registry[id]
	return e, ok
}

// Lookup resolves a codec name or a numeric id such as "0x0007".
func Lookup(key string) (Entry, error) {
	key = strings.TrimSpace(strings.ToLower(key))
	for _, e := range registry {
		if e.Name == key {
			return e, nil
		}
	}
	if id, err := strconv.ParseUint(key, 0, 16); err == nil {
		if e, ok := registry[uint16(id)]; ok {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnknown, key)
}

// Entries lists every registered codec ordered by id.
func Entries() []Entry {
	out := make([]Entry, 0, len(registry))
	for _, e := range registry {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
