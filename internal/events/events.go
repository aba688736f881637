package events

import (
	"encoding/json"
	"fmt"
)

const (
	NameAdd     = "cart:add"
	NameSet     = "cart:set"
	NameHydrate = "cart:hydrate"
)

// Event is the closed set of cart notifications.
type Event interface {
	Name() string
	sealed()
}

// CountDelta means Qty units were just added to some line.
type CountDelta struct {
	Qty int `json:"qty"`
}

// CountAbsolute carries the authoritative total count.
type CountAbsolute struct {
	Count int `json:"count"`
}

// HydrateRequest asks consumers to re-read the full cart from storage.
// Origin names the publisher so it can ignore its own request.
type HydrateRequest struct {
	Origin string `json:"-"`
}

func (CountDelta) Name() string     { return NameAdd }
func (CountAbsolute) Name() string  { return NameSet }
func (HydrateRequest) Name() string { return NameHydrate }

func (CountDelta) sealed()     {}
func (CountAbsolute) sealed()  {}
func (HydrateRequest) sealed() {}

// Encode returns the event name and its JSON payload.
func Encode(ev Event) (string, []byte, error) {
	if ev == nil {
		return "", nil, fmt.Errorf("nil event")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return ev.Name(), payload, nil
}

// Decode rebuilds an event from its name and JSON payload. An empty payload is
// accepted for every kind.
func Decode(name string, payload []byte) (Event, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	switch name {
	case NameAdd:
		var ev CountDelta
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return ev, nil
	case NameSet:
		var ev CountAbsolute
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return ev, nil
	case NameHydrate:
		return HydrateRequest{}, nil
	}
	return nil, fmt.Errorf("unknown event %q", name)
}
