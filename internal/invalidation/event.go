// Package invalidation defines the events that announce new or reprocessed
// imagery in a remote collection.
package invalidation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const OpCollectionUpdated = "collection_updated"

// Event says the images of Collection changed. Seq increases per collection
// and lets consumers drop replays; 0 means unsequenced.
type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	Collection string    `json:"collection"`
	Seq        uint64    `json:"seq,omitempty"`
	TS         time.Time `json:"ts"`
	Source     string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if e.Op != OpCollectionUpdated {
		return fmt.Errorf("op must be %s", OpCollectionUpdated)
	}
	if strings.TrimSpace(e.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// Decode parses and validates one event.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode: %w", err)
	}
	e.Collection = strings.TrimSpace(e.Collection)
	if err := e.Validate(); err != nil {
		return Event{}, fmt.Errorf("validate: %w", err)
	}
	return e, nil
}
