// Package events defines the run-summary event emitted after each retrieval.
package events

import "time"

type Event struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Outcome    string    `json:"outcome"`
	Partitions int       `json:"partitions"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Fetched    int       `json:"fetched"`
	Records    int       `json:"records"`
	Failures   []string  `json:"failures,omitempty"`
	Bound      []float64 `json:"bbox,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	TS         time.Time `json:"ts"`
}

// Publisher must not block the caller.
type Publisher interface {
	Publish(ev Event)
}

type Nop struct{}

func (Nop) Publish(Event) {}
