// Package state keeps the latest known view of every run for the live
// feed. The poll loop writes it and HTTP/WebSocket handlers read it.
package state

import (
	"time"

	"github.com/agent-racer/runwatch/internal/run"
)

// StreamState is the tailing progress of one log stream.
type StreamState struct {
	Offset int64 `json:"offset"`
	Lines  int   `json:"lines"`
}

// RunState is a snapshot of one run.
type RunState struct {
	ID           string                 `json:"id"`
	Dir          string                 `json:"dir"`
	State        run.State              `json:"state"`
	PID          int                    `json:"pid,omitempty"`
	PIDAlive     bool                   `json:"pidAlive,omitempty"`
	ExitCode     string                 `json:"exitCode,omitempty"`
	ClassifiedAt time.Time              `json:"classifiedAt"`
	Streams      map[string]StreamState `json:"streams,omitempty"`
	LastLineAt   *time.Time             `json:"lastLineAt,omitempty"`
	ReadFailures int                    `json:"readFailures,omitempty"`
	LastError    string                 `json:"lastError,omitempty"`
}

// Clone returns a deep copy of the RunState, duplicating pointer and map
// fields so the copy can be mutated independently of the original.
func (s *RunState) Clone() *RunState {
	c := *s
	if s.LastLineAt != nil {
		t := *s.LastLineAt
		c.LastLineAt = &t
	}
	if s.Streams != nil {
		c.Streams = make(map[string]StreamState, len(s.Streams))
		for k, v := range s.Streams {
			c.Streams[k] = v
		}
	}
	return &c
}

// Degraded reports whether reads of this run are currently failing.
func (s *RunState) Degraded() bool {
	return s.ReadFailures > 0
}
