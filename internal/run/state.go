package run

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a run, derived from its marker files.
type State int

const (
	Unknown State = iota
	Running
	Finished
)

var stateNames = map[State]string{
	Unknown:  "unknown",
	Running:  "running",
	Finished: "finished",
}

var stateFromName = map[string]State{
	"unknown":  Unknown,
	"running":  Running,
	"finished": Finished,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	} else {
		*s = Unknown
	}
	return nil
}

// Summary is the aggregate lifecycle count over all discovered runs at At.
type Summary struct {
	At       time.Time `json:"at"`
	Running  int       `json:"running"`
	Finished int       `json:"finished"`
	Unknown  int       `json:"unknown"`
}

// Add counts one run in state s.
func (s *Summary) Add(st State) {
	switch st {
	case Running:
		s.Running++
	case Finished:
		s.Finished++
	default:
		s.Unknown++
	}
}

// Total returns the number of runs counted.
func (s Summary) Total() int {
	return s.Running + s.Finished + s.Unknown
}

// Line is one complete log line read from a run's stream. Text keeps its
// trailing newline.
type Line struct {
	RunID  string `json:"runId"`
	Stream string `json:"stream"`
	Text   string `json:"text"`
}
