package ws

import (
	"github.com/agent-racer/runwatch/internal/run"
	"github.com/agent-racer/runwatch/internal/state"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgSummary  MessageType = "summary"
	MsgLines    MessageType = "lines"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload is sent on connect and every snapshot interval.
type SnapshotPayload struct {
	Runs    []*state.RunState `json:"runs"`
	Summary *run.Summary      `json:"summary,omitempty"`
}

// LinesPayload carries log lines gathered since the previous flush, in
// emission order, and the IDs of runs that disappeared meanwhile.
type LinesPayload struct {
	Lines   []run.Line `json:"lines"`
	Removed []string   `json:"removed,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
