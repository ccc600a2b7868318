package agent

import (
	"github.com/querychat/querychat/core"
)

// turnState accumulates what one turn produced: appended messages, published
// artifacts, the dedup cache and the degradation flag. It never leaves the
// package; the assembler converts it into the public Response.
type turnState struct {
	threadID  string
	turnID    string
	messages  []core.Message
	artifacts []core.Artifact
	dedup     map[string]core.ToolResult
	degraded  bool
	steps     int
}

func newTurn(threadID, turnID string) *turnState {
	return &turnState{
		threadID: threadID,
		turnID:   turnID,
		dedup:    make(map[string]core.ToolResult),
	}
}

func (t *turnState) record(msg core.Message) {
	t.messages = append(t.messages, msg)
}

// Assemble builds the final Response from terminal turn state. It is a pure
// function of its inputs: no storage access, no model access, no clock.
// Every artifact it attaches was durably published by a successful tool call
// this turn, so the response can never reference a file that does not exist.
func Assemble(turn *turnState, outcome Outcome, text string, err error) *Response {
	resp := &Response{
		Text:     text,
		Outcome:  outcome,
		Steps:    turn.steps,
		Degraded: turn.degraded,
		Err:      err,
	}
	if len(turn.artifacts) > 0 {
		resp.Artifacts = make([]core.Artifact, len(turn.artifacts))
		copy(resp.Artifacts, turn.artifacts)
	}
	return resp
}
