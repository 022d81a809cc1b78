// Package engine adapts the external coding-agent capability. The remote
// engine speaks a JSON-RPC style protocol: synchronous runs post an
// agent.run request and block for the result, streaming runs read an
// NDJSON event sequence off the response body.
package engine

import (
	"github.com/google/uuid"
)

// Event is one progress notification from a streaming run. The sequence
// ends with a "completed" or "error" event.
type Event struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

const (
	EventLog       = "log"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventError     = "error"
)

// RunResult is the outcome of a synchronous run.
type RunResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// RunPayload builds the agent.run request document. It is also recorded
// verbatim as the execution plan of the task run that carries it.
func RunPayload(sessionID, instruction, workspace string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  "agent.run",
		"params": map[string]any{
			"session_id":  sessionID,
			"instruction": instruction,
			"workspace":   workspace,
		},
	}
}

// InvokePayload builds the provider.invoke request document wrapping a
// model prompt around a context value.
func InvokePayload(model, prompt string, context any) map[string]any {
	return map[string]any{
		"method": "provider.invoke",
		"params": map[string]any{
			"model":   model,
			"prompt":  prompt,
			"context": context,
		},
	}
}
