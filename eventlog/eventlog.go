// Package eventlog records what happened during each run: the run metadata,
// every tool call and its output, and the final answer. The log is
// append-only and serves two purposes: operator audit and rebuilding the
// historical index from scratch.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry kinds in the order they typically appear within a session.
const (
	KindRunMetadata = "run_metadata"
	KindToolCall    = "tool_call"
	KindToolOutput  = "tool_output"
	KindFinalAnswer = "final_answer"
)

// Entry is one recorded event within a session.
type Entry struct {
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Output    string         `json:"output,omitempty"`
	Success   bool           `json:"success"`
}

// Log is an append-only store of session entries.
type Log interface {
	// Append records one entry. Entries within a session keep append order.
	Append(ctx context.Context, e Entry) error
	// Session returns all entries for one session in append order.
	Session(ctx context.Context, sessionID string) ([]Entry, error)
	// Sessions returns all known session IDs in first-seen order.
	Sessions(ctx context.Context) ([]string, error)
	Close() error
}

// RunStartText encodes the run metadata entry's text field.
func RunStartText(query string) string {
	return "query: " + query
}

// ParseRunStart extracts the original query from a run metadata entry. The
// second return is false when the entry is not a run start.
func ParseRunStart(e Entry) (string, bool) {
	if e.Kind != KindRunMetadata {
		return "", false
	}
	query, ok := strings.CutPrefix(e.Text, "query: ")
	return query, ok
}

// NewRunStart builds the entry that opens a session.
func NewRunStart(sessionID, query string) Entry {
	return Entry{
		SessionID: sessionID,
		Kind:      KindRunMetadata,
		Timestamp: time.Now().UTC(),
		Text:      RunStartText(query),
		Success:   true,
	}
}

// NewToolCall builds a tool invocation entry.
func NewToolCall(sessionID, tool string, args map[string]any) Entry {
	return Entry{
		SessionID: sessionID,
		Kind:      KindToolCall,
		Timestamp: time.Now().UTC(),
		ToolName:  tool,
		Args:      args,
		Success:   true,
	}
}

// NewToolOutput builds a tool result entry.
func NewToolOutput(sessionID, tool, output string, success bool) Entry {
	return Entry{
		SessionID: sessionID,
		Kind:      KindToolOutput,
		Timestamp: time.Now().UTC(),
		ToolName:  tool,
		Output:    output,
		Success:   success,
	}
}

// NewFinalAnswer builds the entry that closes a session.
func NewFinalAnswer(sessionID, answer string, success bool) Entry {
	return Entry{
		SessionID: sessionID,
		Kind:      KindFinalAnswer,
		Timestamp: time.Now().UTC(),
		Text:      answer,
		Success:   success,
	}
}

func marshalArgs(args map[string]any) (string, error) {
	if args == nil {
		return "{}", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(b), nil
}

func unmarshalArgs(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}
