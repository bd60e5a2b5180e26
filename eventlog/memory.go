package eventlog

import (
	"context"
	"sync"
)

// MemoryLog is an in-memory Log for tests and ephemeral runs.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	order   []string
	seen    map[string]bool
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{seen: make(map[string]bool)}
}

// Append implements Log.
func (l *MemoryLog) Append(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if !l.seen[e.SessionID] {
		l.seen[e.SessionID] = true
		l.order = append(l.order, e.SessionID)
	}
	return nil
}

// Session implements Log.
func (l *MemoryLog) Session(ctx context.Context, sessionID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Sessions implements Log.
func (l *MemoryLog) Sessions(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out, nil
}

// Close implements Log.
func (l *MemoryLog) Close() error { return nil }
