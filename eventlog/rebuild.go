package eventlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/martinemde/stepline/history"
)

// Reindex replays the event log into the historical index and returns the
// number of examples actually recorded. Sessions without both a run start
// and a final answer are skipped; junk answers are filtered by the index
// itself. Replaying twice is harmless because the index deduplicates on
// (session ID, turn index).
func Reindex(ctx context.Context, log Log, idx *history.Index, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sessions, err := log.Sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions for reindex: %w", err)
	}

	recorded := 0
	for _, sessionID := range sessions {
		entries, err := log.Session(ctx, sessionID)
		if err != nil {
			return recorded, fmt.Errorf("load session %s: %w", sessionID, err)
		}

		// Each run-start entry opens a turn; the next final answer closes it.
		turn := 0
		query := ""
		haveQuery := false
		var tools []string
		for _, e := range entries {
			switch e.Kind {
			case KindRunMetadata:
				if q, ok := ParseRunStart(e); ok {
					query = q
					haveQuery = true
					tools = nil
				}
			case KindToolCall:
				tools = append(tools, e.ToolName)
			case KindFinalAnswer:
				if !haveQuery {
					continue
				}
				ok, err := idx.Record(ctx, history.Example{
					SessionID: sessionID,
					TurnIndex: turn,
					Query:     query,
					Answer:    e.Text,
					ToolsUsed: tools,
					Success:   e.Success,
				})
				if err != nil {
					return recorded, fmt.Errorf("record session %s turn %d: %w", sessionID, turn, err)
				}
				if ok {
					recorded++
				}
				turn++
				haveQuery = false
			}
		}
		logger.Debug("reindexed session", "session", sessionID, "turns", turn)
	}
	return recorded, nil
}
