// Package history implements the cross-session historical index: an
// append-only store of past (query, answer) examples with keyword-based
// similarity search.
//
// The index serves two purposes in the agent loop. A hard hit (similarity at
// or above the configured threshold) short-circuits a run entirely and
// returns the stored answer. Soft matches (any positive similarity) are
// surfaced as priming examples for the planner without changing control flow.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DefaultHardThreshold is the minimum similarity for a cache hit.
const DefaultHardThreshold = 0.90

// Example is an immutable record of a successfully answered query.
// Deduplication key is (SessionID, TurnIndex).
type Example struct {
	SessionID string   `json:"session_id"`
	TurnIndex int      `json:"turn_index"`
	Query     string   `json:"query"`
	Keywords  []string `json:"keywords"`
	Answer    string   `json:"answer"`
	ToolsUsed []string `json:"tools_used,omitempty"`
	Success   bool     `json:"success"`
}

// Match pairs an example with its similarity to a lookup query.
type Match struct {
	Example
	Similarity float64
}

// Store is the durable backing for an Index. Append is the only mutation.
type Store interface {
	Append(ctx context.Context, ex Example) error
	Load(ctx context.Context) ([]Example, error)
	Close() error
}

// Index is the in-memory similarity index. It is safe for concurrent use:
// readers never observe a partially written example and concurrent Record
// calls for distinct keys do not lose updates.
type Index struct {
	mu       sync.RWMutex
	examples []Example
	seen     map[string]bool

	store         Store
	hardThreshold float64
	logger        *slog.Logger
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithStore attaches a durable store. Existing examples are loaded into the
// index on construction and every recorded example is appended to the store.
func WithStore(s Store) IndexOption {
	return func(idx *Index) { idx.store = s }
}

// WithHardThreshold overrides the cache-hit similarity threshold.
func WithHardThreshold(t float64) IndexOption {
	return func(idx *Index) { idx.hardThreshold = t }
}

// WithLogger sets the index logger.
func WithLogger(l *slog.Logger) IndexOption {
	return func(idx *Index) { idx.logger = l }
}

// NewIndex creates an Index. If a store is attached, previously persisted
// examples are loaded; a load failure leaves the index empty rather than
// failing construction, since the cache is an optimization.
func NewIndex(opts ...IndexOption) *Index {
	idx := &Index{
		seen:          make(map[string]bool),
		hardThreshold: DefaultHardThreshold,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	if idx.store != nil {
		loaded, err := idx.store.Load(context.Background())
		if err != nil {
			idx.logger.Warn("history: failed to load store", "err", err)
		}
		for _, ex := range loaded {
			idx.add(ex)
		}
	}
	return idx
}

func key(sessionID string, turnIndex int) string {
	return fmt.Sprintf("%s#%d", sessionID, turnIndex)
}

// add inserts without persisting. Caller must hold no locks.
func (idx *Index) add(ex Example) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := key(ex.SessionID, ex.TurnIndex)
	if idx.seen[k] {
		return false
	}
	if len(ex.Keywords) == 0 {
		ex.Keywords = Keywords(ex.Query)
	}
	idx.seen[k] = true
	idx.examples = append(idx.examples, ex)
	return true
}

// Len reports the number of stored examples.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.examples)
}

// Record appends an example. It reports whether the example was added: junk
// or failed answers are never indexed, and a (session, turn) key that has
// already been recorded is ignored, making Record idempotent on replay.
func (idx *Index) Record(ctx context.Context, ex Example) (bool, error) {
	if !ex.Success || !Indexable(ex.Answer) {
		return false, nil
	}
	if !idx.add(ex) {
		return false, nil
	}
	if idx.store != nil {
		if err := idx.store.Append(ctx, ex); err != nil {
			return true, fmt.Errorf("history: append to store: %w", err)
		}
	}
	return true, nil
}

// Lookup returns the single best match for the query if its similarity meets
// the hard threshold. Only examples with a clean, non-empty answer are
// considered.
func (idx *Index) Lookup(query string) (Match, bool) {
	kw := Keywords(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	best := Match{Similarity: -1}
	for _, ex := range idx.examples {
		if !ex.Success || !Indexable(ex.Answer) {
			continue
		}
		sim := Jaccard(kw, ex.Keywords)
		if sim > best.Similarity {
			best = Match{Example: ex, Similarity: sim}
		}
	}
	if best.Similarity >= idx.hardThreshold {
		idx.logger.Debug("history: cache hit",
			"query", query, "matched", best.Query, "similarity", best.Similarity)
		return best, true
	}
	return Match{}, false
}

// PrimingExamples returns up to k examples with any positive similarity to
// the query, ordered by descending similarity. It relaxes the hard threshold
// to surface soft context even when no cache hit exists.
func (idx *Index) PrimingExamples(query string, k int) []Match {
	if k <= 0 {
		return nil
	}
	kw := Keywords(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches []Match
	for _, ex := range idx.examples {
		if !ex.Success || !Indexable(ex.Answer) {
			continue
		}
		sim := Jaccard(kw, ex.Keywords)
		if sim <= 0 {
			continue
		}
		matches = append(matches, Match{Example: ex, Similarity: sim})
	}
	// Insertion sort by descending similarity; match counts are small.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Similarity > matches[j-1].Similarity; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// junkAnswerPatterns mark placeholder answers that must never be indexed.
var junkAnswerPatterns = []string{
	"could not generate",
	"max steps reached",
	"unknown",
	"unexpected",
	"execution failed",
}

// Indexable reports whether an answer is clean enough to cache: non-empty
// and not a diagnostic placeholder.
func Indexable(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return false
	}
	lowered := strings.ToLower(trimmed)
	for _, pat := range junkAnswerPatterns {
		if strings.Contains(lowered, pat) {
			return false
		}
	}
	return true
}
