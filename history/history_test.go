package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func example(session string, turn int, query, answer string) Example {
	return Example{
		SessionID: session,
		TurnIndex: turn,
		Query:     query,
		Answer:    answer,
		Success:   true,
	}
}

func TestRecordIdempotent(t *testing.T) {
	idx := NewIndex()
	ex := example("s1", 0, "what is the gold price today", "around 2400 USD per ounce")

	added, err := idx.Record(context.Background(), ex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Fatal("first record should add the example")
	}

	added, err = idx.Record(context.Background(), ex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Error("second record with same (session, turn) should be a no-op")
	}
	if idx.Len() != 1 {
		t.Errorf("expected 1 stored example, got %d", idx.Len())
	}
}

func TestRecordRejectsJunk(t *testing.T) {
	idx := NewIndex()
	tests := []struct {
		name string
		ex   Example
	}{
		{"empty answer", example("s1", 0, "query text here", "")},
		{"could not generate", example("s1", 1, "query text here", "[Could not generate valid solve()]")},
		{"max steps", example("s1", 2, "query text here", "[Max steps reached]")},
		{"unknown", example("s1", 3, "query text here", "unknown")},
		{"failed flag", Example{SessionID: "s1", TurnIndex: 4, Query: "q", Answer: "fine", Success: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, err := idx.Record(context.Background(), tt.ex)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if added {
				t.Error("junk example should not be recorded")
			}
		})
	}
	if idx.Len() != 0 {
		t.Errorf("expected empty index, got %d examples", idx.Len())
	}
}

func TestLookupNearIdenticalQuery(t *testing.T) {
	idx := NewIndex()
	stored := "Anmol Singh paid 42 crore for the DLF apartment via Capbridge."
	_, err := idx.Record(context.Background(),
		example("s1", 0, "How much Anmol singh paid for his DLF apartment via Capbridge?", stored))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := idx.Lookup("How much Anmol Singh paid for DLF apartment via Capbridge")
	if !ok {
		t.Fatal("expected a cache hit for near-identical query")
	}
	if m.Answer != stored {
		t.Errorf("expected stored answer %q, got %q", stored, m.Answer)
	}
	if m.Similarity < DefaultHardThreshold {
		t.Errorf("expected similarity >= %v, got %v", DefaultHardThreshold, m.Similarity)
	}
}

func TestLookupMissesBelowThreshold(t *testing.T) {
	idx := NewIndex()
	_, err := idx.Record(context.Background(),
		example("s1", 0, "what is the capital of france", "Paris"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := idx.Lookup("what is the population of germany"); ok {
		t.Error("unrelated query should not produce a cache hit")
	}
}

func TestPrimingExamplesRankedAndBounded(t *testing.T) {
	idx := NewIndex()
	queries := []string{
		"gold price in india today",
		"gold price in london",
		"silver price in india",
		"weather in paris tomorrow",
	}
	for i, q := range queries {
		if _, err := idx.Record(context.Background(), example("s1", i, q, "answer "+q)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	matches := idx.PrimingExamples("gold price in india", 2)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Query != "gold price in india today" {
		t.Errorf("best match should be the india gold query, got %q", matches[0].Query)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Error("matches should be ordered by descending similarity")
	}

	if got := idx.PrimingExamples("completely unrelated request", 3); len(got) != 0 {
		t.Errorf("expected no matches for unrelated query, got %d", len(got))
	}
}

func TestConcurrentRecordAndLookup(t *testing.T) {
	idx := NewIndex(WithStore(NewMemoryStore()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			q := fmt.Sprintf("question number %d about topic %d", n, n)
			_, err := idx.Record(context.Background(), example("s1", n, q, "answer"))
			if err != nil {
				t.Errorf("record failed: %v", err)
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			idx.Lookup(fmt.Sprintf("question number %d about topic %d", n, n))
		}(i)
	}
	wg.Wait()

	if idx.Len() != 20 {
		t.Errorf("expected 20 examples after concurrent records, got %d", idx.Len())
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := t.TempDir() + "/history.db"

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	ex := example("s1", 0, "what is the gold price today", "around 2400 USD")
	ex.Keywords = Keywords(ex.Query)
	ex.ToolsUsed = []string{"search"}
	if err := store.Append(context.Background(), ex); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Replayed append must be ignored.
	if err := store.Append(context.Background(), ex); err != nil {
		t.Fatalf("replayed append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 example, got %d", len(loaded))
	}
	got := loaded[0]
	if got.Query != ex.Query || got.Answer != ex.Answer || !got.Success {
		t.Errorf("loaded example mismatch: %+v", got)
	}
	if len(got.Keywords) == 0 || got.ToolsUsed[0] != "search" {
		t.Errorf("loaded example lost fields: %+v", got)
	}
}

func TestIndexLoadsFromStore(t *testing.T) {
	store := NewMemoryStore()
	seed := example("old", 0, "what is the gold price today", "around 2400 USD")
	seed.Keywords = Keywords(seed.Query)
	if err := store.Append(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	idx := NewIndex(WithStore(store))
	if idx.Len() != 1 {
		t.Fatalf("expected index to load 1 example, got %d", idx.Len())
	}
	if _, ok := idx.Lookup("what is the gold price today"); !ok {
		t.Error("expected cache hit against loaded example")
	}
}
