package steploop

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/martinemde/stepline/dispatch"
)

func TestDetectForwardLoop(t *testing.T) {
	a, b, c := forwardSignature("a"), forwardSignature("b"), forwardSignature("c")

	tests := []struct {
		name string
		sigs []string
		want bool
	}{
		{"empty", nil, false},
		{"single", []string{a}, false},
		{"distinct", []string{a, b, c}, false},
		{"immediate repeat", []string{a, a}, true},
		{"repeat after progress", []string{a, b, b}, true},
		{"alternating pair", []string{a, b, a, b}, true},
		{"pair with progress", []string{a, b, c, b}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectForwardLoop(tt.sigs); got != tt.want {
				t.Errorf("detectForwardLoop(%v) = %v, want %v", tt.sigs, got, tt.want)
			}
		})
	}
}

func TestForwardSignatureIgnoresPadding(t *testing.T) {
	if forwardSignature("content") != forwardSignature("  content\n") {
		t.Error("signatures must ignore surrounding whitespace")
	}
	if forwardSignature("content") == forwardSignature("other") {
		t.Error("distinct content must have distinct signatures")
	}
}

func TestRunCutsForwardingLoopEarly(t *testing.T) {
	further := "def solve():\n    return \"FURTHER_PROCESSING_REQUIRED: the same page text about Paris every time\"\n"
	plans := &scriptedPlans{plans: []string{further}}
	cfg := DefaultConfig()
	cfg.MaxSteps = 6
	loop, _, _ := newTestLoop(plans, WithConfig(cfg))

	result, err := loop.Run(context.Background(), "what is the capital of france")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeExhausted || !result.Forced {
		t.Fatalf("expected forced cut, got %+v", result)
	}
	if result.Steps != 2 {
		t.Errorf("identical forwarded content should be cut on the second occurrence, got %d steps", result.Steps)
	}
	if plans.calls != 2 {
		t.Errorf("expected 2 planner calls before the cut, got %d", plans.calls)
	}
}

func TestTruncateOutput(t *testing.T) {
	short := "small output"
	if TruncateOutput(short, 100) != short {
		t.Error("output under the limit must pass through unchanged")
	}

	long := strings.Repeat("x", 10000)
	got := TruncateOutput(long, 1000)
	if len(got) >= len(long) {
		t.Error("oversized output must shrink")
	}
	if !strings.Contains(got, "characters removed") {
		t.Error("truncation must be visible in the output")
	}
	if !strings.HasPrefix(got, "xxxx") || !strings.HasSuffix(got, "xxxx") {
		t.Error("head and tail must both survive")
	}
}

func TestRunTruncatesToolOutputForPlans(t *testing.T) {
	// The plan reports how many characters it received; the audit log keeps
	// the full output.
	plan := "def solve():\n    r = tool(\"big\")\n    return \"FINAL_ANSWER: \" + str(len(r))\n"
	plans := &scriptedPlans{plans: []string{plan}}

	loop, _, log := newTestLoop(plans)
	registry := testRegistry()
	registry.Register(dispatch.RegisteredTool{
		Definition: dispatch.Definition{Name: "big", Description: "return a huge page"},
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			return strings.Repeat("x", 20000), nil
		},
	})
	loop.tools = registry

	result, err := loop.Run(context.Background(), "how many characters are on the page")
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != OutcomeAnswered {
		t.Fatalf("expected answer, got %+v", result)
	}
	seen, err := strconv.Atoi(result.Answer)
	if err != nil {
		t.Fatalf("answer should be a length, got %q", result.Answer)
	}
	if seen >= 20000 {
		t.Errorf("plan should see truncated output, saw %d chars", seen)
	}

	entries, _ := log.Session(context.Background(), result.SessionID)
	foundFull := false
	for _, e := range entries {
		if e.Kind == "tool_output" && len(e.Output) >= 20000 {
			foundFull = true
		}
	}
	if !foundFull {
		t.Error("audit log must keep the full untruncated output")
	}
}
