package sandbox

import "strings"

// Textual protocol markers. They appear only at the serialization boundary:
// generated plans return marker-prefixed strings, and hosts render a Result
// back to a marker line with Wire. Everything in between works with the
// tagged Result value.
const (
	FinalAnswerMarker       = "FINAL_ANSWER:"
	FurtherProcessingMarker = "FURTHER_PROCESSING_REQUIRED:"
)

// ResultKind discriminates sandbox outcomes.
type ResultKind string

const (
	// KindFinal is a terminal answer.
	KindFinal ResultKind = "final_answer"
	// KindFurther is a non-terminal result whose text must be forwarded
	// into the next step.
	KindFurther ResultKind = "further_processing"
	// KindError covers execution faults, quota violations, and
	// unrecognized return values.
	KindError ResultKind = "sandbox_error"
)

// Result is the classified outcome of executing a plan.
type Result struct {
	Kind ResultKind
	// Text is the marker-stripped payload: the answer body, the forwarding
	// content, or the error message.
	Text string
	// Raw is the normalized return value as produced by the plan, before
	// marker stripping. For errors it carries the bracketed error form.
	Raw string
}

// Wire renders the result in the textual protocol understood by callers.
func (r Result) Wire() string {
	switch r.Kind {
	case KindFinal:
		return FinalAnswerMarker + " " + r.Text
	case KindFurther:
		return FurtherProcessingMarker + " " + r.Text
	default:
		return "[sandbox error: " + r.Text + "]"
	}
}

// Classify inspects a normalized return value and produces a tagged Result.
// Only the two exact marker prefixes are recognized; anything else is a
// sandbox error, never silently promoted to an answer.
func Classify(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(trimmed, FinalAnswerMarker):
		return Result{
			Kind: KindFinal,
			Text: strings.TrimSpace(strings.TrimPrefix(trimmed, FinalAnswerMarker)),
			Raw:  trimmed,
		}
	case strings.HasPrefix(trimmed, FurtherProcessingMarker):
		return Result{
			Kind: KindFurther,
			Text: strings.TrimSpace(strings.TrimPrefix(trimmed, FurtherProcessingMarker)),
			Raw:  trimmed,
		}
	default:
		return Result{
			Kind: KindError,
			Text: "unrecognized return value: " + snippet(trimmed, 200),
			Raw:  trimmed,
		}
	}
}

// DirectResult scans planner output for a bare marker line. Planners
// sometimes answer directly instead of emitting a solve() program; such a
// line is a classified result that needs no execution. It reports false when
// no marker line exists.
func DirectResult(planText string) (Result, bool) {
	for _, line := range strings.Split(planText, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, FinalAnswerMarker) ||
			strings.HasPrefix(trimmed, FurtherProcessingMarker) {
			return Classify(trimmed), true
		}
	}
	return Result{}, false
}

func errorResult(message string) Result {
	return Result{
		Kind: KindError,
		Text: message,
		Raw:  "[sandbox error: " + message + "]",
	}
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
