package steploop

import "github.com/martinemde/stepline/sandbox"

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeAnswered means a plan produced a clean final answer.
	OutcomeAnswered Outcome = "answered"
	// OutcomeRejected means an input guardrail refused the query.
	OutcomeRejected Outcome = "rejected"
	// OutcomeExhausted means the budget ran out and the finalizer derived a
	// best-effort answer from accumulated content.
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeFailed means no step produced anything usable.
	OutcomeFailed Outcome = "failed"
)

// RunResult is the outcome of one complete run.
type RunResult struct {
	SessionID  string  `json:"session_id"`
	Answer     string  `json:"answer"`
	Outcome    Outcome `json:"outcome"`
	CacheHit   bool    `json:"cache_hit"`
	Similarity float64 `json:"similarity,omitempty"`
	Steps      int     `json:"steps"`
	Forced     bool    `json:"forced"`
}

// Wire renders the answer in the textual protocol.
func (r RunResult) Wire() string {
	return sandbox.FinalAnswerMarker + " " + r.Answer
}
