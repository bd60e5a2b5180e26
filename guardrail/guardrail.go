// Package guardrail evaluates fixed, ordered rule sets over query and result
// text. Rules are checked in priority order and the first match wins; a text
// that matches nothing is allowed through unchanged.
//
// Query-side rules gate a run before any planning or tool call happens.
// Result-side rules reshape sandbox output: oversized or markup-heavy
// results are demoted to further processing, banned words are masked, and
// numeric-intent answers that do not parse as finite numbers are sent back
// for another pass instead of being delivered.
package guardrail

import (
	"log/slog"
	"strings"
)

// VerdictKind discriminates rule outcomes.
type VerdictKind string

const (
	// Allow passes the text through unchanged.
	Allow VerdictKind = "allow"
	// Reject terminates the run; Text carries the user-facing message.
	Reject VerdictKind = "reject"
	// Transform replaces the text; Text carries the replacement.
	Transform VerdictKind = "transform"
	// Defer asks the caller to narrow scope; Text carries the instruction
	// plus a bounded sample of the original input.
	Defer VerdictKind = "defer"
)

// Verdict is the outcome of evaluating one rule set.
type Verdict struct {
	Kind VerdictKind
	// Text is the rejection message, the transformed text, or the deferred
	// instruction, depending on Kind. Empty for Allow.
	Text string
	// Rule names the rule that fired, for logs and events.
	Rule string
}

func allow() Verdict { return Verdict{Kind: Allow} }

// Config tunes rule thresholds and pattern lists. Zero values fall back to
// the defaults below.
type Config struct {
	MinQueryWords  int
	MaxQueryChars  int
	DocCharCeiling int // rule 6: pasted-document defer threshold
	DocLineFloor   int // minimum line count for input to look like a document
	DocSampleChars int // size of the sample offered on defer

	MaxResultChars     int // rule 8: demotion threshold
	ResultPreviewChars int // size of the preview carried into further processing

	BlockedHosts []string
	BannedWords  []string
}

// DefaultConfig returns the default guardrail thresholds.
func DefaultConfig() Config {
	return Config{
		MinQueryWords:      3,
		MaxQueryChars:      3000,
		DocCharCeiling:     2000,
		DocLineFloor:       40,
		DocSampleChars:     1000,
		MaxResultChars:     4000,
		ResultPreviewChars: 1000,
		BlockedHosts:       defaultBlockedHosts,
		BannedWords:        nil,
	}
}

var defaultBlockedHosts = []string{
	"gmail.com",
	"mail.google.com",
	"drive.google.com",
	"localhost",
}

// Engine evaluates the two rule sets. It is stateless and safe for
// concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine, filling zero config fields with defaults.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MinQueryWords == 0 {
		cfg.MinQueryWords = def.MinQueryWords
	}
	if cfg.MaxQueryChars == 0 {
		cfg.MaxQueryChars = def.MaxQueryChars
	}
	if cfg.DocCharCeiling == 0 {
		cfg.DocCharCeiling = def.DocCharCeiling
	}
	if cfg.DocLineFloor == 0 {
		cfg.DocLineFloor = def.DocLineFloor
	}
	if cfg.DocSampleChars == 0 {
		cfg.DocSampleChars = def.DocSampleChars
	}
	if cfg.MaxResultChars == 0 {
		cfg.MaxResultChars = def.MaxResultChars
	}
	if cfg.ResultPreviewChars == 0 {
		cfg.ResultPreviewChars = def.ResultPreviewChars
	}
	if cfg.BlockedHosts == nil {
		cfg.BlockedHosts = def.BlockedHosts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// CheckQuery applies the query-side rules, in priority order, to raw user
// input. A Reject verdict carries the final answer to return; a Defer
// verdict carries a narrowed input the caller may proceed with.
func (e *Engine) CheckQuery(query string) Verdict {
	text := strings.TrimSpace(query)

	// 1. Empty or too short to act on.
	if len(strings.Fields(text)) < e.cfg.MinQueryWords {
		return e.verdict(Verdict{
			Kind: Reject,
			Rule: "query_too_short",
			Text: "Please add a bit more detail to your request.",
		})
	}

	// 2. Over-length input.
	if len(text) > e.cfg.MaxQueryChars {
		return e.verdict(Verdict{
			Kind: Reject,
			Rule: "query_too_long",
			Text: "Your request is quite long. Please narrow it down.",
		})
	}

	// 3. Denylisted or private/loopback hosts.
	if host, blocked := blockedHost(text, e.cfg.BlockedHosts); blocked {
		return e.verdict(Verdict{
			Kind: Reject,
			Rule: "blocked_host",
			Text: "For privacy reasons I can't access " + host + ". Please paste the relevant text instead.",
		})
	}

	// 4. Shell or exploit patterns.
	if matchesShellPattern(text) {
		return e.verdict(Verdict{
			Kind: Reject,
			Rule: "harmful_script",
			Text: "I can't help with harmful or unsafe scripts.",
		})
	}

	// 5. Sensitive data: card numbers, key-like tokens, secret banners.
	if matchesSensitivePattern(text) {
		return e.verdict(Verdict{
			Kind: Reject,
			Rule: "sensitive_data",
			Text: "This looks like it contains confidential data. Please remove secrets and try again.",
		})
	}

	// 6. Pasted document text over the ceiling: defer with a bounded
	// sample rather than processing the whole blob.
	if looksLikeDocument(text, e.cfg.DocLineFloor) && len(text) > e.cfg.DocCharCeiling {
		sample := text
		if len(sample) > e.cfg.DocSampleChars {
			sample = sample[:e.cfg.DocSampleChars]
		}
		return e.verdict(Verdict{
			Kind: Defer,
			Rule: "document_too_large",
			Text: "The pasted document is too large to process in full. Working from this sample; " +
				"narrow the request for a complete pass.\n\n" + sample,
		})
	}

	return allow()
}

// CheckResult applies the result-side rules to classified sandbox output.
// The result text is the wire form (marker prefix included) so transforms
// can rewrite the tag itself. The originating query is needed for the
// numeric-intent rule.
func (e *Engine) CheckResult(query, result string) Verdict {
	// 9. Banned-word masking runs first so later transforms carry masked
	// text. It preserves the marker prefix.
	masked, changed := maskBannedWords(result, e.cfg.BannedWords)

	// 8. Excessively long or markup/binary-looking output is never
	// delivered raw; it is demoted to further processing with a preview.
	if len(masked) > e.cfg.MaxResultChars || looksLikeMarkup(masked) {
		preview := masked
		if len(preview) > e.cfg.ResultPreviewChars {
			preview = preview[:e.cfg.ResultPreviewChars] + "..."
		}
		return e.verdict(Verdict{
			Kind: Transform,
			Rule: "oversized_result",
			Text: furtherProcessingMarker + " " + stripMarkers(preview),
		})
	}

	// 10. Numeric-intent answers must parse as a finite real number; a
	// value that does not is forwarded for another pass, never fabricated.
	if impliesNumericAnswer(query) {
		if body, ok := finalAnswerBody(masked); ok && !parsesAsFiniteNumber(body) {
			return e.verdict(Verdict{
				Kind: Transform,
				Rule: "non_numeric_answer",
				Text: furtherProcessingMarker + " The tool produced a non-numeric value for a numeric question: " + body,
			})
		}
	}

	if changed {
		return e.verdict(Verdict{Kind: Transform, Rule: "banned_words", Text: masked})
	}
	return allow()
}

func (e *Engine) verdict(v Verdict) Verdict {
	e.logger.Debug("guardrail: rule fired", "rule", v.Rule, "kind", string(v.Kind))
	return v
}
