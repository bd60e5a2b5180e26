package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPlan marks structural or tool-reference violations detected
// before execution. An invalid plan consumes a lifeline but is never run.
var ErrInvalidPlan = errors.New("invalid plan")

var (
	entryPointRe = regexp.MustCompile(`(?m)^\s*def\s+solve\s*\(`)
	toolCallRe   = regexp.MustCompile(`\btool\s*\(\s*([^,)]*)`)
	stringLitRe  = regexp.MustCompile(`^(?:"([^"\\]*)"|'([^'\\]*)')$`)
)

// HasEntryPoint reports whether the plan defines the solve() entry point.
func HasEntryPoint(plan string) bool {
	return entryPointRe.MatchString(plan)
}

// ToolNames extracts the literal tool names referenced by the plan, in
// first-reference order with duplicates removed. Non-literal references are
// skipped; CheckPlan rejects them.
func ToolNames(plan string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range toolCallRe.FindAllStringSubmatch(plan, -1) {
		name, ok := literalString(m[1])
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// CheckPlan validates plan structure before execution: the solve() entry
// point must exist, every tool reference must be a string literal, and every
// referenced name must be in the offered catalog.
func CheckPlan(plan string, allowed []string) error {
	if !HasEntryPoint(plan) {
		return fmt.Errorf("%w: plan does not define solve()", ErrInvalidPlan)
	}
	catalog := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		catalog[name] = true
	}
	for _, m := range toolCallRe.FindAllStringSubmatch(plan, -1) {
		arg := strings.TrimSpace(m[1])
		if arg == "" {
			return fmt.Errorf("%w: tool call missing tool name", ErrInvalidPlan)
		}
		name, ok := literalString(arg)
		if !ok {
			return fmt.Errorf("%w: tool name must be a string literal, got %q", ErrInvalidPlan, arg)
		}
		if !catalog[name] {
			return fmt.Errorf("%w: plan references unknown tool %q", ErrInvalidPlan, name)
		}
	}
	return nil
}

func literalString(arg string) (string, bool) {
	m := stringLitRe.FindStringSubmatch(strings.TrimSpace(arg))
	if m == nil {
		return "", false
	}
	if m[1] != "" || strings.HasPrefix(strings.TrimSpace(arg), `"`) {
		return m[1], true
	}
	return m[2], true
}
