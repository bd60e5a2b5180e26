package steploop

import (
	"strings"

	"github.com/martinemde/stepline/history"
)

// failureAnswer is returned when a run produces nothing the finalizer can
// work with. The historical index refuses to cache it.
const failureAnswer = "Could not generate a final answer within the step budget."

// Finalize derives a best-effort answer from the content accumulated before
// the budget ran out. It prefers the line sharing the most keywords with the
// query, breaking ties toward lines carrying digits, since exhausted runs are
// usually lookups that already fetched the fact but never phrased it.
func Finalize(query, content string) string {
	lines := splitContentLines(content)
	if len(lines) == 0 {
		return failureAnswer
	}

	queryWords := make(map[string]bool)
	for _, w := range history.Keywords(query) {
		queryWords[w] = true
	}

	best := lines[0]
	bestScore := -1
	for _, line := range lines {
		score := 0
		for _, w := range history.Keywords(line) {
			if queryWords[w] {
				score++
			}
		}
		if strings.ContainsAny(line, "0123456789") {
			score++
		}
		if score > bestScore {
			best = line
			bestScore = score
		}
	}
	return best
}

const finalizerLineLimit = 300

func splitContentLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > finalizerLineLimit {
			trimmed = trimmed[:finalizerLineLimit]
		}
		lines = append(lines, trimmed)
	}
	return lines
}
