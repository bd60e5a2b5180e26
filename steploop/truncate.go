package steploop

import "fmt"

// DefaultMaxToolOutputChars bounds the size of a tool result as seen by a
// plan. The audit log always keeps the full output.
const DefaultMaxToolOutputChars = 8000

// TruncateOutput applies head/tail truncation to oversized tool output,
// keeping both ends because the useful part of a fetched page or search
// result is as likely to be at the bottom as the top.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[%d characters removed from the middle of this output]\n\n", removed) +
		output[len(output)-half:]
}
