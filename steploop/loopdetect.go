package steploop

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// forwardSignature computes a deterministic signature for forwarded content.
func forwardSignature(content string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return fmt.Sprintf("%x", h[:8])
}

// detectForwardLoop checks if recent forwarded content follows a repeating
// pattern of length 1 or 2. A plan that keeps producing the same
// intermediate result will never converge, so the run is cut short.
func detectForwardLoop(sigs []string) bool {
	n := len(sigs)
	if n >= 2 && sigs[n-1] == sigs[n-2] {
		return true
	}
	if n >= 4 && sigs[n-1] == sigs[n-3] && sigs[n-2] == sigs[n-4] {
		return true
	}
	return false
}
