package guardrail

import (
	"math"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/martinemde/stepline/sandbox"
)

const (
	finalAnswerMarker       = sandbox.FinalAnswerMarker
	furtherProcessingMarker = sandbox.FurtherProcessingMarker
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"']+`)

// blockedHost reports the first denylisted or private/loopback host
// referenced by the text, either as a full URL or a bare domain mention.
func blockedHost(text string, denylist []string) (string, bool) {
	lowered := strings.ToLower(text)

	for _, raw := range urlRe.FindAllString(lowered, -1) {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := u.Hostname()
		if host == "" {
			continue
		}
		if hostDenied(host, denylist) {
			return host, true
		}
		if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
			return host, true
		}
	}

	// Bare domain mentions without a scheme.
	for _, blocked := range denylist {
		if strings.Contains(lowered, blocked) {
			return blocked, true
		}
	}
	return "", false
}

func hostDenied(host string, denylist []string) bool {
	for _, blocked := range denylist {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

var shellPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\b`),
	regexp.MustCompile(`(?i)\bpowershell\b`),
	regexp.MustCompile(`(?i)bypass\s+antivirus`),
	regexp.MustCompile(`(?i)curl\s+[^|\n]*\|\s*(?:ba)?sh\b`),
	regexp.MustCompile(`(?i)\bmkfs\.`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),
}

func matchesShellPattern(text string) bool {
	for _, re := range shellPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

var (
	cardCandidateRe   = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	keyTokenRe        = regexp.MustCompile(`(?i)(?:api[_-]?key|secret[_-]?key|access[_-]?token)\s*[:=]\s*\S+`)
	awsKeyRe          = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	secretBannerRe    = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)
	credentialWordsRe = regexp.MustCompile(`(?i)\b(?:password|passphrase|secret key|confidential)\b`)
)

func matchesSensitivePattern(text string) bool {
	for _, candidate := range cardCandidateRe.FindAllString(text, -1) {
		if luhnValid(candidate) {
			return true
		}
	}
	return keyTokenRe.MatchString(text) ||
		awsKeyRe.MatchString(text) ||
		secretBannerRe.MatchString(text) ||
		credentialWordsRe.MatchString(text)
}

// luhnValid checks a digit sequence (spaces and dashes allowed) against the
// Luhn checksum, filtering out arbitrary long numbers that are not payment
// card numbers.
func luhnValid(candidate string) bool {
	var digits []int
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// looksLikeDocument distinguishes pasted document/page text from an ordinary
// long question by line count.
func looksLikeDocument(text string, lineFloor int) bool {
	return strings.Count(text, "\n") >= lineFloor
}

var markupTagRe = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// looksLikeMarkup reports output that is predominantly HTML/XML tags or
// contains binary garbage, which should never be delivered as an answer.
func looksLikeMarkup(text string) bool {
	if text == "" {
		return false
	}
	tagChars := 0
	for _, m := range markupTagRe.FindAllString(text, -1) {
		tagChars += len(m)
	}
	if float64(tagChars)/float64(len(text)) > 0.25 {
		return true
	}
	nonPrintable := 0
	for _, r := range text {
		if r == '�' || (r < 32 && r != '\n' && r != '\r' && r != '\t') {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(text)) > 0.05
}

// maskBannedWords replaces each banned-word match with asterisks of the same
// length, preserving everything else including any marker prefix.
func maskBannedWords(text string, banned []string) (string, bool) {
	changed := false
	for _, word := range banned {
		if word == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(word))
		if err != nil {
			continue
		}
		masked := re.ReplaceAllStringFunc(text, func(m string) string {
			changed = true
			return strings.Repeat("*", len(m))
		})
		text = masked
	}
	return text, changed
}

var numericIntentRe = regexp.MustCompile(`(?i)\bhow (?:much|many)\b|\b(?:price|cost|amount|total|sum|count|number of|percentage|revenue|profit)\b`)

// impliesNumericAnswer reports whether the query asks for a numeric value.
func impliesNumericAnswer(query string) bool {
	return numericIntentRe.MatchString(query)
}

// finalAnswerBody extracts the body of a final-answer wire string. It
// reports false for anything that is not a final answer.
func finalAnswerBody(wire string) (string, bool) {
	trimmed := strings.TrimSpace(wire)
	if !strings.HasPrefix(trimmed, finalAnswerMarker) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, finalAnswerMarker)), true
}

// parsesAsFiniteNumber accepts answers whose first parseable token is a
// finite real number. Currency symbols and magnitude words around the number
// are tolerated; NaN, infinities, and purely textual answers are not.
func parsesAsFiniteNumber(body string) bool {
	for _, field := range strings.Fields(body) {
		field = strings.Trim(field, "$€₹£%,.;:()")
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(field, ",", ""), 64)
		if err != nil {
			continue
		}
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	return false
}

// stripMarkers removes any embedded protocol markers so a transformed
// preview cannot smuggle a premature final answer.
func stripMarkers(text string) string {
	text = strings.ReplaceAll(text, finalAnswerMarker, "")
	text = strings.ReplaceAll(text, furtherProcessingMarker, "")
	return strings.TrimSpace(text)
}
