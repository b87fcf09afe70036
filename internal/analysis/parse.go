package analysis

// Verdict parsing tolerates the mess models actually produce: tool trace
// lines mixed into the transcript, prose before the JSON, markdown code
// fences around it. What it does not tolerate is prose after the JSON
// object; the decode is strict so a corrupted tail falls back rather than
// half-parsing.

import (
	"encoding/json"
	"strings"
)

// ParseVerdict extracts the structured verdict from a model's final
// output. Any parse failure yields the fallback verdict: the raw output
// as the analysis, promote with zero confidence.
func ParseVerdict(raw string) Verdict {
	v, err := parseVerdict(raw)
	if err != nil {
		return fallbackVerdict(raw)
	}
	return v
}

func parseVerdict(raw string) (Verdict, error) {
	clean := extractJSON(raw)

	var v Verdict
	if err := json.Unmarshal([]byte(clean), &v); err != nil {
		return Verdict{}, err
	}

	v.PRLink = normalizePRLink(v.PRLink)
	return v, nil
}

// extractJSON strips tool trace lines and leading prose, then unwraps a
// markdown code fence if present.
func extractJSON(raw string) string {
	clean := strings.TrimSpace(raw)

	lines := strings.Split(clean, "\n")
	var filtered []string
	inJSON := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Function Call:") ||
			strings.HasPrefix(trimmed, "Function Response:") ||
			trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "```") {
			inJSON = true
		}
		if inJSON {
			filtered = append(filtered, line)
		}
	}
	clean = strings.TrimSpace(strings.Join(filtered, "\n"))

	if strings.HasPrefix(clean, "```") {
		if idx := strings.IndexByte(clean, '\n'); idx != -1 {
			clean = clean[idx+1:]
		}
		if idx := strings.LastIndex(clean, "```"); idx != -1 {
			clean = clean[:idx]
		}
		clean = strings.TrimSpace(clean)
	}

	return clean
}

// normalizePRLink cleans up the link models emit: explanatory text in
// parentheses is cut, and ""/"null"/".../null" placeholders mean absent.
func normalizePRLink(link string) string {
	link = strings.TrimSpace(link)
	if idx := strings.IndexByte(link, '('); idx != -1 {
		link = strings.TrimSpace(link[:idx])
	}
	if link == "" || link == "null" || strings.HasSuffix(link, "/null") {
		return ""
	}
	return link
}

func fallbackVerdict(raw string) Verdict {
	return Verdict{
		Analysis:    raw,
		RootCause:   "Unable to parse structured response",
		Remediation: "Manual review required",
		Promote:     true, // inconclusive analysis must not block the rollout
		Confidence:  0,
	}
}
