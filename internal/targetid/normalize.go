package targetid

import (
	"fmt"
	"strings"
)

// Normalize canonicalizes benchmark target names and aliases. Parameterised
// forms are returned as "mux:<address pins>" or "threshold:<inputs>:<lo>:<hi>";
// names it does not recognise come back lower-cased and dash-separated.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	if strings.Contains(normalized, ":") {
		return strings.ReplaceAll(normalized, " ", "")
	}
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	if canonical, ok := normalizeKnownAlias(normalized); ok {
		return canonical
	}
	return normalized
}

func normalizeKnownAlias(normalized string) (string, bool) {
	for _, candidate := range aliasCandidates(normalized) {
		if canonical, ok := canonicalTargetName(candidate); ok {
			return canonical, true
		}
	}
	return "", false
}

func aliasCandidates(normalized string) []string {
	candidate := normalized
	for _, prefix := range []string{"target-", "target", "bench-", "benchmark-"} {
		if trimmed := strings.TrimPrefix(candidate, prefix); trimmed != candidate {
			candidate = strings.Trim(trimmed, "-")
			break
		}
	}

	candidates := []string{normalized}
	if candidate != "" && candidate != normalized {
		candidates = append(candidates, candidate)
	}
	return candidates
}

// canonicalTargetName maps the benchmark names used by the command line to
// their parameterised form. Multiplexer names carry the total input count.
func canonicalTargetName(alias string) (string, bool) {
	compact := strings.ReplaceAll(alias, "-", "")
	switch compact {
	case "mux3", "multiplexer3":
		return "mux:1", true
	case "mux6", "multiplexer6":
		return "mux:2", true
	case "mux11", "multiplexer11":
		return "mux:3", true
	case "mux20", "multiplexer20":
		return "mux:4", true
	case "majority16", "threshold16":
		return "threshold:16:7:9", true
	}

	for _, prefix := range []string{"multiplexer", "mux"} {
		if !strings.HasPrefix(compact, prefix) {
			continue
		}
		var total int
		if _, err := fmt.Sscanf(strings.TrimPrefix(compact, prefix), "%d", &total); err != nil {
			return "", false
		}
		for pins := 1; pins <= 5; pins++ {
			if pins+(1<<pins) == total {
				return fmt.Sprintf("mux:%d", pins), true
			}
		}
	}
	return "", false
}
