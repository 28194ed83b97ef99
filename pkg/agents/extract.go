package agents

import "strings"

// ExtractCode pulls the first fenced code block out of an LLM response.
// Language tags on the fence are ignored. When no fence is present the
// whole trimmed response is returned, which covers models that follow the
// "code only" instruction literally.
func ExtractCode(response string) string {
	trimmed := strings.TrimSpace(response)

	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}

	rest := trimmed[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line if the fence has one.
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || isLanguageTag(firstLine) {
			rest = rest[nl+1:]
		}
	}

	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func isLanguageTag(s string) bool {
	if len(s) > 20 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '#') {
			return false
		}
	}
	return true
}
