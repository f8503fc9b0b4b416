package recovery

import "strings"

// Sanitize strips surrounding code fences and whitespace from model output.
// Unlike a full cleanup it never touches the body, so offsets inside the JSON
// stay exactly as the model produced them.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		} else {
			raw = strings.TrimPrefix(raw, "```")
			raw = strings.TrimPrefix(raw, "json")
		}
	}
	raw = strings.TrimSpace(raw)
	if strings.HasSuffix(raw, "```") {
		raw = strings.TrimSuffix(raw, "```")
	}

	return strings.TrimSpace(raw)
}
