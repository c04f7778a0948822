package util

import "strings"

// ExtractJsonFromText returns the outermost JSON object or array embedded in
// text, or "" when none is there. Crashing workers sometimes leave stray
// interpreter output around the payload they already wrote.
func ExtractJsonFromText(text string) string {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(text, "}")
	if text[start] == '[' {
		end = strings.LastIndex(text, "]")
	}
	if end <= start {
		return ""
	}
	return text[start : end+1]
}
