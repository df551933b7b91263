package forcer

import (
	"regexp"
	"strings"
)

var (
	textPattern     = regexp.MustCompile(`(?s)ext\{(.*?)\}`)
	backtickPattern = regexp.MustCompile("(?s)```(.*?)```")
)

const boxedPrefix = "oxed{"

// ExtractBoxed returns the content of the last \boxed{...} in text, matching
// nested braces and unwrapping a \text{...} inside it. Without a boxed
// marker the last triple-backtick block is used, then fallback. An unclosed
// marker yields fallback, or the rest of the text when fallback is empty.
func ExtractBoxed(text, fallback string) string {
	start := strings.LastIndex(text, boxedPrefix)
	if start == -1 {
		if matches := backtickPattern.FindAllStringSubmatch(text, -1); len(matches) > 0 {
			return strings.TrimSpace(matches[len(matches)-1][1])
		}
		return fallback
	}

	if inner, ok := closedBoxed(text, start); ok {
		return inner
	}
	if fallback != "" {
		return fallback
	}
	return strings.TrimSpace(text[start+len(boxedPrefix):])
}

// closedBoxed returns the content of the marker starting at start when its
// braces close.
func closedBoxed(text string, start int) (string, bool) {
	open := start + len(boxedPrefix) - 1
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 {
				inner := text[open:i]
				if strings.Contains(inner, "ext{") {
					return extractText(inner), true
				}
				return strings.TrimSpace(text[open+1 : i]), true
			}
		}
	}
	return "", false
}

func extractText(text string) string {
	matches := textPattern.FindAllStringSubmatch(text, -1)
	if len(matches) > 0 {
		return strings.TrimSpace(matches[len(matches)-1][1])
	}
	return strings.TrimSpace(text)
}

// HasDecision reports whether the answer after the last reasoning section
// ends in a closed boxed marker holding at least one character of alphabet.
func HasDecision(text, alphabet string) bool {
	answer := text
	if i := strings.LastIndex(text, closeTag); i >= 0 {
		answer = text[i+len(closeTag):]
	}
	start := strings.LastIndex(answer, boxedPrefix)
	if start == -1 {
		return false
	}
	inner, ok := closedBoxed(answer, start)
	return ok && Sanitize(inner, alphabet) != ""
}

// Sanitize keeps only characters of alphabet.
func Sanitize(s, alphabet string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(alphabet, r) {
			return r
		}
		return -1
	}, s)
}
