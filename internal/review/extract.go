// Package review holds the provider prompt and the parser that pulls the
// "Improved Code" block out of a provider's markdown critique.
package review

import (
	"regexp"
	"strings"
)

// improvedHeading matches a heading line whose text contains "improved"
// followed later on the same line by "code". The line is either an ATX
// heading (# .. ######) or a single bold span standing alone, optionally
// followed by a colon. A paragraph that merely opens with bold text is not
// a heading.
var improvedHeading = regexp.MustCompile(`(?i)^\s{0,3}(?:#{1,6}\s.*improved.*code|(?:\*\*|__)[^*_]*improved[^*_]*code[^*_]*(?:\*\*|__)\s*:?\s*$)`)

// openingFence matches ``` with an optional info string such as "js" or
// "c++".
var openingFence = regexp.MustCompile("^\\s*```[\\w+#.-]*\\s*$")

// ExtractImprovedCode returns the trimmed contents of the first fenced block
// that follows the first "Improved ... Code" heading in raw.
//
// ok is false when raw is empty, has no such heading, or has no complete
// fence after it. Absence is a normal result: the provider may have found
// nothing to improve.
func ExtractImprovedCode(raw string) (code string, ok bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	start := -1
	for i, line := range lines {
		if improvedHeading.MatchString(line) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return "", false
	}

	open := -1
	for i := start; i < len(lines); i++ {
		if openingFence.MatchString(lines[i]) {
			open = i
			break
		}
	}
	if open < 0 {
		return "", false
	}

	for i := open + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "```" {
			return strings.TrimSpace(strings.Join(lines[open+1:i], "\n")), true
		}
	}
	// unterminated fence
	return "", false
}
