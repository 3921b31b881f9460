package model

import (
	"sort"
	"strings"
	"time"
)

// ReviewRequest is one code-review submission. It is never persisted.
type ReviewRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	UserID   string `json:"-"`
}

// ReviewResult is what the provider returned for a ReviewRequest.
// ImprovedCode is empty when the critique has no "Improved Code" section;
// HasImprovedCode distinguishes that from an empty block.
type ReviewResult struct {
	Review          string    `json:"review"`
	ImprovedCode    string    `json:"improvedCode,omitempty"`
	HasImprovedCode bool      `json:"hasImprovedCode"`
	CompletedAt     time.Time `json:"completedAt"`
}

// languages maps accepted language tags to the label used in prompts.
// The set mirrors the editor's language picker.
var languages = map[string]string{
	"javascript": "JavaScript",
	"typescript": "TypeScript",
	"jsx":        "React (JSX)",
	"python":     "Python",
	"java":       "Java",
	"c":          "C",
	"cpp":        "C++",
	"csharp":     "C#",
	"go":         "Go",
	"rust":       "Rust",
	"php":        "PHP",
	"ruby":       "Ruby",
	"swift":      "Swift",
	"kotlin":     "Kotlin",
	"dart":       "Dart",
	"r":          "R",
	"scala":      "Scala",
	"perl":       "Perl",
	"haskell":    "Haskell",
	"lua":        "Lua",
	"bash":       "Bash / Shell",
	"powershell": "PowerShell",
	"solidity":   "Solidity",
	"sql":        "SQL",
}

// NormalizeLanguage trims and lower-cases tag and reports whether it is one
// of the supported languages.
func NormalizeLanguage(tag string) (string, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	_, ok := languages[tag]
	return tag, ok
}

// LanguageLabel returns the human-readable name for a normalized tag.
func LanguageLabel(tag string) string {
	if label, ok := languages[tag]; ok {
		return label
	}
	return tag
}

// Languages returns every supported tag in sorted order.
func Languages() []string {
	tags := make([]string, 0, len(languages))
	for tag := range languages {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
