package review

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/sakif/code-reviewer/internal/model"
)

// DefaultPromptTemplate asks for a structured critique that ends in the
// heading ExtractImprovedCode looks for.
//
// Template fields: .Language (display label), .Tag (normalized tag), .Code.
const DefaultPromptTemplate = `You are a senior software engineer performing a code review.

Review the following {{.Language}} code. Respond in Markdown with these sections, in order:

## 🔍 Issues
Bugs, security problems and incorrect behaviour, most severe first.

## 💡 Suggestions
Readability, performance and idiomatic {{.Language}} improvements.

## ✨ Improved Code
The complete improved version of the code in a single fenced block tagged "{{.Tag}}".
Omit this section entirely if no change is warranted.

Code to review:
` + "```{{.Tag}}\n{{.Code}}\n```\n"

// PromptBuilder renders review prompts from a text/template.
type PromptBuilder struct {
	tmpl *template.Template
}

// NewPromptBuilder parses text as the prompt template. An empty text selects
// DefaultPromptTemplate.
func NewPromptBuilder(text string) (*PromptBuilder, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPromptTemplate
	}
	tmpl, err := template.New("review").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("review: parsing prompt template: %w", err)
	}
	return &PromptBuilder{tmpl: tmpl}, nil
}

// Build renders the prompt for code written in the normalized language tag.
func (b *PromptBuilder) Build(tag, code string) (string, error) {
	var sb strings.Builder
	err := b.tmpl.Execute(&sb, struct {
		Language string
		Tag      string
		Code     string
	}{
		Language: model.LanguageLabel(tag),
		Tag:      tag,
		Code:     code,
	})
	if err != nil {
		return "", fmt.Errorf("review: rendering prompt: %w", err)
	}
	return sb.String(), nil
}

var defaultBuilder = func() *PromptBuilder {
	b, err := NewPromptBuilder("")
	if err != nil {
		panic(err)
	}
	return b
}()

// BuildPrompt renders DefaultPromptTemplate.
func BuildPrompt(tag, code string) (string, error) {
	return defaultBuilder.Build(tag, code)
}
