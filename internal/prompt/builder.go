// Package prompt assembles the request text sent to the generation
// provider: cleaned description, correlation token, optional style tags.
package prompt

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

const maxTextLength = 1800

var (
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

type BuildInput struct {
	// Description is the subject text, typically a dish name and summary.
	Description string
	// CustomPrompt overrides Description entirely when set.
	CustomPrompt string
	// Token is the correlation token to embed verbatim.
	Token string
	// StyleTags are appended after the token, comma separated.
	StyleTags []string
}

// Build produces the outgoing request text. The token is embedded verbatim
// so feed messages can later be matched back to this request.
func Build(input BuildInput) string {
	text := input.Description
	if strings.TrimSpace(input.CustomPrompt) != "" {
		text = input.CustomPrompt
	}
	text = Clean(text)

	parts := make([]string, 0, 3)
	if text != "" {
		parts = append(parts, text)
	}
	if input.Token != "" {
		parts = append(parts, input.Token)
	}
	if len(input.StyleTags) > 0 {
		tags := make([]string, 0, len(input.StyleTags))
		for _, tag := range input.StyleTags {
			if cleaned := Clean(tag); cleaned != "" {
				tags = append(tags, cleaned)
			}
		}
		if len(tags) > 0 {
			parts = append(parts, strings.Join(tags, ", "))
		}
	}
	return strings.Join(parts, " ")
}

// Clean strips URLs, collapses whitespace and caps the length. Provider
// prompts reject markup and overly long input, so this runs on every field.
func Clean(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if len(text) > maxTextLength {
		text = strings.TrimSpace(text[:maxTextLength])
	}
	return text
}

// NewToken derives a correlation token from the current timestamp plus
// random jitter digits, making accidental collisions across concurrent
// attempts unlikely while staying inert inside the prompt text.
func NewToken() string {
	return fmt.Sprintf("ref%d%03d", time.Now().UnixMilli(), rand.Intn(1000))
}
