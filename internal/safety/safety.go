// Package safety rewrites prompt text that trips the generation provider's
// moderation and rejects text that cannot be salvaged by substitution.
package safety

import (
	"errors"
	"regexp"
	"strings"
)

var ErrContentRejected = errors.New("content rejected by safety filter")

// Change records one substitution applied to the prompt.
type Change struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the filter verdict. When OK is false the text must not be
// submitted to the provider.
type Result struct {
	OK           bool
	FilteredText string
	Changes      []Change
	Violations   []Violation
}

type RejectionError struct {
	Violations []Violation
}

func (e *RejectionError) Error() string {
	if len(e.Violations) == 0 {
		return ErrContentRejected.Error()
	}
	return "content rejected by safety filter: " + e.Violations[0].Message
}

func (e *RejectionError) Unwrap() error {
	return ErrContentRejected
}

// Filter is the collaborator contract the generation client depends on.
type Filter interface {
	Filter(text string) Result
}

// substitutions maps terms the provider's moderation is known to flag to
// neutral replacements that preserve the culinary meaning.
var substitutions = map[string]string{
	"bloody":     "rich red",
	"blood":      "deep red",
	"shot":       "small glass",
	"shots":      "small glasses",
	"killer":     "amazing",
	"bone-in":    "on the bone",
	"breast":     "fillet",
	"breasts":    "fillets",
	"thigh":      "leg cut",
	"thighs":     "leg cuts",
	"naked":      "plain",
	"smash":      "press",
	"smashed":    "pressed",
	"toxic":      "intense",
	"crack":      "irresistible",
	"devil's":    "spicy",
	"deviled":    "spiced",
	"drunken":    "wine-infused",
	"flesh":      "pulp",
	"butt":       "shoulder cut",
	"strip":      "loin cut",
	"chopped up": "diced",
}

// blockedTerms cannot be substituted; their presence rejects the prompt.
var blockedTerms = []string{
	"gore",
	"nsfw",
	"explicit",
	"nude",
	"weapon",
}

const maxPromptLength = 2000

// WordFilter applies the substitution table and blocks what remains
// unsalvageable. It is stateless and safe for concurrent use.
type WordFilter struct{}

func NewWordFilter() *WordFilter {
	return &WordFilter{}
}

func (f *WordFilter) Filter(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{OK: true}
	}
	if len(trimmed) > maxPromptLength {
		return Result{
			OK: false,
			Violations: []Violation{{
				Code:    "prompt_too_long",
				Message: "prompt exceeds the safety filter size limit",
			}},
		}
	}

	filtered := trimmed
	changes := make([]Change, 0, 2)
	for term, replacement := range substitutions {
		replaced, count := replaceWord(filtered, term, replacement)
		if count > 0 {
			filtered = replaced
			changes = append(changes, Change{Original: term, Replacement: replacement})
		}
	}

	lowered := strings.ToLower(filtered)
	for _, term := range blockedTerms {
		if containsWord(lowered, term) {
			return Result{
				OK:      false,
				Changes: changes,
				Violations: []Violation{{
					Code:    "blocked_term",
					Message: "prompt contains a term blocked by policy",
				}},
			}
		}
	}

	return Result{OK: true, FilteredText: filtered, Changes: changes}
}

// Enforce converts a non-OK result into a typed rejection error.
func Enforce(result Result) error {
	if result.OK {
		return nil
	}
	return &RejectionError{Violations: result.Violations}
}

func replaceWord(text, term, replacement string) (string, int) {
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
	count := len(pattern.FindAllStringIndex(text, -1))
	if count == 0 {
		return text, 0
	}
	return pattern.ReplaceAllString(text, replacement), count
}

func containsWord(lowered, term string) bool {
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
	return pattern.MatchString(lowered)
}
