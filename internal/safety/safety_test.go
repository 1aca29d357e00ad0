package safety

import (
	"errors"
	"strings"
	"testing"
)

func TestFilterSubstitutesFlaggedTerms(t *testing.T) {
	f := NewWordFilter()
	result := f.Filter("Killer bloody mary with chicken breast")
	if !result.OK {
		t.Fatalf("expected OK, got violations %v", result.Violations)
	}
	lowered := strings.ToLower(result.FilteredText)
	for _, banned := range []string{"killer", "bloody", "breast"} {
		if strings.Contains(lowered, banned) {
			t.Fatalf("filtered text still contains %q: %s", banned, result.FilteredText)
		}
	}
	if len(result.Changes) != 3 {
		t.Fatalf("changes = %d, want 3 (%v)", len(result.Changes), result.Changes)
	}
}

func TestFilterCaseInsensitive(t *testing.T) {
	f := NewWordFilter()
	result := f.Filter("BLOODY orange cake")
	if !result.OK {
		t.Fatalf("expected OK, got %v", result.Violations)
	}
	if strings.Contains(strings.ToLower(result.FilteredText), "bloody") {
		t.Fatalf("uppercase term not substituted: %s", result.FilteredText)
	}
}

func TestFilterDoesNotTouchSubstrings(t *testing.T) {
	f := NewWordFilter()
	// "shot" must not rewrite "shortbread".
	result := f.Filter("classic shortbread cookies")
	if result.FilteredText != "classic shortbread cookies" {
		t.Fatalf("substring rewritten: %s", result.FilteredText)
	}
	if len(result.Changes) != 0 {
		t.Fatalf("unexpected changes: %v", result.Changes)
	}
}

func TestFilterRejectsBlockedTerms(t *testing.T) {
	f := NewWordFilter()
	result := f.Filter("explicit photo of a cake")
	if result.OK {
		t.Fatal("expected rejection")
	}
	if len(result.Violations) == 0 || result.Violations[0].Code != "blocked_term" {
		t.Fatalf("violations = %v", result.Violations)
	}
}

func TestFilterRejectsOversizedPrompt(t *testing.T) {
	f := NewWordFilter()
	result := f.Filter(strings.Repeat("a", maxPromptLength+1))
	if result.OK {
		t.Fatal("expected rejection")
	}
	if result.Violations[0].Code != "prompt_too_long" {
		t.Fatalf("violations = %v", result.Violations)
	}
}

func TestFilterEmptyPromptAllowed(t *testing.T) {
	f := NewWordFilter()
	if result := f.Filter("   "); !result.OK {
		t.Fatalf("blank prompt rejected: %v", result.Violations)
	}
}

func TestEnforceWrapsSentinel(t *testing.T) {
	f := NewWordFilter()
	err := Enforce(f.Filter("nsfw content"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrContentRejected) {
		t.Fatalf("error does not unwrap to sentinel: %v", err)
	}
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("error is not a RejectionError: %T", err)
	}
	if err := Enforce(f.Filter("plain tomato soup")); err != nil {
		t.Fatalf("OK result produced error: %v", err)
	}
}
