package prompt

import (
	"strings"
	"testing"
)

func TestBuildEmbedsTokenVerbatim(t *testing.T) {
	text := Build(BuildInput{
		Description: "rustic sourdough loaf",
		Token:       "ref1712345678901042",
	})
	if !strings.Contains(text, "ref1712345678901042") {
		t.Fatalf("token missing from prompt: %s", text)
	}
	if !strings.HasPrefix(text, "rustic sourdough loaf") {
		t.Fatalf("description not leading: %s", text)
	}
}

func TestBuildCustomPromptOverridesDescription(t *testing.T) {
	text := Build(BuildInput{
		Description:  "default dish text",
		CustomPrompt: "moody overhead photo of ramen",
		Token:        "ref1",
	})
	if strings.Contains(text, "default dish text") {
		t.Fatalf("description leaked past custom prompt: %s", text)
	}
	if !strings.Contains(text, "moody overhead photo of ramen") {
		t.Fatalf("custom prompt missing: %s", text)
	}
}

func TestBuildAppendsStyleTags(t *testing.T) {
	text := Build(BuildInput{
		Description: "lemon tart",
		Token:       "ref2",
		StyleTags:   []string{"food photography", "natural light"},
	})
	if !strings.HasSuffix(text, "food photography, natural light") {
		t.Fatalf("tags not appended: %s", text)
	}
}

func TestCleanStripsURLsAndWhitespace(t *testing.T) {
	got := Clean("see   https://example.com/recipe  for\tdetails")
	if strings.Contains(got, "http") {
		t.Fatalf("url survived cleanup: %s", got)
	}
	if strings.Contains(got, "  ") {
		t.Fatalf("whitespace not collapsed: %q", got)
	}
}

func TestCleanCapsLength(t *testing.T) {
	got := Clean(strings.Repeat("x", maxTextLength+500))
	if len(got) > maxTextLength {
		t.Fatalf("len = %d, want <= %d", len(got), maxTextLength)
	}
}

func TestNewTokenUnlikelyCollision(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		token := NewToken()
		if !strings.HasPrefix(token, "ref") {
			t.Fatalf("unexpected token shape: %s", token)
		}
		seen[token] = struct{}{}
	}
	if len(seen) < 40 {
		t.Fatalf("tokens collide too often: %d unique of 50", len(seen))
	}
}
