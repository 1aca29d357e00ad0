package classify

import (
	"testing"

	"github.com/iago/imagegen-back/internal/domain"
)

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		category  domain.FailureCategory
		retryable bool
	}{
		{
			name:      "provider concurrency cap",
			raw:       "You have reached the maximum allowed number of concurrent jobs",
			category:  domain.FailureConcurrencyLimit,
			retryable: true,
		},
		{
			name:      "queue full",
			raw:       "Job queue is full, try again later",
			category:  domain.FailureConcurrencyLimit,
			retryable: true,
		},
		{
			name:      "rate limited",
			raw:       "Rate limit exceeded, please slow down",
			category:  domain.FailureRateLimit,
			retryable: true,
		},
		{
			name:      "http 429",
			raw:       "provider returned 429 Too Many Requests",
			category:  domain.FailureRateLimit,
			retryable: true,
		},
		{
			name:      "policy rejection",
			raw:       "Your prompt violates our content policy",
			category:  domain.FailureContentPolicy,
			retryable: false,
		},
		{
			name:      "banned prompt",
			raw:       "Banned prompt detected",
			category:  domain.FailureContentPolicy,
			retryable: false,
		},
		{
			name:      "auth failure",
			raw:       "401 Unauthorized: invalid token",
			category:  domain.FailureAuthentication,
			retryable: false,
		},
		{
			name:      "forbidden",
			raw:       "Forbidden",
			category:  domain.FailureAuthentication,
			retryable: false,
		},
		{
			name:      "server error",
			raw:       "Internal Server Error",
			category:  domain.FailureServerError,
			retryable: true,
		},
		{
			name:      "bad gateway",
			raw:       "502 Bad Gateway",
			category:  domain.FailureServerError,
			retryable: true,
		},
		{
			name:      "unknown falls through retryable",
			raw:       "something strange happened",
			category:  domain.FailureUnknown,
			retryable: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.raw)
			if got.Category != tc.category {
				t.Fatalf("category = %s, want %s", got.Category, tc.category)
			}
			if got.Retryable != tc.retryable {
				t.Fatalf("retryable = %v, want %v", got.Retryable, tc.retryable)
			}
		})
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	lower := Classify("rate limit exceeded")
	upper := Classify("RATE LIMIT EXCEEDED")
	if lower.Category != upper.Category || lower.Retryable != upper.Retryable {
		t.Fatalf("classification differs by case: %+v vs %+v", lower, upper)
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// Concurrency wording wins over generic rate-limit wording when both
	// appear in the same message.
	got := Classify("too many jobs: rate limit reached")
	if got.Category != domain.FailureConcurrencyLimit {
		t.Fatalf("category = %s, want %s", got.Category, domain.FailureConcurrencyLimit)
	}
	if got.SuggestedDelay <= Classify("rate limit").SuggestedDelay {
		t.Fatalf("concurrency delay should exceed rate-limit delay")
	}
}

func TestClassifyDeterministic(t *testing.T) {
	first := Classify("service unavailable")
	for i := 0; i < 10; i++ {
		if got := Classify("service unavailable"); got != first {
			t.Fatalf("classification not deterministic: %+v vs %+v", got, first)
		}
	}
}
