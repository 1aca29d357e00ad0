// Package classify maps raw provider failure text to a category and retry
// policy. It is a pure function so the queue's retry ladders can be tested
// against literal provider strings.
package classify

import (
	"strings"
	"time"

	"github.com/iago/imagegen-back/internal/domain"
)

// Classification is the verdict for one raw failure message.
type Classification struct {
	Category       domain.FailureCategory
	Retryable      bool
	SuggestedDelay time.Duration
}

// Rules are checked in order; the first category with a matching keyword
// wins, so more specific buckets must come before generic ones.
var rules = []struct {
	category  domain.FailureCategory
	retryable bool
	delay     time.Duration
	keywords  []string
}{
	{
		category:  domain.FailureConcurrencyLimit,
		retryable: true,
		delay:     45 * time.Second,
		keywords: []string{
			"maximum allowed number of concurrent",
			"concurrent jobs",
			"job queue is full",
			"queue full",
			"already have the maximum",
			"too many jobs",
		},
	},
	{
		category:  domain.FailureRateLimit,
		retryable: true,
		delay:     5 * time.Second,
		keywords: []string{
			"rate limit",
			"rate limited",
			"too many requests",
			"slow down",
			"429",
		},
	},
	{
		category:  domain.FailureContentPolicy,
		retryable: false,
		keywords: []string{
			"content policy",
			"banned prompt",
			"policy violation",
			"violates",
			"against our community standards",
			"blocked",
			"not allowed",
		},
	},
	{
		category:  domain.FailureAuthentication,
		retryable: false,
		keywords: []string{
			"unauthorized",
			"forbidden",
			"invalid token",
			"invalid credential",
			"authentication",
			"401",
			"403",
		},
	},
	{
		category:  domain.FailureServerError,
		retryable: true,
		delay:     8 * time.Second,
		keywords: []string{
			"internal error",
			"internal server error",
			"server error",
			"bad gateway",
			"service unavailable",
			"500",
			"502",
			"503",
		},
	},
}

const unknownDelay = 10 * time.Second

// Classify buckets a raw failure message. Unrecognized messages come back
// retryable so transient unclassified failures are not silently fatal.
func Classify(raw string) Classification {
	message := strings.ToLower(raw)
	for _, rule := range rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(message, keyword) {
				return Classification{
					Category:       rule.category,
					Retryable:      rule.retryable,
					SuggestedDelay: rule.delay,
				}
			}
		}
	}
	return Classification{
		Category:       domain.FailureUnknown,
		Retryable:      true,
		SuggestedDelay: unknownDelay,
	}
}
