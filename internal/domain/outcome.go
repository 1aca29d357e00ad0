package domain

// FailureCategory buckets raw provider failure text into retry policy groups.
type FailureCategory string

const (
	FailureConcurrencyLimit  FailureCategory = "concurrency_limit"
	FailureRateLimit         FailureCategory = "rate_limit"
	FailureContentPolicy     FailureCategory = "content_policy_rejection"
	FailureAuthentication    FailureCategory = "authentication_error"
	FailureServerError       FailureCategory = "server_error"
	FailureProviderCongested FailureCategory = "provider_congestion"
	FailureTimeout           FailureCategory = "timeout"
	FailureUnknown           FailureCategory = "unknown"
)

type OutcomeKind string

const (
	// OutcomeCompleted means the attempt produced an asset.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomePartial means the attempt ran out of poll budget but observed
	// progress; the job is still in flight on the provider side.
	OutcomePartial OutcomeKind = "partial"
	// OutcomeFailed covers every classified failure, including timeouts
	// where no progress signal was ever observed.
	OutcomeFailed OutcomeKind = "failed"
)

// AttemptOutcome is what one generation attempt reports back to the queue.
// Retry decisions belong to the queue, never to the attempt itself.
type AttemptOutcome struct {
	Kind            OutcomeKind
	Category        FailureCategory
	Retryable       bool
	ErrorMessage    string
	ProgressPercent int

	AssetPath      string
	AssetRemoteURL string
	AssetDegraded  bool
}
