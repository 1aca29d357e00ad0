package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/iago/imagegen-back/internal/assets"
	"github.com/iago/imagegen-back/internal/classify"
	"github.com/iago/imagegen-back/internal/domain"
	"github.com/iago/imagegen-back/internal/imaging"
	"github.com/iago/imagegen-back/internal/pace"
	"github.com/iago/imagegen-back/internal/prompt"
	"github.com/iago/imagegen-back/internal/safety"
)

type attemptState string

const (
	stateInitializing attemptState = "initializing"
	stateSubmitted    attemptState = "submitted"
	statePolling      attemptState = "polling"
	stateCompleted    attemptState = "completed"
	stateTimedOut     attemptState = "timed_out"
	stateFailed       attemptState = "failed"
)

type AttemptConfig struct {
	// MaxPolls is the base poll budget; congestion extends it once.
	MaxPolls int
	// PollInterval is the base inter-poll sleep; congestion lengthens it.
	PollInterval time.Duration
	// CongestionExtraPolls is added to the budget on the first congestion
	// signal, since an internally queued request is not a failure.
	CongestionExtraPolls int
	// ExtendedWait is the single long sleep after the budget runs out,
	// before the final wide-window check.
	ExtendedWait time.Duration
	// FeedWindow and FinalFeedWindow bound the fetched message counts.
	FeedWindow      int
	FinalFeedWindow int
}

func (c *AttemptConfig) applyDefaults() {
	if c.MaxPolls <= 0 {
		c.MaxPolls = 30
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.CongestionExtraPolls <= 0 {
		c.CongestionExtraPolls = 15
	}
	if c.ExtendedWait <= 0 {
		c.ExtendedWait = 2 * time.Minute
	}
	if c.FeedWindow <= 0 {
		c.FeedWindow = 20
	}
	if c.FinalFeedWindow <= 0 {
		c.FinalFeedWindow = 50
	}
}

type AttemptDependencies struct {
	Client      *Client
	Pacer       *pace.Controller
	Filter      safety.Filter
	Assets      assets.Store
	Compression imaging.Profile
	Config      AttemptConfig
	Logger      *log.Logger
}

// Attempt runs one generation end to end: initialize session, filter and
// submit the prompt, poll the feed for the correlated response, retrieve and
// re-encode the asset. It never retries on its own; every failure is
// classified and reported so retry policy stays with the queue.
type Attempt struct {
	client      *Client
	pacer       *pace.Controller
	filter      safety.Filter
	assets      assets.Store
	compression imaging.Profile
	config      AttemptConfig
	logger      *log.Logger

	state        attemptState
	token        string
	lastProgress int
	sawActivity  bool
}

func NewAttempt(deps AttemptDependencies) *Attempt {
	deps.Config.applyDefaults()
	return &Attempt{
		client:       deps.Client,
		pacer:        deps.Pacer,
		filter:       deps.Filter,
		assets:       deps.Assets,
		compression:  deps.Compression,
		config:       deps.Config,
		logger:       deps.Logger,
		state:        stateInitializing,
		lastProgress: -1,
	}
}

type AttemptInput struct {
	JobID        string
	Description  string
	CustomPrompt string
	StyleTags    []string
}

// Run executes the attempt. The returned outcome always has a well-defined
// kind; transport and feed errors surface as classified failures.
func (a *Attempt) Run(ctx context.Context, input AttemptInput) domain.AttemptOutcome {
	if err := a.client.Initialize(ctx); err != nil {
		return a.fail(err.Error())
	}

	requestText, err := a.buildRequest(input)
	if err != nil {
		// Safety rejection is final: no provider call was made and
		// resubmitting the same prompt cannot succeed.
		return domain.AttemptOutcome{
			Kind:         domain.OutcomeFailed,
			Category:     domain.FailureContentPolicy,
			Retryable:    false,
			ErrorMessage: err.Error(),
		}
	}

	if err := a.pacer.Typing(ctx); err != nil {
		return a.cancelled(err)
	}
	if err := a.pacer.Wait(ctx); err != nil {
		return a.cancelled(err)
	}
	if err := a.client.Submit(ctx, requestText); err != nil {
		return a.fail(err.Error())
	}
	a.state = stateSubmitted
	a.logf("request submitted job_id=%s token=%s", input.JobID, a.token)

	message, outcome := a.poll(ctx, input.JobID)
	if outcome != nil {
		return *outcome
	}

	a.state = stateCompleted
	return a.retrieve(ctx, input.JobID, *message)
}

func (a *Attempt) buildRequest(input AttemptInput) (string, error) {
	source := input.Description
	if input.CustomPrompt != "" {
		source = input.CustomPrompt
	}
	result := a.filter.Filter(source)
	if err := safety.Enforce(result); err != nil {
		return "", err
	}
	if len(result.Changes) > 0 {
		a.logf("safety filter adjusted prompt job_id=%s changes=%d", input.JobID, len(result.Changes))
	}

	a.token = prompt.NewToken()
	return prompt.Build(prompt.BuildInput{
		Description: result.FilteredText,
		Token:       a.token,
		StyleTags:   input.StyleTags,
	}), nil
}

// poll watches the feed until a completed message appears or the budget,
// extended wait and final check are all exhausted. It returns either the
// completed message or a terminal outcome.
func (a *Attempt) poll(ctx context.Context, jobID string) (*FeedMessage, *domain.AttemptOutcome) {
	a.state = statePolling
	budget := a.config.MaxPolls
	interval := a.config.PollInterval
	congestionExtended := false

	if err := a.pacer.Reading(ctx); err != nil {
		outcome := a.cancelled(err)
		return nil, &outcome
	}

	for poll := 0; poll < budget; poll++ {
		if poll > 0 {
			if err := sleepCtx(ctx, interval); err != nil {
				outcome := a.cancelled(err)
				return nil, &outcome
			}
		}

		message, signal, err := a.scanFeed(ctx, a.config.FeedWindow)
		if err != nil {
			outcome := a.fail(err.Error())
			return nil, &outcome
		}
		if message == nil {
			continue
		}

		switch signal.Kind {
		case SignalQueueCongestion:
			// Internally queued requests keep the attempt alive: grow the
			// budget once and slow down so the queue can drain.
			if !congestionExtended {
				budget += a.config.CongestionExtraPolls
				interval *= 2
				congestionExtended = true
				a.logf("provider congestion observed job_id=%s extended_budget=%d", jobID, budget)
			}
			a.sawActivity = true
		case SignalWaitingToStart, SignalPaused:
			a.sawActivity = true
		case SignalProgress:
			if signal.Progress > a.lastProgress {
				a.lastProgress = signal.Progress
			}
			a.sawActivity = true
		case SignalCompleted:
			return message, nil
		case SignalError:
			outcome := a.fail(signal.ErrorText)
			return nil, &outcome
		}
	}

	// One extended wait, then a final check against a wider window in case
	// the result scrolled past the regular window.
	if err := sleepCtx(ctx, a.config.ExtendedWait); err != nil {
		outcome := a.cancelled(err)
		return nil, &outcome
	}
	message, signal, err := a.scanFeed(ctx, a.config.FinalFeedWindow)
	if err != nil {
		outcome := a.fail(err.Error())
		return nil, &outcome
	}
	if message != nil && signal.Kind == SignalCompleted {
		return message, nil
	}

	if a.lastProgress >= 0 {
		// Degraded partial result: the provider is still working, the job
		// must not be surfaced as failed.
		outcome := domain.AttemptOutcome{
			Kind:            domain.OutcomePartial,
			ProgressPercent: a.lastProgress,
		}
		return nil, &outcome
	}

	a.state = stateTimedOut
	category := domain.FailureTimeout
	errorMessage := "no completion signal observed within the poll budget"
	if a.sawActivity {
		category = domain.FailureProviderCongested
		errorMessage = "provider congestion: request never started within the poll budget"
	}
	outcome := domain.AttemptOutcome{
		Kind:         domain.OutcomeFailed,
		Category:     category,
		Retryable:    true,
		ErrorMessage: errorMessage,
	}
	return nil, &outcome
}

// scanFeed fetches one feed window and interprets the first correlated
// message carrying an actionable signal.
func (a *Attempt) scanFeed(ctx context.Context, window int) (*FeedMessage, Signal, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return nil, Signal{}, err
	}
	messages, err := a.client.FetchFeed(ctx, window)
	if err != nil {
		return nil, Signal{}, err
	}

	var (
		found  *FeedMessage
		signal Signal
	)
	for i := range messages {
		message := messages[i]
		if !message.Matches(a.token) {
			continue
		}
		interpreted := Interpret(message)
		if interpreted.Kind == SignalNone {
			continue
		}
		// Completed messages win over earlier progress chatter.
		if found == nil || interpreted.Kind == SignalCompleted {
			found = &message
			signal = interpreted
		}
		if signal.Kind == SignalCompleted {
			break
		}
	}
	return found, signal, nil
}

// retrieve downloads the asset before anything else, because the remote
// reference expires quickly, then re-encodes and stores it.
func (a *Attempt) retrieve(ctx context.Context, jobID string, message FeedMessage) domain.AttemptOutcome {
	attachment, ok := ImageAttachment(message)
	if !ok {
		return a.fail("completed message carries no attachment")
	}

	data, err := a.client.DownloadAttachment(ctx, attachment.URL)
	if err != nil {
		if IsExpiredAsset(err) {
			// Soft failure: the remote copy aged out before we got to it.
			// Keep the URL as a degraded reference instead of failing.
			a.logf("asset expired before download job_id=%s url=%s", jobID, attachment.URL)
			return domain.AttemptOutcome{
				Kind:           domain.OutcomeCompleted,
				AssetRemoteURL: attachment.URL,
				AssetDegraded:  true,
			}
		}
		return a.fail(err.Error())
	}

	for position, control := range message.Controls {
		a.logf("variant control job_id=%s index=%d label=%q", jobID, ControlIndex(control, position), control.Label)
	}

	encoded, err := imaging.Encode(data, a.compression)
	if err != nil {
		return a.fail(fmt.Sprintf("re-encode asset: %v", err))
	}
	a.logf(
		"asset re-encoded job_id=%s profile=%s bytes_in=%d bytes_out=%d reduction=%.1f%%",
		jobID, a.compression, encoded.BytesIn, encoded.BytesOut, encoded.ReductionP,
	)

	path, err := a.assets.Save(encoded.Data, jobID+".jpg")
	if err != nil {
		return a.fail(fmt.Sprintf("store asset: %v", err))
	}

	return domain.AttemptOutcome{
		Kind:           domain.OutcomeCompleted,
		AssetPath:      path,
		AssetRemoteURL: attachment.URL,
	}
}

// fail classifies raw failure text so the queue can pick a retry ladder.
func (a *Attempt) fail(raw string) domain.AttemptOutcome {
	a.state = stateFailed
	verdict := classify.Classify(raw)
	return domain.AttemptOutcome{
		Kind:         domain.OutcomeFailed,
		Category:     verdict.Category,
		Retryable:    verdict.Retryable,
		ErrorMessage: raw,
	}
}

func (a *Attempt) cancelled(err error) domain.AttemptOutcome {
	a.state = stateFailed
	return domain.AttemptOutcome{
		Kind:         domain.OutcomeFailed,
		Category:     domain.FailureUnknown,
		Retryable:    true,
		ErrorMessage: fmt.Sprintf("attempt interrupted: %v", err),
	}
}

func (a *Attempt) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
