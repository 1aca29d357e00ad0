package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/iago/imagegen-back/internal/assets"
	"github.com/iago/imagegen-back/internal/domain"
	"github.com/iago/imagegen-back/internal/pace"
	"github.com/iago/imagegen-back/internal/safety"
)

type RunnerConfig struct {
	BaseURL string
	Timeout time.Duration
	Attempt AttemptConfig
	// StyleTags are appended to every request, a deployment-level look.
	StyleTags []string
}

// Runner builds a short-lived client from each job's settings snapshot and
// runs one attempt. One runner serves the whole queue; clients never outlive
// the attempt they were built for.
type Runner struct {
	config   RunnerConfig
	selector *ProfileSelector
	filter   safety.Filter
	assets   assets.Store
	logger   *log.Logger
}

func NewRunner(
	config RunnerConfig,
	selector *ProfileSelector,
	filter safety.Filter,
	assetStore assets.Store,
	logger *log.Logger,
) *Runner {
	return &Runner{
		config:   config,
		selector: selector,
		filter:   filter,
		assets:   assetStore,
		logger:   logger,
	}
}

func (r *Runner) Run(ctx context.Context, job *domain.Job) domain.AttemptOutcome {
	profile := r.selector.Select()

	client, err := NewClient(ClientConfig{
		BaseURL:  r.config.BaseURL,
		Settings: job.ProviderSettings,
		Timeout:  r.config.Timeout,
	})
	if err != nil {
		// A snapshot that cannot produce a client will not heal on
		// retry; the settings were fixed at enqueue time.
		return domain.AttemptOutcome{
			Kind:         domain.OutcomeFailed,
			Category:     domain.FailureAuthentication,
			Retryable:    false,
			ErrorMessage: fmt.Sprintf("provider client setup failed: %v", err),
		}
	}

	attempt := NewAttempt(AttemptDependencies{
		Client:      client,
		Pacer:       pace.New(profile.Pacing),
		Filter:      r.filter,
		Assets:      r.assets,
		Compression: profile.Compression,
		Config:      r.config.Attempt,
		Logger:      r.logger,
	})
	return attempt.Run(ctx, AttemptInput{
		JobID:        job.ID,
		Description:  job.Description,
		CustomPrompt: job.CustomPrompt,
		StyleTags:    r.config.StyleTags,
	})
}
