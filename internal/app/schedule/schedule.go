// Package schedule runs the notification pipeline on cron expressions for
// deployments without external trigger infrastructure. The HTTP trigger
// endpoints stay available either way.
package schedule

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/raqeeb-app/raqeeb/internal/pipeline"
	"github.com/raqeeb-app/raqeeb/pkg/logger"
)

const (
	defaultIngestSpec = "*/15 * * * *"
	defaultDigestSpec = "*/5 * * * *"
)

// Runner drives periodic ingest runs and digest queue scans.
type Runner struct {
	pipeline *pipeline.Pipeline
	cron     *cron.Cron
	log      *zap.Logger

	ingestSchedule string
	digestSchedule string
}

// Option customises the Runner.
type Option func(*Runner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Runner) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithIngestSchedule overrides the cron specification for ingest runs.
func WithIngestSchedule(spec string) Option {
	return func(r *Runner) {
		if spec != "" {
			r.ingestSchedule = spec
		}
	}
}

// WithDigestSchedule overrides the cron specification for digest scans.
func WithDigestSchedule(spec string) Option {
	return func(r *Runner) {
		if spec != "" {
			r.digestSchedule = spec
		}
	}
}

// NewRunner constructs a Runner with sensible defaults.
func NewRunner(p *pipeline.Pipeline, opts ...Option) *Runner {
	runner := &Runner{
		pipeline:       p,
		ingestSchedule: defaultIngestSpec,
		digestSchedule: defaultDigestSpec,
		log:            logger.WithModule("schedule"),
	}

	for _, opt := range opts {
		opt(runner)
	}

	if runner.cron == nil {
		runner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return runner
}

// Start registers the pipeline jobs with the cron scheduler and launches it.
func (r *Runner) Start() error {
	if r.pipeline == nil {
		return nil
	}

	if _, err := r.cron.AddFunc(r.ingestSchedule, func() {
		if _, err := r.pipeline.Ingest(context.Background()); err != nil {
			r.log.Warn("scheduled ingest failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := r.cron.AddFunc(r.digestSchedule, func() {
		if _, err := r.pipeline.ProcessDigests(context.Background()); err != nil {
			r.log.Warn("scheduled digest scan failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	r.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (r *Runner) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes one ingest run and one digest scan sequentially.
// Primarily used in tests and during manual operations.
func (r *Runner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.pipeline == nil {
		return nil
	}

	var errs error
	if _, err := r.pipeline.Ingest(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := r.pipeline.ProcessDigests(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
