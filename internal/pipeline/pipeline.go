package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/raqeeb-app/raqeeb/internal/feed"
	"github.com/raqeeb-app/raqeeb/internal/services"
	"github.com/raqeeb-app/raqeeb/pkg/logger"
)

// Fetcher abstracts the upstream feed so tests can substitute canned
// records for the HTTP client.
type Fetcher interface {
	Fetch(ctx context.Context) ([]feed.Record, []feed.RecordError, error)
}

// IngestSummary reports one full pipeline run.
type IngestSummary struct {
	Fetched        int                `json:"fetched"`
	Stored         int                `json:"stored"`
	NewMatches     int                `json:"new_matches"`
	ImmediateUsers int                `json:"immediate_users"`
	QueuedDigests  int                `json:"queued_digests"`
	DroppedUsers   int                `json:"dropped_users"`
	FailedUsers    int                `json:"failed_users"`
	ScheduleErrors []string           `json:"schedule_errors,omitempty"`
	RecordErrors   []feed.RecordError `json:"record_errors,omitempty"`
}

// MatchSummary reports one standalone matching run.
type MatchSummary struct {
	Since          time.Time `json:"since"`
	NewMatches     int       `json:"new_matches"`
	ImmediateUsers int       `json:"immediate_users"`
	QueuedDigests  int       `json:"queued_digests"`
	DroppedUsers   int       `json:"dropped_users"`
	FailedUsers    int       `json:"failed_users"`
	ScheduleErrors []string  `json:"schedule_errors,omitempty"`
}

// DigestSummary reports one digest queue scan.
type DigestSummary struct {
	Processed int `json:"processed"`
}

// Pipeline chains feed ingestion, matching, scheduling and dispatch as
// in-process calls. Each stage is also reachable on its own through the
// trigger endpoints.
type Pipeline struct {
	fetcher       Fetcher
	announcements *services.AnnouncementService
	matching      *services.MatchingService
	scheduler     *services.SchedulerService
	dispatcher    *services.DispatchService
	matchWindow   time.Duration
	now           func() time.Time
	log           *zap.Logger
}

// Options configures a Pipeline.
type Options struct {
	Fetcher       Fetcher
	Announcements *services.AnnouncementService
	Matching      *services.MatchingService
	Scheduler     *services.SchedulerService
	Dispatcher    *services.DispatchService
	// MatchWindow bounds how far back Ingest matches after storing new
	// records. Zero means services.DefaultMatchWindow.
	MatchWindow time.Duration
	Now         func() time.Time
}

// New constructs a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if opts.Announcements == nil || opts.Matching == nil || opts.Scheduler == nil || opts.Dispatcher == nil {
		return nil, errors.New("pipeline: all stages are required")
	}

	p := &Pipeline{
		fetcher:       opts.Fetcher,
		announcements: opts.Announcements,
		matching:      opts.Matching,
		scheduler:     opts.Scheduler,
		dispatcher:    opts.Dispatcher,
		matchWindow:   opts.MatchWindow,
		now:           opts.Now,
		log:           logger.WithModule("pipeline"),
	}
	if p.matchWindow <= 0 {
		p.matchWindow = services.DefaultMatchWindow
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Ingest runs the full chain: fetch the feed, store new announcements,
// match the recent window, schedule the resulting notifications and
// drain any digests that are already due. A feed failure aborts the run;
// per-record problems are carried in the summary instead.
func (p *Pipeline) Ingest(ctx context.Context) (IngestSummary, error) {
	var summary IngestSummary

	records, dropped, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return summary, err
	}
	summary.Fetched = len(records)
	summary.RecordErrors = append(summary.RecordErrors, dropped...)

	stored := p.announcements.Store(ctx, records)
	summary.Stored = stored.NewCount
	summary.RecordErrors = append(summary.RecordErrors, stored.Errors...)

	created, err := p.matching.MatchSince(ctx, p.now().Add(-p.matchWindow))
	if err != nil {
		return summary, err
	}
	summary.NewMatches = len(created)

	scheduled, err := p.scheduler.Schedule(ctx, created)
	if err != nil {
		return summary, err
	}
	summary.ImmediateUsers = scheduled.ImmediateUsers
	summary.QueuedDigests = scheduled.QueuedDigests
	summary.DroppedUsers = scheduled.DroppedUsers
	summary.FailedUsers = scheduled.FailedUsers
	summary.ScheduleErrors = scheduled.Errors

	if len(created) > 0 {
		if _, err := p.dispatcher.ProcessDue(ctx, p.now()); err != nil {
			p.log.Warn("digest drain after ingest failed", zap.Error(err))
		}
	}

	p.log.Info("ingest run completed",
		zap.Int("fetched", summary.Fetched),
		zap.Int("stored", summary.Stored),
		zap.Int("new_matches", summary.NewMatches),
		zap.Int("record_errors", len(summary.RecordErrors)),
	)
	return summary, nil
}

// CreateMatches runs matching and scheduling over announcements published
// at or after since, without touching the feed.
func (p *Pipeline) CreateMatches(ctx context.Context, since time.Time) (MatchSummary, error) {
	if since.IsZero() {
		since = p.now().Add(-p.matchWindow)
	}
	summary := MatchSummary{Since: since}

	created, err := p.matching.MatchSince(ctx, since)
	if err != nil {
		return summary, err
	}
	summary.NewMatches = len(created)

	scheduled, err := p.scheduler.Schedule(ctx, created)
	if err != nil {
		return summary, err
	}
	summary.ImmediateUsers = scheduled.ImmediateUsers
	summary.QueuedDigests = scheduled.QueuedDigests
	summary.DroppedUsers = scheduled.DroppedUsers
	summary.FailedUsers = scheduled.FailedUsers
	summary.ScheduleErrors = scheduled.Errors
	return summary, nil
}

// ProcessDigests delivers every digest due at or before now.
func (p *Pipeline) ProcessDigests(ctx context.Context) (DigestSummary, error) {
	processed, err := p.dispatcher.ProcessDue(ctx, p.now())
	return DigestSummary{Processed: processed}, err
}
