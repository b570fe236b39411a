package services

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/raqeeb-app/raqeeb/internal/feed"
	"github.com/raqeeb-app/raqeeb/internal/models"
	"github.com/raqeeb-app/raqeeb/pkg/logger"
	"github.com/raqeeb-app/raqeeb/pkg/metrics"
)

const storeChunkSize = 10

// StoreResult summarises one ingestion pass.
type StoreResult struct {
	NewCount int                `json:"new_count"`
	Errors   []feed.RecordError `json:"errors,omitempty"`
}

// AnnouncementService idempotently persists feed records. Repeated
// ingestion of the same feed payload is a no-op thanks to the uniqueness
// constraint on the external id.
type AnnouncementService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewAnnouncementService constructs an AnnouncementService.
func NewAnnouncementService(db *gorm.DB) (*AnnouncementService, error) {
	if db == nil {
		return nil, errors.New("announcement service: db is required")
	}
	return &AnnouncementService{db: db, log: logger.WithModule("announcements")}, nil
}

// Store inserts records in chunks, parallel within a chunk and sequential
// across chunks to bound load on the database. Existing external ids are
// skipped silently; non-duplicate insert failures are reported per record
// without aborting the rest.
func (s *AnnouncementService) Store(ctx context.Context, records []feed.Record) StoreResult {
	var (
		mu     sync.Mutex
		result StoreResult
	)

	for start := 0; start < len(records); start += storeChunkSize {
		end := start + storeChunkSize
		if end > len(records) {
			end = len(records)
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(storeChunkSize)
		for _, record := range records[start:end] {
			g.Go(func() error {
				created, err := s.insert(gCtx, record)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					result.Errors = append(result.Errors, feed.RecordError{
						ID:     record.ExternalID,
						Reason: err.Error(),
					})
				case created:
					result.NewCount++
				}
				return nil
			})
		}
		_ = g.Wait() // per-record failures are collected, never returned
	}

	if result.NewCount > 0 {
		metrics.AnnouncementsStored.Add(float64(result.NewCount))
	}
	s.log.Info("announcements stored",
		zap.Int("received", len(records)),
		zap.Int("new", result.NewCount),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

// insert attempts an upsert-or-ignore keyed on the external id. The
// unique constraint, not a check-then-insert, guards against concurrent
// ingestion runs.
func (s *AnnouncementService) insert(ctx context.Context, record feed.Record) (bool, error) {
	row := models.Announcement{
		ExternalID:  record.ExternalID,
		Title:       record.Title,
		Description: record.Description,
		SourceURL:   record.SourceURL,
		PublishedAt: record.PublishedAt,
	}

	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(&row)
	if tx.Error != nil {
		if isUniqueConstraintError(tx.Error) {
			return false, nil
		}
		return false, tx.Error
	}

	return tx.RowsAffected > 0, nil
}
