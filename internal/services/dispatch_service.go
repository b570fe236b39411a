package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/models"
	"github.com/raqeeb-app/raqeeb/pkg/logger"
	"github.com/raqeeb-app/raqeeb/pkg/mail"
	"github.com/raqeeb-app/raqeeb/pkg/metrics"
)

const immediateSubject = "New announcements matching your keywords"

// DispatchService renders and sends notification emails and records every
// delivery attempt in the history table. Immediate sends are attempted
// once; digest sends are implicitly retried on the next scan because a
// failed entry keeps sent = false.
type DispatchService struct {
	db     *gorm.DB
	mailer mail.Mailer
	now    func() time.Time
	log    *zap.Logger
}

// NewDispatchService constructs a DispatchService.
func NewDispatchService(db *gorm.DB, mailer mail.Mailer) (*DispatchService, error) {
	if db == nil {
		return nil, errors.New("dispatch service: db is required")
	}
	if mailer == nil {
		return nil, errors.New("dispatch service: mailer is required")
	}
	return &DispatchService{
		db:     db,
		mailer: mailer,
		now:    time.Now,
		log:    logger.WithModule("dispatch"),
	}, nil
}

// WithClock overrides the time source, primarily for tests.
func (s *DispatchService) WithClock(now func() time.Time) *DispatchService {
	if now != nil {
		s.now = now
	}
	return s
}

// SendImmediate delivers the user's new matches in a single email and
// writes exactly one history record for the attempt. Failures are not
// retried automatically.
func (s *DispatchService) SendImmediate(ctx context.Context, userID string, matches []NewMatch) error {
	if len(matches) == 0 {
		return nil
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("skipping immediate send for unknown user", zap.String("user_id", userID))
			return nil
		}
		return fmt.Errorf("dispatch service: load user: %w", err)
	}
	if strings.TrimSpace(user.Email) == "" {
		s.log.Warn("skipping immediate send, user has no email", zap.String("user_id", userID))
		return nil
	}

	groups := groupNewMatches(matches)
	content := renderImmediate(groups)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Match.ID)
	}

	sendErr := s.mailer.Send(ctx, mail.Message{
		To:      []string{user.Email},
		Subject: immediateSubject,
		Body:    content,
	})

	s.recordHistory(ctx, userID, models.ChannelEmail, immediateSubject, content, ids, sendErr)
	if sendErr != nil {
		metrics.NotificationsSent.WithLabelValues(models.ChannelEmail, "failed").Inc()
		return fmt.Errorf("dispatch service: send immediate: %w", sendErr)
	}

	metrics.NotificationsSent.WithLabelValues(models.ChannelEmail, "sent").Inc()
	return nil
}

// ProcessDue scans the digest queue for entries due at or before now,
// sends each one and flips its sent flag. A failed entry keeps sent =
// false so the next scan retries it; one user's failure never blocks the
// rest of the scan. Returns the number of digests delivered.
func (s *DispatchService) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	var due []models.DigestQueueEntry
	if err := s.db.WithContext(ctx).
		Where("sent = ? AND scheduled_for <= ?", false, now).
		Preload("Matches.Keyword").
		Preload("Matches.Announcement").
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("dispatch service: scan digest queue: %w", err)
	}

	processed := 0
	var failures error
	for _, entry := range due {
		if err := s.sendDigest(ctx, entry); err != nil {
			failures = multierr.Append(failures, fmt.Errorf("digest %s: %w", entry.ID, err))
			continue
		}
		processed++
	}

	if processed > 0 {
		metrics.DigestsProcessed.Add(float64(processed))
	}
	s.log.Info("digest scan completed",
		zap.Int("due", len(due)),
		zap.Int("delivered", processed),
	)
	return processed, failures
}

func (s *DispatchService) sendDigest(ctx context.Context, entry models.DigestQueueEntry) error {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", entry.UserID).Error; err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if strings.TrimSpace(user.Email) == "" {
		return errors.New("user has no email")
	}

	periodEnd := s.now()
	periodStart := periodEnd.AddDate(0, 0, -1)
	label := "daily"
	if entry.Frequency == models.FrequencyWeekly {
		periodStart = periodEnd.AddDate(0, 0, -7)
		label = "weekly"
	}

	subject := fmt.Sprintf("Your %s announcements digest", label)
	groups := groupEntryMatches(entry.Matches)
	content := renderDigest(label, periodStart, periodEnd, groups)

	ids := make([]string, 0, len(entry.Matches))
	for _, m := range entry.Matches {
		ids = append(ids, m.ID)
	}

	sendErr := s.mailer.Send(ctx, mail.Message{
		To:      []string{user.Email},
		Subject: subject,
		Body:    content,
	})

	s.recordHistory(ctx, entry.UserID, models.ChannelEmailDigest, subject, content, ids, sendErr)
	if sendErr != nil {
		metrics.NotificationsSent.WithLabelValues(models.ChannelEmailDigest, "failed").Inc()
		return sendErr
	}

	if err := s.db.WithContext(ctx).
		Model(&models.DigestQueueEntry{}).
		Where("id = ?", entry.ID).
		Update("sent", true).Error; err != nil {
		// The email went out; the next scan will resend. At-least-once
		// delivery is the accepted tradeoff here.
		return fmt.Errorf("mark sent: %w", err)
	}

	metrics.NotificationsSent.WithLabelValues(models.ChannelEmailDigest, "sent").Inc()
	return nil
}

// recordHistory writes the immutable per-attempt record. History write
// failures are logged but never mask the delivery outcome.
func (s *DispatchService) recordHistory(ctx context.Context, userID, channel, subject, content string, matchIDs []string, sendErr error) {
	record := models.NotificationHistoryRecord{
		UserID:  userID,
		Channel: channel,
		Status:  models.StatusSent,
		Subject: subject,
		Content: content,
		SentAt:  s.now(),
	}
	if sendErr != nil {
		record.Status = models.StatusFailed
		record.Error = sendErr.Error()
	}
	if data, err := json.Marshal(matchIDs); err == nil {
		record.MatchIDs = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.log.Error("writing notification history failed",
			zap.String("user_id", userID),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}
