package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/models"
	"github.com/raqeeb-app/raqeeb/pkg/logger"
)

const (
	defaultDigestTime = "09:00"
	defaultDigestDay  = time.Monday
)

// ScheduleResult summarises one scheduling pass. FailedUsers counts users
// whose digest could not be queued; their matches exist but carry no pending
// notification, so the failure must be visible to the caller.
type ScheduleResult struct {
	ImmediateUsers int      `json:"immediate_users"`
	QueuedDigests  int      `json:"queued_digests"`
	DroppedUsers   int      `json:"dropped_users"`
	FailedUsers    int      `json:"failed_users"`
	Errors         []string `json:"errors,omitempty"`
}

// SchedulerService decides, per user, whether new matches trigger an
// immediate send or are queued into a digest due at the user's configured
// day and time.
type SchedulerService struct {
	db         *gorm.DB
	dispatcher *DispatchService
	now        func() time.Time
	log        *zap.Logger
}

// NewSchedulerService constructs a SchedulerService.
func NewSchedulerService(db *gorm.DB, dispatcher *DispatchService) (*SchedulerService, error) {
	if db == nil {
		return nil, errors.New("scheduler service: db is required")
	}
	if dispatcher == nil {
		return nil, errors.New("scheduler service: dispatcher is required")
	}
	return &SchedulerService{
		db:         db,
		dispatcher: dispatcher,
		now:        time.Now,
		log:        logger.WithModule("scheduler"),
	}, nil
}

// WithClock overrides the time source, primarily for tests.
func (s *SchedulerService) WithClock(now func() time.Time) *SchedulerService {
	if now != nil {
		s.now = now
	}
	return s
}

// Schedule routes freshly created matches. Users without a stored
// preference default to enabled immediate email. One user's delivery
// failure never blocks another user's matches.
func (s *SchedulerService) Schedule(ctx context.Context, newMatches []NewMatch) (ScheduleResult, error) {
	var result ScheduleResult
	if len(newMatches) == 0 {
		return result, nil
	}

	byUser := make(map[string][]NewMatch)
	order := make([]string, 0)
	for _, m := range newMatches {
		if _, seen := byUser[m.UserID]; !seen {
			order = append(order, m.UserID)
		}
		byUser[m.UserID] = append(byUser[m.UserID], m)
	}

	prefs, err := s.loadPreferences(ctx, order)
	if err != nil {
		return result, err
	}

	now := s.now()
	for _, userID := range order {
		matches := byUser[userID]
		pref := prefs[userID]

		if !pref.EmailEnabled {
			// Matches stay queryable via the match table; they just never
			// produce a notification.
			result.DroppedUsers++
			continue
		}

		if pref.Frequency == models.FrequencyImmediate {
			if err := s.dispatcher.SendImmediate(ctx, userID, matches); err != nil {
				s.log.Warn("immediate send failed",
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
			result.ImmediateUsers++
			continue
		}

		entry := models.DigestQueueEntry{
			UserID:       userID,
			Frequency:    pref.Frequency,
			ScheduledFor: NextDigestTime(pref, now),
			Matches:      matchRows(matches),
		}
		// Omit the match rows themselves; only join rows are inserted.
		if err := s.db.WithContext(ctx).Omit("Matches.*").Create(&entry).Error; err != nil {
			s.log.Error("queueing digest failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			result.FailedUsers++
			result.Errors = append(result.Errors, fmt.Sprintf("queue digest for user %s: %v", userID, err))
			continue
		}
		result.QueuedDigests++
	}

	s.log.Info("scheduling completed",
		zap.Int("users", len(order)),
		zap.Int("immediate", result.ImmediateUsers),
		zap.Int("queued", result.QueuedDigests),
		zap.Int("dropped", result.DroppedUsers),
		zap.Int("failed", result.FailedUsers),
	)
	return result, nil
}

// loadPreferences fetches stored preferences for the given users and fills
// in the enabled-immediate default for users without one.
func (s *SchedulerService) loadPreferences(ctx context.Context, userIDs []string) (map[string]models.NotificationPreference, error) {
	var rows []models.NotificationPreference
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scheduler service: load preferences: %w", err)
	}

	prefs := make(map[string]models.NotificationPreference, len(userIDs))
	for _, row := range rows {
		prefs[row.UserID] = row
	}
	for _, id := range userIDs {
		if _, ok := prefs[id]; !ok {
			prefs[id] = models.NotificationPreference{
				UserID:       id,
				EmailEnabled: true,
				Frequency:    models.FrequencyImmediate,
			}
		}
	}
	return prefs, nil
}

// NextDigestTime computes when the user's next digest is due. The candidate
// is today at the configured digest time; a daily candidate in the past
// moves to tomorrow, a weekly candidate rolls forward to the configured
// weekday and then a further week if still not in the future.
func NextDigestTime(pref models.NotificationPreference, now time.Time) time.Time {
	hour, minute := parseDigestTime(pref.DigestTime)
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	switch pref.Frequency {
	case models.FrequencyWeekly:
		target := parseDigestDay(pref.DigestDay)
		for candidate.Weekday() != target {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 7)
		}
	default: // DAILY
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
	}

	return candidate
}

// parseDigestTime parses "HH:MM", falling back to 09:00 on anything else.
func parseDigestTime(value string) (hour, minute int) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = defaultDigestTime
	}

	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 9, 0
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 9, 0
	}
	return h, m
}

var digestDays = map[string]time.Weekday{
	"SUNDAY":    time.Sunday,
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
}

func parseDigestDay(value string) time.Weekday {
	if day, ok := digestDays[strings.ToUpper(strings.TrimSpace(value))]; ok {
		return day
	}
	return defaultDigestDay
}

func matchRows(matches []NewMatch) []models.Match {
	rows := make([]models.Match, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, m.Match)
	}
	return rows
}
