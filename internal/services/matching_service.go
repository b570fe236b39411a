package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/raqeeb-app/raqeeb/internal/models"
	"github.com/raqeeb-app/raqeeb/internal/textnorm"
	"github.com/raqeeb-app/raqeeb/pkg/logger"
	"github.com/raqeeb-app/raqeeb/pkg/metrics"
)

// DefaultMatchWindow is how far back matching looks when no explicit since
// timestamp is given.
const DefaultMatchWindow = 24 * time.Hour

// NewMatch is a freshly created match together with the context downstream
// scheduling and rendering need.
type NewMatch struct {
	Match        models.Match
	KeywordTerm  string
	UserID       string
	Announcement models.Announcement
}

// MatchingService computes keyword-to-announcement matches. A keyword
// matches an announcement iff every whitespace token of the normalized term
// is a substring of the normalized announcement text.
type MatchingService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewMatchingService constructs a MatchingService.
func NewMatchingService(db *gorm.DB) (*MatchingService, error) {
	if db == nil {
		return nil, errors.New("matching service: db is required")
	}
	return &MatchingService{
		db:  db,
		now: time.Now,
		log: logger.WithModule("matching"),
	}, nil
}

// WithClock overrides the time source, primarily for tests.
func (s *MatchingService) WithClock(now func() time.Time) *MatchingService {
	if now != nil {
		s.now = now
	}
	return s
}

// MatchSince evaluates all enabled keywords against announcements published
// at or after since (defaulting to the last 24 hours) and returns only the
// matches created by this invocation. The unique constraint on the
// (keyword, announcement) pair makes repeated runs over overlapping windows
// idempotent.
func (s *MatchingService) MatchSince(ctx context.Context, since time.Time) ([]NewMatch, error) {
	if since.IsZero() {
		since = s.now().Add(-DefaultMatchWindow)
	}

	var keywords []models.Keyword
	if err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Find(&keywords).Error; err != nil {
		return nil, err
	}

	var announcements []models.Announcement
	if err := s.db.WithContext(ctx).
		Where("published_at >= ?", since).
		Find(&announcements).Error; err != nil {
		return nil, err
	}

	type preparedKeyword struct {
		models.Keyword
		tokens []string
	}
	prepared := make([]preparedKeyword, 0, len(keywords))
	for _, kw := range keywords {
		tokens := strings.Fields(textnorm.Normalize(kw.Term))
		if len(tokens) == 0 {
			continue
		}
		prepared = append(prepared, preparedKeyword{Keyword: kw, tokens: tokens})
	}

	var created []NewMatch
	for _, ann := range announcements {
		text := textnorm.Normalize(ann.Title + " " + ann.Description)

		for _, kw := range prepared {
			if !containsAllTokens(text, kw.tokens) {
				continue
			}

			match := models.Match{KeywordID: kw.ID, AnnouncementID: ann.ID}
			tx := s.db.WithContext(ctx).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "keyword_id"}, {Name: "announcement_id"}},
					DoNothing: true,
				}).
				Create(&match)
			if tx.Error != nil {
				if isUniqueConstraintError(tx.Error) {
					continue
				}
				return created, tx.Error
			}
			if tx.RowsAffected == 0 {
				continue // match already existed from an earlier run
			}

			created = append(created, NewMatch{
				Match:        match,
				KeywordTerm:  kw.Term,
				UserID:       kw.UserID,
				Announcement: ann,
			})
		}
	}

	if len(created) > 0 {
		metrics.MatchesCreated.Add(float64(len(created)))
	}
	s.log.Info("matching completed",
		zap.Time("since", since),
		zap.Int("announcements", len(announcements)),
		zap.Int("keywords", len(prepared)),
		zap.Int("new_matches", len(created)),
	)
	return created, nil
}

// containsAllTokens implements conjunctive token matching.
func containsAllTokens(text string, tokens []string) bool {
	for _, token := range tokens {
		if !strings.Contains(text, token) {
			return false
		}
	}
	return true
}
