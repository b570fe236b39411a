package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/models"
	appErrors "github.com/raqeeb-app/raqeeb/pkg/errors"
	"github.com/raqeeb-app/raqeeb/pkg/response"
)

// AnnouncementHandler exposes read-only listings over stored announcements
// and matches.
type AnnouncementHandler struct {
	db *gorm.DB
}

// NewAnnouncementHandler constructs an AnnouncementHandler.
func NewAnnouncementHandler(db *gorm.DB) (*AnnouncementHandler, error) {
	if db == nil {
		return nil, errors.New("announcement handler: db is required")
	}
	return &AnnouncementHandler{db: db}, nil
}

// List returns announcements newest first with limit/offset pagination. An
// optional since query parameter (RFC 3339) restricts results to
// announcements published at or after that instant.
func (h *AnnouncementHandler) List(c *gin.Context) {
	limit := clampLimit(parseIntQuery(c, "limit", 25))
	offset := parseIntQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("since must be an RFC 3339 timestamp"))
			return
		}
		since = parsed
	}

	countQuery := h.db.WithContext(requestContext(c)).Model(&models.Announcement{})
	listQuery := h.db.WithContext(requestContext(c)).
		Order("published_at DESC").
		Limit(limit).
		Offset(offset)
	if !since.IsZero() {
		countQuery = countQuery.Where("published_at >= ?", since)
		listQuery = listQuery.Where("published_at >= ?", since)
	}

	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		response.Error(c, err)
		return
	}

	var items []models.Announcement
	if err := listQuery.Find(&items).Error; err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Limit:  limit,
		Offset: offset,
		Total:  total,
	})
}

// ListMatches returns matches newest first, with keyword and announcement
// preloaded for display.
func (h *AnnouncementHandler) ListMatches(c *gin.Context) {
	limit := clampLimit(parseIntQuery(c, "limit", 25))
	offset := parseIntQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := h.db.WithContext(requestContext(c)).
		Model(&models.Match{}).
		Count(&total).Error; err != nil {
		response.Error(c, err)
		return
	}

	var items []models.Match
	if err := h.db.WithContext(requestContext(c)).
		Preload("Keyword").
		Preload("Announcement").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error; err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Limit:  limit,
		Offset: offset,
		Total:  total,
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 25
	}
	if limit > 100 {
		return 100
	}
	return limit
}
