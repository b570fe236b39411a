package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raqeeb-app/raqeeb/internal/feed"
	"github.com/raqeeb-app/raqeeb/internal/pipeline"
	appErrors "github.com/raqeeb-app/raqeeb/pkg/errors"
	"github.com/raqeeb-app/raqeeb/pkg/response"
)

// CronHandler exposes the pipeline trigger endpoints. The endpoints are
// synchronous: the response carries the summary of the run they triggered.
type CronHandler struct {
	pipeline *pipeline.Pipeline
}

// NewCronHandler constructs a CronHandler.
func NewCronHandler(p *pipeline.Pipeline) (*CronHandler, error) {
	if p == nil {
		return nil, errors.New("cron handler: pipeline is required")
	}
	return &CronHandler{pipeline: p}, nil
}

// Ingest runs the full fetch-store-match-schedule chain.
func (h *CronHandler) Ingest(c *gin.Context) {
	summary, err := h.pipeline.Ingest(requestContext(c))
	if err != nil {
		response.Error(c, feedError(err))
		return
	}
	response.Success(c, http.StatusOK, summary)
}

type createMatchesRequest struct {
	Since string `json:"since" validate:"required"`
}

// CreateMatches runs matching and scheduling over announcements published
// at or after the supplied timestamp.
func (h *CronHandler) CreateMatches(c *gin.Context) {
	var req createMatchesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	since, err := time.Parse(time.RFC3339, req.Since)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("since must be an RFC 3339 timestamp"))
		return
	}

	summary, err := h.pipeline.CreateMatches(requestContext(c), since)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// ProcessDigests delivers every digest currently due.
func (h *CronHandler) ProcessDigests(c *gin.Context) {
	summary, err := h.pipeline.ProcessDigests(requestContext(c))
	if err != nil {
		// Partial failure: some digests were delivered, others will be
		// retried on the next scan. Report what succeeded.
		response.Success(c, http.StatusOK, gin.H{
			"processed": summary.Processed,
			"error":     err.Error(),
		})
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// feedError maps upstream feed failures onto the 502 error family so
// callers can tell a bad upstream from a broken service.
func feedError(err error) error {
	switch {
	case errors.Is(err, feed.ErrUnavailable), errors.Is(err, feed.ErrEmptyResponse):
		return appErrors.ErrFeedUnavailable
	case errors.Is(err, feed.ErrDecode), errors.Is(err, feed.ErrFormat):
		return appErrors.ErrFeedMalformed
	default:
		return err
	}
}
