package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipfeed/ranker/internal/feed"
	"github.com/clipfeed/ranker/pkg/config"
)

// PageProvider serves feed pages; implemented by feed.Ranker
type PageProvider interface {
	GetPage(ctx context.Context, req feed.PageRequest) (*feed.PageResponse, error)
}

// feedRequest is the wire form of a feed page request. Fields are typed and
// validated up front; nothing reaches the Repository on malformed input.
type feedRequest struct {
	ViewerID        string    `json:"viewer_id" binding:"required,uuid"`
	PageSize        int       `json:"page_size" binding:"omitempty,min=1,max=50"`
	SessionID       string    `json:"session_id" binding:"required"`
	SessionOpenedAt time.Time `json:"session_opened_at" binding:"required"`
	RefreshNonce    int       `json:"refresh_nonce" binding:"gte=0"`
	ForceRefresh    bool      `json:"force_refresh"`
	ExcludePostIDs  []string  `json:"exclude_post_ids" binding:"omitempty,max=500,dive,uuid"`
}

// FeedHandler handles feed page requests
type FeedHandler struct {
	ranker PageProvider
	cfg    config.RankerConfig
	logger *zap.Logger
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(ranker PageProvider, cfg config.RankerConfig, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{
		ranker: ranker,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "feed-handler")),
	}
}

// GetFeed handles POST /v1/feed
func (h *FeedHandler) GetFeed(c *gin.Context) {
	var wire feedRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		h.sendError(c, NewError(KindInvalidRequest, err.Error()))
		return
	}

	req, err := h.toPageRequest(wire)
	if err != nil {
		h.sendError(c, NewError(KindInvalidRequest, err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
	defer cancel()

	page, err := h.ranker.GetPage(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			h.sendError(c, NewError(KindDeadlineExceeded, "request deadline exceeded"))
		case errors.Is(err, feed.ErrAllSourcesFailed):
			h.logger.Error("feed request failed", zap.String("viewer_id", wire.ViewerID), zap.Error(err))
			h.sendError(c, NewError(KindInternal, "feed temporarily unavailable"))
		default:
			h.logger.Error("feed request failed", zap.String("viewer_id", wire.ViewerID), zap.Error(err))
			h.sendError(c, NewError(KindInternal, "internal error"))
		}
		return
	}

	c.JSON(200, page)
}

// toPageRequest applies defaults and converts wire ids
func (h *FeedHandler) toPageRequest(wire feedRequest) (feed.PageRequest, error) {
	viewer, err := uuid.Parse(wire.ViewerID)
	if err != nil {
		return feed.PageRequest{}, fmt.Errorf("invalid viewer_id: %w", err)
	}

	pageSize := wire.PageSize
	if pageSize == 0 {
		pageSize = h.cfg.DefaultPageSize
	}
	if pageSize > h.cfg.MaxPageSize {
		return feed.PageRequest{}, fmt.Errorf("page_size above maximum %d", h.cfg.MaxPageSize)
	}

	excludes := make([]uuid.UUID, 0, len(wire.ExcludePostIDs))
	for _, raw := range wire.ExcludePostIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return feed.PageRequest{}, fmt.Errorf("invalid exclude_post_ids entry: %w", err)
		}
		excludes = append(excludes, id)
	}

	return feed.PageRequest{
		ViewerID:        viewer,
		PageSize:        pageSize,
		SessionID:       wire.SessionID,
		SessionOpenedAt: wire.SessionOpenedAt,
		RefreshNonce:    wire.RefreshNonce,
		ForceRefresh:    wire.ForceRefresh,
		ExcludePostIDs:  excludes,
	}, nil
}

func (h *FeedHandler) sendError(c *gin.Context, apiErr *Error) {
	c.JSON(apiErr.Status(), apiErr.body())
}
