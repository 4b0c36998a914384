package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clipfeed/ranker/pkg/config"
)

// CandidateSource gathers the deduplicated ranking pool for a viewer by
// unioning three streams: recent videos, recent images, and older viral
// videos. The bucket queries run concurrently.
type CandidateSource struct {
	repo   Repository
	cfg    config.RankerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewCandidateSource creates a new candidate source
func NewCandidateSource(repo Repository, cfg config.RankerConfig, logger *zap.Logger) *CandidateSource {
	return &CandidateSource{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "candidate-source")),
		now:    time.Now,
	}
}

// Candidates returns the ranking pool for the viewer. Posts authored by the
// viewer or present in excluded never appear. Bucket read failures are
// absorbed: the bucket contributes nothing and the gather continues.
func (s *CandidateSource) Candidates(ctx context.Context, viewer uuid.UUID, pageSize int, excluded map[uuid.UUID]struct{}) ([]Post, error) {
	poolTarget := pageSize * s.cfg.PoolMultiplier
	videoQuota := int(float64(poolTarget) * s.cfg.VideoShare)
	imageQuota := poolTarget - videoQuota

	since := s.now().AddDate(0, 0, -s.cfg.RecentWindowDays)
	excludeIDs := make([]uuid.UUID, 0, len(excluded))
	for id := range excluded {
		excludeIDs = append(excludeIDs, id)
	}

	var recentVideos, recentImages, viral []Post

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		recentVideos, err = s.repo.CandidatesRecent(gctx, RecentQuery{
			Kind:          MediaVideo,
			Since:         since,
			ExcludeAuthor: viewer,
			Limit:         videoQuota,
			ExcludeIDs:    excludeIDs,
		})
		if err != nil {
			s.logger.Warn("recent video bucket failed", zap.Error(err))
			recentVideos = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recentImages, err = s.repo.CandidatesRecent(gctx, RecentQuery{
			Kind:          MediaImage,
			Since:         since,
			ExcludeAuthor: viewer,
			Limit:         imageQuota,
			ExcludeIDs:    excludeIDs,
		})
		if err != nil {
			s.logger.Warn("recent image bucket failed", zap.Error(err))
			recentImages = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		viral, err = s.repo.CandidatesViral(gctx, ViralQuery{
			Kind:          MediaVideo,
			Before:        since,
			MinLikes:      int64(s.cfg.ViralMinLikes),
			ExcludeAuthor: viewer,
			Limit:         s.cfg.ViralPoolSize,
			ExcludeIDs:    excludeIDs,
		})
		if err != nil {
			s.logger.Warn("viral bucket failed", zap.Error(err))
			viral = nil
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Concatenate and deduplicate by id, preserving first occurrence.
	pool := make([]Post, 0, len(recentVideos)+len(recentImages)+len(viral))
	seen := make(map[uuid.UUID]struct{}, cap(pool))
	for _, bucket := range [][]Post{recentVideos, recentImages, viral} {
		for _, p := range bucket {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			if p.AuthorID == viewer {
				continue
			}
			if _, skip := excluded[p.ID]; skip {
				continue
			}
			seen[p.ID] = struct{}{}
			pool = append(pool, p)
		}
	}

	return pool, nil
}
