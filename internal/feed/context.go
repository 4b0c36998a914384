package feed

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// History caps for the interest context
const (
	recentLikesCap  = 100
	recentViewsCap  = 200
	diversityWindow = 20
)

// ContextBuilder assembles a viewer's social and interest context
type ContextBuilder struct {
	repo   Repository
	logger *zap.Logger
}

// NewContextBuilder creates a new context builder
func NewContextBuilder(repo Repository, logger *zap.Logger) *ContextBuilder {
	return &ContextBuilder{
		repo:   repo,
		logger: logger.With(zap.String("component", "context-builder")),
	}
}

// Build assembles the viewer context. The five reads run concurrently; a
// failed read leaves its field empty and the build still succeeds.
func (b *ContextBuilder) Build(ctx context.Context, viewer uuid.UUID) (*UserContext, error) {
	uc := &UserContext{
		Friends:       make(map[uuid.UUID]struct{}),
		Mutuals:       make(map[uuid.UUID]struct{}),
		Groups:        make(map[uuid.UUID]struct{}),
		LikedHashtags: make(map[string]struct{}),
		ViewedAuthors: make(map[uuid.UUID]int),
		RecentAuthors: make(map[uuid.UUID]int),
	}

	var (
		follows   []uuid.UUID
		followers []uuid.UUID
		groups    []uuid.UUID
		likes     []LikedPost
		views     []ViewEvent
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if follows, err = b.repo.Follows(gctx, viewer); err != nil {
			b.logger.Warn("follows lookup failed", zap.String("viewer_id", viewer.String()), zap.Error(err))
			follows = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if followers, err = b.repo.Followers(gctx, viewer); err != nil {
			b.logger.Warn("followers lookup failed", zap.String("viewer_id", viewer.String()), zap.Error(err))
			followers = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if groups, err = b.repo.GroupsOf(gctx, viewer); err != nil {
			b.logger.Warn("groups lookup failed", zap.String("viewer_id", viewer.String()), zap.Error(err))
			groups = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if likes, err = b.repo.RecentLikes(gctx, viewer, recentLikesCap); err != nil {
			b.logger.Warn("recent likes lookup failed", zap.String("viewer_id", viewer.String()), zap.Error(err))
			likes = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if views, err = b.repo.RecentViews(gctx, viewer, recentViewsCap); err != nil {
			b.logger.Warn("recent views lookup failed", zap.String("viewer_id", viewer.String()), zap.Error(err))
			views = nil
		}
		return nil
	})

	// Sub-queries absorb their own failures; only cancellation aborts the build.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, id := range follows {
		uc.Friends[id] = struct{}{}
	}
	for _, id := range groups {
		uc.Groups[id] = struct{}{}
	}
	for _, id := range followers {
		uc.Mutuals[id] = struct{}{}
	}

	for _, like := range likes {
		for _, tag := range like.Hashtags {
			uc.LikedHashtags[tag] = struct{}{}
		}
	}

	for i, view := range views {
		uc.ViewedAuthors[view.AuthorID]++
		if i < diversityWindow {
			uc.RecentAuthors[view.AuthorID]++
		}
	}

	return uc, nil
}
