package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecentQuery selects recent candidates of one media kind.
// Videos are ordered newest first, images by like count.
type RecentQuery struct {
	Kind          MediaKind
	Since         time.Time
	ExcludeAuthor uuid.UUID
	Limit         int
	ExcludeIDs    []uuid.UUID
}

// ViralQuery selects older posts that crossed a like threshold,
// ordered by like count.
type ViralQuery struct {
	Kind          MediaKind
	Before        time.Time
	MinLikes      int64
	ExcludeAuthor uuid.UUID
	Limit         int
	ExcludeIDs    []uuid.UUID
}

// TrendingQuery selects popular posts for cold start and fallback,
// ordered by like count. A zero Since means no time floor.
type TrendingQuery struct {
	Kind          MediaKind
	Since         time.Time
	ExcludeAuthor uuid.UUID
	Limit         int
	ExcludeIDs    []uuid.UUID
}

// Repository is the capability interface the ranker depends on. All storage
// coupling lives behind it; the gorm adapter in internal/db is the concrete
// implementation. Implementations return honest errors; callers in this
// package absorb read failures as empty results.
type Repository interface {
	// Follows returns the viewer's outgoing follows
	Follows(ctx context.Context, viewer uuid.UUID) ([]uuid.UUID, error)

	// Followers returns the viewer's incoming follows
	Followers(ctx context.Context, viewer uuid.UUID) ([]uuid.UUID, error)

	// GroupsOf returns the group memberships of a user
	GroupsOf(ctx context.Context, user uuid.UUID) ([]uuid.UUID, error)

	// RecentLikes returns the viewer's most recent n liked posts
	RecentLikes(ctx context.Context, viewer uuid.UUID, n int) ([]LikedPost, error)

	// RecentViews returns the viewer's most recent n views, newest first
	RecentViews(ctx context.Context, viewer uuid.UUID, n int) ([]ViewEvent, error)

	// CandidatesRecent returns recent posts matching the query
	CandidatesRecent(ctx context.Context, q RecentQuery) ([]Post, error)

	// CandidatesViral returns older high-like posts matching the query
	CandidatesViral(ctx context.Context, q ViralQuery) ([]Post, error)

	// CandidatesTrending returns popular posts for cold start and fallback
	CandidatesTrending(ctx context.Context, q TrendingQuery) ([]Post, error)

	// GroupsOfUsers batches GroupsOf across the scoring pass
	GroupsOfUsers(ctx context.Context, users []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)

	// FollowsOfUsers batches outgoing-follow lookups across the scoring pass
	FollowsOfUsers(ctx context.Context, users []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)

	// ImpressionsSince returns post ids the viewer saw at or after since
	ImpressionsSince(ctx context.Context, viewer uuid.UUID, since time.Time) ([]uuid.UUID, error)

	// WriteImpressions persists a served page, idempotent on (viewer, post)
	WriteImpressions(ctx context.Context, rows []ImpressionRow) error

	// WriteScores persists final scores for analytics, best effort
	WriteScores(ctx context.Context, rows []ScoreRow) error
}
