package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipfeed/ranker/internal/feed"
	"github.com/clipfeed/ranker/internal/models"
)

// FeedRepository is the gorm implementation of feed.Repository
type FeedRepository struct {
	db *gorm.DB
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(db *gorm.DB) *FeedRepository {
	return &FeedRepository{db: db}
}

// Follows returns the viewer's outgoing follows
func (r *FeedRepository) Follows(ctx context.Context, viewer uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ?", viewer).
		Pluck("followee_id", &ids).Error
	return ids, err
}

// Followers returns the viewer's incoming follows
func (r *FeedRepository) Followers(ctx context.Context, viewer uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("followee_id = ?", viewer).
		Pluck("follower_id", &ids).Error
	return ids, err
}

// GroupsOf returns the group memberships of a user
func (r *FeedRepository) GroupsOf(ctx context.Context, user uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.GroupMember{}).
		Where("user_id = ?", user).
		Pluck("group_id", &ids).Error
	return ids, err
}

// RecentLikes returns the viewer's most recent n liked posts
func (r *FeedRepository) RecentLikes(ctx context.Context, viewer uuid.UUID, n int) ([]feed.LikedPost, error) {
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Joins("JOIN post_likes ON post_likes.post_id = feed_posts.id").
		Where("post_likes.user_id = ?", viewer).
		Order("post_likes.created_at DESC").
		Limit(n).
		Find(&posts).Error
	if err != nil {
		return nil, err
	}

	out := make([]feed.LikedPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, feed.LikedPost{
			PostID:   p.ID,
			AuthorID: p.AuthorID,
			Hashtags: p.Hashtags,
		})
	}
	return out, nil
}

// RecentViews returns the viewer's most recent n views, newest first
func (r *FeedRepository) RecentViews(ctx context.Context, viewer uuid.UUID, n int) ([]feed.ViewEvent, error) {
	var views []models.PostView
	err := r.db.WithContext(ctx).
		Where("user_id = ?", viewer).
		Order("created_at DESC").
		Limit(n).
		Find(&views).Error
	if err != nil {
		return nil, err
	}

	out := make([]feed.ViewEvent, 0, len(views))
	for _, v := range views {
		out = append(out, feed.ViewEvent{
			PostID:   v.PostID,
			AuthorID: v.AuthorID,
			ViewedAt: v.CreatedAt,
		})
	}
	return out, nil
}

// CandidatesRecent returns recent posts of one media kind. Videos order
// newest first; images compete on like count.
func (r *FeedRepository) CandidatesRecent(ctx context.Context, q feed.RecentQuery) ([]feed.Post, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("media_kind = ? AND created_at >= ? AND author_id <> ?", string(q.Kind), q.Since, q.ExcludeAuthor)
	if len(q.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", q.ExcludeIDs)
	}
	switch q.Kind {
	case feed.MediaVideo:
		query = query.Order("created_at DESC")
	default:
		query = query.Order("like_count DESC")
	}

	var posts []models.Post
	if err := query.Limit(q.Limit).Find(&posts).Error; err != nil {
		return nil, err
	}
	return toFeedPosts(posts), nil
}

// CandidatesViral returns older posts above the like threshold
func (r *FeedRepository) CandidatesViral(ctx context.Context, q feed.ViralQuery) ([]feed.Post, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("media_kind = ? AND created_at < ? AND like_count >= ? AND author_id <> ?",
			string(q.Kind), q.Before, q.MinLikes, q.ExcludeAuthor)
	if len(q.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", q.ExcludeIDs)
	}

	var posts []models.Post
	if err := query.Order("like_count DESC").Limit(q.Limit).Find(&posts).Error; err != nil {
		return nil, err
	}
	return toFeedPosts(posts), nil
}

// CandidatesTrending returns popular posts; a zero Since means no time floor
func (r *FeedRepository) CandidatesTrending(ctx context.Context, q feed.TrendingQuery) ([]feed.Post, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("media_kind = ? AND author_id <> ?", string(q.Kind), q.ExcludeAuthor)
	if !q.Since.IsZero() {
		query = query.Where("created_at >= ?", q.Since)
	}
	if len(q.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", q.ExcludeIDs)
	}

	var posts []models.Post
	if err := query.Order("like_count DESC").Limit(q.Limit).Find(&posts).Error; err != nil {
		return nil, err
	}
	return toFeedPosts(posts), nil
}

// GroupsOfUsers batches group membership lookups
func (r *FeedRepository) GroupsOfUsers(ctx context.Context, users []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	if len(users) == 0 {
		return map[uuid.UUID][]uuid.UUID{}, nil
	}

	var rows []models.GroupMember
	err := r.db.WithContext(ctx).
		Where("user_id IN ?", users).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID][]uuid.UUID, len(users))
	for _, row := range rows {
		out[row.UserID] = append(out[row.UserID], row.GroupID)
	}
	return out, nil
}

// FollowsOfUsers batches outgoing-follow lookups
func (r *FeedRepository) FollowsOfUsers(ctx context.Context, users []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	if len(users) == 0 {
		return map[uuid.UUID][]uuid.UUID{}, nil
	}

	var rows []models.Follow
	err := r.db.WithContext(ctx).
		Where("follower_id IN ?", users).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID][]uuid.UUID, len(users))
	for _, row := range rows {
		out[row.FollowerID] = append(out[row.FollowerID], row.FolloweeID)
	}
	return out, nil
}

// ImpressionsSince returns post ids served to the viewer at or after since
func (r *FeedRepository) ImpressionsSince(ctx context.Context, viewer uuid.UUID, since time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Impression{}).
		Where("viewer_id = ? AND created_at >= ?", viewer, since).
		Pluck("post_id", &ids).Error
	return ids, err
}

// WriteImpressions upserts the served page. The conflict target keeps the
// write idempotent on (viewer, post): a repeat serve refreshes the row.
func (r *FeedRepository) WriteImpressions(ctx context.Context, rows []feed.ImpressionRow) error {
	if len(rows) == 0 {
		return nil
	}

	records := make([]models.Impression, 0, len(rows))
	for _, row := range rows {
		records = append(records, models.Impression{
			ViewerID:  row.ViewerID,
			PostID:    row.PostID,
			Source:    string(row.Source),
			SessionID: row.SessionID,
			CreatedAt: row.CreatedAt,
		})
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "viewer_id"}, {Name: "post_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"source", "session_id", "created_at"}),
		}).
		Create(&records).Error
}

// WriteScores persists final scores for analytics, best effort per row
func (r *FeedRepository) WriteScores(ctx context.Context, rows []feed.ScoreRow) error {
	var firstErr error
	for _, row := range rows {
		err := r.db.WithContext(ctx).
			Model(&models.Post{}).
			Where("id = ?", row.PostID).
			Update("algorithm_score", row.Final).Error
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func toFeedPosts(posts []models.Post) []feed.Post {
	out := make([]feed.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, feed.Post{
			ID:             p.ID,
			AuthorID:       p.AuthorID,
			MediaKind:      feed.MediaKind(p.MediaKind),
			CreatedAt:      p.CreatedAt,
			LikeCount:      p.LikeCount,
			CommentCount:   p.CommentCount,
			ViewCount:      p.ViewCount,
			Hashtags:       p.Hashtags,
			AlgorithmScore: nullFloat(p.AlgorithmScore),
		})
	}
	return out
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
