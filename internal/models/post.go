package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Post represents a video or image post
type Post struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey;column:id"`
	AuthorID     uuid.UUID       `gorm:"type:uuid;not null;index;column:author_id"`
	MediaKind    string          `gorm:"type:varchar(8);not null;index;column:media_kind"`
	CreatedAt    time.Time       `gorm:"not null;index;column:created_at"`
	LikeCount    int64           `gorm:"not null;default:0;column:like_count"`
	CommentCount int64           `gorm:"not null;default:0;column:comment_count"`
	ViewCount    int64           `gorm:"not null;default:0;column:view_count"`
	Hashtags     []string        `gorm:"serializer:json;column:hashtags"`
	// Last computed final score, persisted for analytics only.
	AlgorithmScore sql.NullFloat64 `gorm:"column:algorithm_score"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "feed_posts"
}
