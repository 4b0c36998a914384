package models

import (
	"time"

	"github.com/google/uuid"
)

// Impression records that a post was served to a viewer. The unique index
// on (viewer_id, post_id) makes the write path idempotent within a
// cooldown window: a repeat serve refreshes created_at instead of
// inserting a second row.
type Impression struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	ViewerID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_impression_viewer_post;column:viewer_id"`
	PostID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_impression_viewer_post;column:post_id"`
	Source    string    `gorm:"type:varchar(16);not null;column:source"`
	SessionID string    `gorm:"type:varchar(128);not null;column:session_id"`
	CreatedAt time.Time `gorm:"not null;index;column:created_at"`
}

// TableName specifies the table name for Impression
func (Impression) TableName() string {
	return "feed_impressions"
}
