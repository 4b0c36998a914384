package models

import (
	"time"

	"github.com/google/uuid"
)

// Follow represents a directed follow edge
type Follow struct {
	FollowerID uuid.UUID `gorm:"type:uuid;primaryKey;column:follower_id"`
	FolloweeID uuid.UUID `gorm:"type:uuid;primaryKey;column:followee_id"`
	CreatedAt  time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for Follow
func (Follow) TableName() string {
	return "user_follows"
}

// GroupMember represents a group membership
type GroupMember struct {
	GroupID   uuid.UUID `gorm:"type:uuid;primaryKey;column:group_id"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey;index;column:user_id"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for GroupMember
func (GroupMember) TableName() string {
	return "group_members"
}

// PostLike represents a like interaction
type PostLike struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey;column:user_id"`
	PostID    uuid.UUID `gorm:"type:uuid;primaryKey;column:post_id"`
	CreatedAt time.Time `gorm:"not null;index;column:created_at"`
}

// TableName specifies the table name for PostLike
func (PostLike) TableName() string {
	return "post_likes"
}

// PostView represents a view interaction
type PostView struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index;column:user_id"`
	PostID    uuid.UUID `gorm:"type:uuid;not null;column:post_id"`
	AuthorID  uuid.UUID `gorm:"type:uuid;not null;column:author_id"`
	CreatedAt time.Time `gorm:"not null;index;column:created_at"`
}

// TableName specifies the table name for PostView
func (PostView) TableName() string {
	return "post_views"
}
