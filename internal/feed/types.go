package feed

import (
	"time"

	"github.com/google/uuid"
)

// MediaKind distinguishes post media types
type MediaKind string

// Media kinds
const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// Source tags which path produced a page
type Source string

// Page sources
const (
	SourcePersonalized Source = "personalized"
	SourceColdStart    Source = "cold_start"
	SourceFallback     Source = "fallback"
)

// Post is a ranking view of a post. AlgorithmScore is the last persisted
// final score; it is analytics output, never a scoring input.
type Post struct {
	ID             uuid.UUID `json:"id"`
	AuthorID       uuid.UUID `json:"author_id"`
	MediaKind      MediaKind `json:"media_kind"`
	CreatedAt      time.Time `json:"created_at"`
	LikeCount      int64     `json:"like_count"`
	CommentCount   int64     `json:"comment_count"`
	ViewCount      int64     `json:"view_count"`
	Hashtags       []string  `json:"hashtags"`
	AlgorithmScore *float64  `json:"-"`
}

// Scores holds the per-component scores for a ranked post
type Scores struct {
	Relevance        float64 `json:"relevance"`
	Engagement       float64 `json:"engagement"`
	Freshness        float64 `json:"freshness"`
	DiversityPenalty float64 `json:"diversity_penalty"`
	Final            float64 `json:"final"`
}

// Candidate is a post augmented with its computed scores
type Candidate struct {
	Post
	Scores Scores `json:"scores"`
}

// UserContext is the viewer's social and interest context, derived per request
type UserContext struct {
	// Friends are author ids the viewer follows
	Friends map[uuid.UUID]struct{}
	// Mutuals are author ids that follow the viewer back
	Mutuals map[uuid.UUID]struct{}
	// Groups are group ids the viewer belongs to
	Groups map[uuid.UUID]struct{}
	// LikedHashtags are hashtags of the viewer's recent likes, deduplicated
	LikedHashtags map[string]struct{}
	// ViewedAuthors counts views by author over the viewer's recent views
	ViewedAuthors map[uuid.UUID]int
	// RecentAuthors counts views by author over the viewer's last 20 views,
	// used by the diversity penalty
	RecentAuthors map[uuid.UUID]int
}

// IsCold reports whether the viewer has no social or interest signal
func (c *UserContext) IsCold() bool {
	return len(c.Friends) == 0 && len(c.Groups) == 0 && len(c.LikedHashtags) == 0
}

// PageRequest is a validated, defaulted feed page request
type PageRequest struct {
	ViewerID        uuid.UUID
	PageSize        int
	SessionID       string
	SessionOpenedAt time.Time
	RefreshNonce    int
	ForceRefresh    bool
	ExcludePostIDs  []uuid.UUID
}

// PageResponse is one ordered page of ranked posts
type PageResponse struct {
	Items            []Candidate `json:"items"`
	Source           Source      `json:"source"`
	CacheHit         bool        `json:"cache_hit"`
	NextRefreshNonce int         `json:"next_refresh_nonce"`
}

// ImpressionRow records one served post for one viewer
type ImpressionRow struct {
	ViewerID  uuid.UUID
	PostID    uuid.UUID
	Source    Source
	SessionID string
	CreatedAt time.Time
}

// ScoreRow is a best-effort analytics write of a final score
type ScoreRow struct {
	PostID uuid.UUID
	Final  float64
}

// LikedPost is the slice of a liked post the context builder needs
type LikedPost struct {
	PostID   uuid.UUID
	AuthorID uuid.UUID
	Hashtags []string
}

// ViewEvent is one entry of the viewer's recent view history
type ViewEvent struct {
	PostID   uuid.UUID
	AuthorID uuid.UUID
	ViewedAt time.Time
}
