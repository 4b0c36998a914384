package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipfeed/ranker/pkg/config"
)

var errFakeDown = errors.New("store unavailable")

// fakeRepo is an in-memory Repository for pipeline tests. Query semantics
// mirror the gorm adapter: recent videos order newest first, images and
// viral posts by like count.
type fakeRepo struct {
	mu sync.Mutex

	posts     []Post
	follows   map[uuid.UUID][]uuid.UUID
	followers map[uuid.UUID][]uuid.UUID
	groups    map[uuid.UUID][]uuid.UUID
	likes     map[uuid.UUID][]LikedPost
	views     map[uuid.UUID][]ViewEvent

	// impressions maps viewer -> post -> served at
	impressions map[uuid.UUID]map[uuid.UUID]time.Time

	failReads        bool // every read returns errFakeDown
	failSocialReads  bool // only the context-builder reads fail
	impressionsSince []time.Time

	wroteImpressions [][]ImpressionRow
	wroteScores      [][]ScoreRow
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		follows:     make(map[uuid.UUID][]uuid.UUID),
		followers:   make(map[uuid.UUID][]uuid.UUID),
		groups:      make(map[uuid.UUID][]uuid.UUID),
		likes:       make(map[uuid.UUID][]LikedPost),
		views:       make(map[uuid.UUID][]ViewEvent),
		impressions: make(map[uuid.UUID]map[uuid.UUID]time.Time),
	}
}

func (f *fakeRepo) addImpression(viewer, post uuid.UUID, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.impressions[viewer] == nil {
		f.impressions[viewer] = make(map[uuid.UUID]time.Time)
	}
	f.impressions[viewer][post] = at
}

func (f *fakeRepo) Follows(_ context.Context, viewer uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads || f.failSocialReads {
		return nil, errFakeDown
	}
	return f.follows[viewer], nil
}

func (f *fakeRepo) Followers(_ context.Context, viewer uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads || f.failSocialReads {
		return nil, errFakeDown
	}
	return f.followers[viewer], nil
}

func (f *fakeRepo) GroupsOf(_ context.Context, user uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads || f.failSocialReads {
		return nil, errFakeDown
	}
	return f.groups[user], nil
}

func (f *fakeRepo) RecentLikes(_ context.Context, viewer uuid.UUID, n int) ([]LikedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads || f.failSocialReads {
		return nil, errFakeDown
	}
	likes := f.likes[viewer]
	if len(likes) > n {
		likes = likes[:n]
	}
	return likes, nil
}

func (f *fakeRepo) RecentViews(_ context.Context, viewer uuid.UUID, n int) ([]ViewEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads || f.failSocialReads {
		return nil, errFakeDown
	}
	views := f.views[viewer]
	if len(views) > n {
		views = views[:n]
	}
	return views, nil
}

func (f *fakeRepo) CandidatesRecent(_ context.Context, q RecentQuery) ([]Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errFakeDown
	}

	out := f.filter(q.Kind, q.ExcludeAuthor, q.ExcludeIDs, func(p Post) bool {
		return !p.CreatedAt.Before(q.Since)
	})
	if q.Kind == MediaVideo {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].LikeCount > out[j].LikeCount })
	}
	return capSlice(out, q.Limit), nil
}

func (f *fakeRepo) CandidatesViral(_ context.Context, q ViralQuery) ([]Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errFakeDown
	}

	out := f.filter(q.Kind, q.ExcludeAuthor, q.ExcludeIDs, func(p Post) bool {
		return p.CreatedAt.Before(q.Before) && p.LikeCount >= q.MinLikes
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LikeCount > out[j].LikeCount })
	return capSlice(out, q.Limit), nil
}

func (f *fakeRepo) CandidatesTrending(_ context.Context, q TrendingQuery) ([]Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errFakeDown
	}

	out := f.filter(q.Kind, q.ExcludeAuthor, q.ExcludeIDs, func(p Post) bool {
		return q.Since.IsZero() || !p.CreatedAt.Before(q.Since)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LikeCount > out[j].LikeCount })
	return capSlice(out, q.Limit), nil
}

func (f *fakeRepo) GroupsOfUsers(_ context.Context, users []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errFakeDown
	}
	out := make(map[uuid.UUID][]uuid.UUID, len(users))
	for _, u := range users {
		if groups, ok := f.groups[u]; ok {
			out[u] = groups
		}
	}
	return out, nil
}

func (f *fakeRepo) FollowsOfUsers(_ context.Context, users []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads {
		return nil, errFakeDown
	}
	out := make(map[uuid.UUID][]uuid.UUID, len(users))
	for _, u := range users {
		if follows, ok := f.follows[u]; ok {
			out[u] = follows
		}
	}
	return out, nil
}

func (f *fakeRepo) ImpressionsSince(_ context.Context, viewer uuid.UUID, since time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.impressionsSince = append(f.impressionsSince, since)
	if f.failReads {
		return nil, errFakeDown
	}
	var ids []uuid.UUID
	for post, at := range f.impressions[viewer] {
		if !at.Before(since) {
			ids = append(ids, post)
		}
	}
	return ids, nil
}

func (f *fakeRepo) WriteImpressions(_ context.Context, rows []ImpressionRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wroteImpressions = append(f.wroteImpressions, rows)
	for _, row := range rows {
		if f.impressions[row.ViewerID] == nil {
			f.impressions[row.ViewerID] = make(map[uuid.UUID]time.Time)
		}
		f.impressions[row.ViewerID][row.PostID] = row.CreatedAt
	}
	return nil
}

func (f *fakeRepo) WriteScores(_ context.Context, rows []ScoreRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wroteScores = append(f.wroteScores, rows)
	return nil
}

func (f *fakeRepo) filter(kind MediaKind, excludeAuthor uuid.UUID, excludeIDs []uuid.UUID, keep func(Post) bool) []Post {
	skip := make(map[uuid.UUID]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		skip[id] = struct{}{}
	}

	var out []Post
	for _, p := range f.posts {
		if p.MediaKind != kind || p.AuthorID == excludeAuthor {
			continue
		}
		if _, ok := skip[p.ID]; ok {
			continue
		}
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func capSlice(posts []Post, limit int) []Post {
	if limit > 0 && len(posts) > limit {
		return posts[:limit]
	}
	return posts
}

// stableID builds a deterministic uuid from a label so jitter-sensitive
// tests behave the same on every run
func stableID(label string) uuid.UUID {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(label))
}

func testConfig() config.RankerConfig {
	return config.RankerConfig{
		DefaultPageSize:    12,
		MaxPageSize:        50,
		MaxPerAuthor:       2,
		MinRefreshDelta:    5,
		CooldownDays:       7,
		CacheTTL:           30 * time.Second,
		CacheBackend:       "memory",
		RequestTimeout:     500 * time.Millisecond,
		PoolMultiplier:     10,
		VideoShare:         0.8,
		RecentWindowDays:   30,
		TrendingWindowDays: 7,
		ViralPoolSize:      15,
		ViralMinLikes:      10,
		ImpressionQueue:    64,
		ImpressionWorkers:  2,
	}
}
