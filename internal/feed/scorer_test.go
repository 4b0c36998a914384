package feed

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func emptyContext() *UserContext {
	return &UserContext{
		Friends:       make(map[uuid.UUID]struct{}),
		Mutuals:       make(map[uuid.UUID]struct{}),
		Groups:        make(map[uuid.UUID]struct{}),
		LikedHashtags: make(map[string]struct{}),
		ViewedAuthors: make(map[uuid.UUID]int),
		RecentAuthors: make(map[uuid.UUID]int),
	}
}

func testPost(label string, author uuid.UUID, kind MediaKind, age time.Duration, likes, comments, views int64, tags ...string) Post {
	return Post{
		ID:           stableID(label),
		AuthorID:     author,
		MediaKind:    kind,
		CreatedAt:    time.Now().Add(-age),
		LikeCount:    likes,
		CommentCount: comments,
		ViewCount:    views,
		Hashtags:     tags,
	}
}

func TestRelevanceSignals(t *testing.T) {
	repo := newFakeRepo()
	scorer := NewScorer(repo, zap.NewNop())

	author := stableID("author")
	group := stableID("group")

	tests := []struct {
		name    string
		setup   func(*UserContext, *fakeRepo)
		post    Post
		wantMin float64
		wantMax float64
	}{
		{
			name:    "baseline only",
			setup:   func(uc *UserContext, f *fakeRepo) {},
			post:    testPost("p-base", author, MediaVideo, time.Hour, 0, 0, 0),
			wantMin: 0.1 - 1e-9,
			wantMax: 0.1 + 1e-9,
		},
		{
			name: "friend boost",
			setup: func(uc *UserContext, f *fakeRepo) {
				uc.Friends[author] = struct{}{}
			},
			post:    testPost("p-friend", author, MediaVideo, time.Hour, 0, 0, 0),
			wantMin: 0.9 - 1e-9,
			wantMax: 0.9 + 1e-9,
		},
		{
			name: "shared group",
			setup: func(uc *UserContext, f *fakeRepo) {
				uc.Groups[group] = struct{}{}
				f.groups[author] = []uuid.UUID{group}
			},
			post:    testPost("p-group", author, MediaVideo, time.Hour, 0, 0, 0),
			wantMin: 0.1 + 0.6/3 - 1e-9,
			wantMax: 0.1 + 0.6/3 + 1e-9,
		},
		{
			name: "liked hashtags",
			setup: func(uc *UserContext, f *fakeRepo) {
				uc.LikedHashtags["dance"] = struct{}{}
				uc.LikedHashtags["music"] = struct{}{}
			},
			post:    testPost("p-tags", author, MediaVideo, time.Hour, 0, 0, 0, "dance", "music"),
			wantMin: 0.1 + 0.4*2/5 - 1e-9,
			wantMax: 0.1 + 0.4*2/5 + 1e-9,
		},
		{
			name: "author follows the viewer back",
			setup: func(uc *UserContext, f *fakeRepo) {
				uc.Mutuals[author] = struct{}{}
			},
			post:    testPost("p-mutual", author, MediaVideo, time.Hour, 0, 0, 0),
			wantMin: 0.15 - 1e-9,
			wantMax: 0.15 + 1e-9,
		},
		{
			name: "frequently viewed author",
			setup: func(uc *UserContext, f *fakeRepo) {
				uc.ViewedAuthors[author] = 3
			},
			post:    testPost("p-viewed", author, MediaVideo, time.Hour, 0, 0, 0),
			wantMin: 0.4 - 1e-9,
			wantMax: 0.4 + 1e-9,
		},
		{
			name: "all signals cap at one",
			setup: func(uc *UserContext, f *fakeRepo) {
				uc.Friends[author] = struct{}{}
				uc.Groups[group] = struct{}{}
				uc.ViewedAuthors[author] = 5
				uc.LikedHashtags["dance"] = struct{}{}
				f.groups[author] = []uuid.UUID{group}
			},
			post:    testPost("p-cap", author, MediaVideo, time.Hour, 0, 0, 0, "dance"),
			wantMin: 1.0,
			wantMax: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := emptyContext()
			f := newFakeRepo()
			tt.setup(uc, f)
			scorer.repo = f

			out := scorer.Score(context.Background(), uc, []Post{tt.post}, "s", 0)
			if len(out) != 1 {
				t.Fatalf("expected 1 candidate, got %d", len(out))
			}
			rel := out[0].Scores.Relevance
			if rel < tt.wantMin || rel > tt.wantMax {
				t.Errorf("relevance = %f, want in [%f, %f]", rel, tt.wantMin, tt.wantMax)
			}
		})
	}

	scorer.repo = repo
}

func TestEngagementMonotonicInLikes(t *testing.T) {
	author := stableID("author")
	base := testPost("p-a", author, MediaVideo, time.Hour, 50, 5, 1000)
	more := base
	more.LikeCount = 100

	if engagement(more) <= engagement(base) {
		t.Errorf("more likes should strictly increase engagement: %f vs %f",
			engagement(more), engagement(base))
	}
}

func TestEngagementBounds(t *testing.T) {
	author := stableID("author")
	tests := []struct {
		name string
		post Post
	}{
		{"zero interactions", testPost("p-zero", author, MediaVideo, time.Hour, 0, 0, 0)},
		{"few views neutral prior", testPost("p-few", author, MediaVideo, time.Hour, 2, 1, 5)},
		{"heavy interactions", testPost("p-heavy", author, MediaVideo, time.Hour, 5000, 2000, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := engagement(tt.post)
			if e < 0 || e > 1 {
				t.Errorf("engagement = %f, want in [0,1]", e)
			}
		})
	}
}

func TestFreshnessDecay(t *testing.T) {
	author := stableID("author")
	now := time.Now()

	newer := testPost("p-new", author, MediaVideo, 10*time.Hour, 10, 0, 100)
	older := testPost("p-old", author, MediaVideo, 100*time.Hour, 10, 0, 100)

	if freshness(newer, now) <= freshness(older, now) {
		t.Error("newer post should have strictly greater freshness inside the window")
	}

	ancient := testPost("p-ancient", author, MediaVideo, 400*time.Hour, 10, 0, 100)
	if got := freshness(ancient, now); got != 0 {
		t.Errorf("freshness beyond one week = %f, want 0", got)
	}
}

func TestFreshnessViralBoost(t *testing.T) {
	author := stableID("author")
	now := time.Now()

	quiet := testPost("p-quiet", author, MediaVideo, 6*time.Hour, 50, 0, 1000)
	viral := testPost("p-viral", author, MediaVideo, 6*time.Hour, 500, 0, 1000)

	fq := freshness(quiet, now)
	fv := freshness(viral, now)
	if fv <= fq {
		t.Errorf("viral boost missing: %f vs %f", fv, fq)
	}
	if fv > 1 {
		t.Errorf("freshness after boost must clamp to 1, got %f", fv)
	}
}

func TestDiversityPenaltyCap(t *testing.T) {
	author := stableID("author")
	uc := emptyContext()
	uc.RecentAuthors[author] = 10

	p := testPost("p-div", author, MediaVideo, time.Hour, 0, 0, 0)
	if got := diversityPenalty(uc, p); got != 0.3 {
		t.Errorf("diversity penalty = %f, want capped at 0.3", got)
	}
}

func TestJitterDeterministicAndBounded(t *testing.T) {
	id := stableID("post")

	a := jitter("session", 3, id)
	b := jitter("session", 3, id)
	if a != b {
		t.Errorf("jitter must be deterministic: %f vs %f", a, b)
	}
	if a < 0 || a >= jitterMax {
		t.Errorf("jitter = %f, want in [0, %f)", a, jitterMax)
	}

	if jitter("session", 4, id) == a {
		t.Error("a new refresh nonce should change the jitter")
	}
}

func TestScoreOrderingAndBounds(t *testing.T) {
	repo := newFakeRepo()
	scorer := NewScorer(repo, zap.NewNop())
	uc := emptyContext()

	var pool []Post
	for i := 0; i < 30; i++ {
		author := stableID("author-" + string(rune('a'+i)))
		pool = append(pool, testPost("pool-"+string(rune('a'+i)), author, MediaVideo,
			time.Duration(i)*time.Hour, int64(i*7%40), int64(i%5), int64(100+i)))
	}

	out := scorer.Score(context.Background(), uc, pool, "session", 0)
	if len(out) != len(pool) {
		t.Fatalf("expected %d candidates, got %d", len(pool), len(out))
	}

	for i, c := range out {
		s := c.Scores
		if s.Relevance < 0 || s.Relevance > 1 || s.Engagement < 0 || s.Engagement > 1 ||
			s.Freshness < 0 || s.Freshness > 1 {
			t.Errorf("component score out of [0,1]: %+v", s)
		}
		if s.DiversityPenalty < 0 || s.DiversityPenalty > 0.3 {
			t.Errorf("diversity penalty out of [0,0.3]: %f", s.DiversityPenalty)
		}
		if i > 0 && out[i-1].Scores.Final < s.Final {
			t.Errorf("candidates not sorted by final score at %d", i)
		}
	}
}

func TestScoreSurvivesBatchLookupFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.failReads = true
	scorer := NewScorer(repo, zap.NewNop())

	pool := []Post{testPost("p-one", stableID("author"), MediaVideo, time.Hour, 5, 1, 50)}
	out := scorer.Score(context.Background(), emptyContext(), pool, "s", 0)
	if len(out) != 1 {
		t.Fatalf("scoring must not fail when author batches fail, got %d candidates", len(out))
	}
}
