package feed

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Component weights of the final score
const (
	weightRelevance  = 0.4
	weightEngagement = 0.3
	weightFreshness  = 0.2
	weightDiversity  = 0.1

	jitterMax = 0.05
)

// Scorer computes the four component scores per post and combines them
// with fixed weights plus a bounded deterministic jitter.
type Scorer struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewScorer creates a new scorer
func NewScorer(repo Repository, logger *zap.Logger) *Scorer {
	return &Scorer{
		repo:   repo,
		logger: logger.With(zap.String("component", "scorer")),
		now:    time.Now,
	}
}

// Score computes scores for the whole pool and returns candidates sorted by
// final score descending, ties broken by post id. Author group and follow
// lookups are batched across the pass; a failed batch contributes empty
// signals rather than failing the request.
func (s *Scorer) Score(ctx context.Context, uc *UserContext, pool []Post, sessionID string, refreshNonce int) []Candidate {
	authorGroups, authorFollows := s.authorSignals(ctx, pool)

	now := s.now()
	out := make([]Candidate, 0, len(pool))
	for _, p := range pool {
		sc := Scores{
			Relevance:        s.relevance(uc, p, authorGroups[p.AuthorID], authorFollows[p.AuthorID]),
			Engagement:       engagement(p),
			Freshness:        freshness(p, now),
			DiversityPenalty: diversityPenalty(uc, p),
		}
		sc.Final = weightRelevance*sc.Relevance +
			weightEngagement*sc.Engagement +
			weightFreshness*sc.Freshness -
			weightDiversity*sc.DiversityPenalty +
			jitter(sessionID, refreshNonce, p.ID)
		out = append(out, Candidate{Post: p, Scores: sc})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Scores.Final != out[j].Scores.Final {
			return out[i].Scores.Final > out[j].Scores.Final
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	return out
}

// authorSignals batches the group and follow lookups for every distinct
// author in the pool. The two batches run concurrently.
func (s *Scorer) authorSignals(ctx context.Context, pool []Post) (map[uuid.UUID][]uuid.UUID, map[uuid.UUID][]uuid.UUID) {
	seen := make(map[uuid.UUID]struct{}, len(pool))
	authors := make([]uuid.UUID, 0, len(pool))
	for _, p := range pool {
		if _, ok := seen[p.AuthorID]; ok {
			continue
		}
		seen[p.AuthorID] = struct{}{}
		authors = append(authors, p.AuthorID)
	}

	var groups, follows map[uuid.UUID][]uuid.UUID

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if groups, err = s.repo.GroupsOfUsers(gctx, authors); err != nil {
			s.logger.Warn("author group batch failed", zap.Error(err))
			groups = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if follows, err = s.repo.FollowsOfUsers(gctx, authors); err != nil {
			s.logger.Warn("author follow batch failed", zap.Error(err))
			follows = nil
		}
		return nil
	})
	_ = g.Wait()

	return groups, follows
}

// relevance starts from a 0.1 baseline and stacks social signals, capped at 1
func (s *Scorer) relevance(uc *UserContext, p Post, authorGroups, authorFollows []uuid.UUID) float64 {
	rel := 0.1

	if _, friend := uc.Friends[p.AuthorID]; friend {
		rel += 0.8
	}

	sharedGroups := 0
	for _, g := range authorGroups {
		if _, ok := uc.Groups[g]; ok {
			sharedGroups++
		}
	}
	rel += 0.6 * math.Min(1, float64(sharedGroups)/3)

	tagHits := 0
	for _, tag := range p.Hashtags {
		if _, ok := uc.LikedHashtags[tag]; ok {
			tagHits++
		}
	}
	rel += 0.4 * math.Min(1, float64(tagHits)/5)

	if uc.ViewedAuthors[p.AuthorID] > 2 {
		rel += 0.3
	}

	// Shared followees, plus one when the author follows the viewer back.
	mutualFollows := 0
	for _, f := range authorFollows {
		if _, ok := uc.Friends[f]; ok {
			mutualFollows++
		}
	}
	if _, ok := uc.Mutuals[p.AuthorID]; ok {
		mutualFollows++
	}
	rel += math.Min(0.2, float64(mutualFollows)*0.05)

	return math.Min(1, rel)
}

// engagement maps like/comment rates through a calibrated sigmoid
func engagement(p Post) float64 {
	views := float64(p.ViewCount)
	if views < 1 {
		views = 1
	}
	likeRate := float64(p.LikeCount) / views
	commentRate := float64(p.CommentCount) / views

	// Completion is estimated from interaction rates; posts with too few
	// views get a neutral prior.
	completion := 0.5
	if p.ViewCount > 10 {
		completion = math.Min(0.9, 0.3+2*likeRate+3*commentRate)
	}

	raw := 0.4*likeRate + 0.3*commentRate + 0.3*completion
	return sigmoid(raw, 15, 0.05)
}

func sigmoid(x, k, mid float64) float64 {
	return 1 / (1 + math.Exp(-k*(x-mid)))
}

// freshness decays linearly over one week, with a viral boost inside 24h
func freshness(p Post, now time.Time) float64 {
	hours := now.Sub(p.CreatedAt).Hours()
	score := math.Max(0, 1-hours/168)
	if hours < 24 && p.LikeCount > 100 {
		score *= 1.5
	}
	return math.Min(1, score)
}

// diversityPenalty rises with how often the author appeared in the
// viewer's last 20 views, capped at 0.3
func diversityPenalty(uc *UserContext, p Post) float64 {
	return math.Min(0.3, 0.1*float64(uc.RecentAuthors[p.AuthorID]))
}

// jitter derives a deterministic value in [0, 0.05) from the session,
// refresh nonce, and post id. Within one fingerprint the order is
// reproducible; a new nonce reshuffles near-tied posts.
func jitter(sessionID string, refreshNonce int, postID uuid.UUID) float64 {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(refreshNonce)))
	h.Write([]byte{0})
	h.Write([]byte(postID.String()))
	return float64(h.Sum64()%1_000_000) / 1_000_000 * jitterMax
}

// jitterSeed derives the per-refresh seed used by the cold start shuffle
func jitterSeed(sessionID string, refreshNonce int) uint64 {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(refreshNonce)))
	return h.Sum64()
}
