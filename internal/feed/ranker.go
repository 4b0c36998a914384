package feed

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clipfeed/ranker/pkg/config"
	"github.com/clipfeed/ranker/pkg/telemetry"
)

// ErrAllSourcesFailed is returned only when the candidate buckets, the cold
// start query, and the popularity fallback all failed to read. Partial
// failure never produces it.
var ErrAllSourcesFailed = errors.New("all feed sources failed")

// Ranker orchestrates the feed pipeline: cache probe, exclusion set,
// context and candidate fan-out, cold start and fallback branches, scoring,
// diversification, and the write-behind record step.
type Ranker struct {
	repo        Repository
	cfg         config.RankerConfig
	contexts    *ContextBuilder
	source      *CandidateSource
	scorer      *Scorer
	diversifier *Diversifier
	impressions *ImpressionStore
	pageCache   PageCache
	logger      *zap.Logger
	now         func() time.Time

	requestsCounter metric.Int64Counter
	cacheHits       metric.Int64Counter
	relaxedPages    metric.Int64Counter
	droppedBatches  metric.Int64Counter
}

// NewRanker wires the pipeline components
func NewRanker(repo Repository, cfg config.RankerConfig, pageCache PageCache, logger *zap.Logger) *Ranker {
	r := &Ranker{
		repo:        repo,
		cfg:         cfg,
		contexts:    NewContextBuilder(repo, logger),
		source:      NewCandidateSource(repo, cfg, logger),
		scorer:      NewScorer(repo, logger),
		diversifier: NewDiversifier(cfg.MaxPerAuthor),
		impressions: NewImpressionStore(repo, cfg, logger),
		pageCache:   pageCache,
		logger:      logger.With(zap.String("component", "ranker")),
		now:         time.Now,
	}

	r.requestsCounter = telemetry.Counter("feed_requests_total")
	r.cacheHits = telemetry.Counter("feed_cache_hits_total")
	r.relaxedPages = telemetry.Counter("feed_diversity_relaxed_total")
	r.droppedBatches = telemetry.Counter("feed_impression_batches_dropped_total")
	r.impressions.OnDrop(func(n int) {
		if r.droppedBatches != nil {
			r.droppedBatches.Add(context.Background(), 1)
		}
	})

	return r
}

// Close drains the impression queue
func (r *Ranker) Close() {
	r.impressions.Close()
}

// GetPage serves one feed page for the request. A cancelled or expired
// context aborts in-flight reads and suppresses the impression write.
func (r *Ranker) GetPage(ctx context.Context, req PageRequest) (*PageResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.get_page")
	defer span.End()

	fingerprint := Fingerprint(req)

	// Cache probe.
	if !req.ForceRefresh {
		if page, ok := r.pageCache.Get(ctx, fingerprint); ok {
			page.CacheHit = true
			if r.cacheHits != nil {
				r.cacheHits.Add(ctx, 1)
			}
			return page, nil
		}
	}

	// Exclusion set: client list plus impression cooldown.
	excluded := r.impressions.ExcludedFor(ctx, req.ViewerID)
	for _, id := range req.ExcludePostIDs {
		excluded[id] = struct{}{}
	}

	// Context and candidates fan out concurrently.
	var (
		uc   *UserContext
		pool []Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		uc, err = r.contexts.Build(gctx, req.ViewerID)
		return err
	})
	g.Go(func() error {
		var err error
		pool, err = r.source.Candidates(gctx, req.ViewerID, req.PageSize, excluded)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		items   []Candidate
		source  Source
		relaxed bool
	)

	if uc.IsCold() || len(pool) < req.PageSize {
		var err error
		items, source, err = r.coldPage(ctx, req, excluded)
		if err != nil {
			return nil, err
		}
	} else {
		_, scoreSpan := telemetry.StartSpan(ctx, "feed.score")
		scored := r.scorer.Score(ctx, uc, pool, req.SessionID, req.RefreshNonce)
		scoreSpan.End()

		items, relaxed = r.diversifier.Page(scored, req.PageSize)
		source = SourcePersonalized
	}

	if relaxed && r.relaxedPages != nil {
		r.relaxedPages.Add(ctx, 1)
	}
	if r.requestsCounter != nil {
		r.requestsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
	}

	page := &PageResponse{
		Items:            items,
		Source:           source,
		CacheHit:         false,
		NextRefreshNonce: req.RefreshNonce + 1,
	}

	r.pageCache.Set(ctx, fingerprint, page)

	// A partially completed request must not write impressions.
	if ctx.Err() == nil {
		r.impressions.Record(req.ViewerID, items, source, req.SessionID)
	}

	return page, nil
}

// coldPage serves the cold start branch and, when that yields nothing, the
// pure popularity fallback. Only a read failure of both branches errors.
func (r *Ranker) coldPage(ctx context.Context, req PageRequest, excluded map[uuid.UUID]struct{}) ([]Candidate, Source, error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.cold_start")
	defer span.End()

	trending, trendErr := r.trendingPool(ctx, req, excluded, r.now().AddDate(0, 0, -r.cfg.TrendingWindowDays))
	if len(trending) > 0 {
		shuffled := weightedShuffle(trending, req.SessionID, req.RefreshNonce)
		items, _ := r.diversifier.Page(shuffled, req.PageSize)
		return items, SourceColdStart, nil
	}

	fallback, fallErr := r.trendingPool(ctx, req, excluded, time.Time{})
	if len(fallback) == 0 && trendErr != nil && fallErr != nil {
		r.logger.Error("all feed sources failed",
			zap.NamedError("trending", trendErr), zap.NamedError("fallback", fallErr))
		return nil, SourceFallback, ErrAllSourcesFailed
	}

	sort.Slice(fallback, func(i, j int) bool {
		if fallback[i].LikeCount != fallback[j].LikeCount {
			return fallback[i].LikeCount > fallback[j].LikeCount
		}
		return fallback[i].ID.String() < fallback[j].ID.String()
	})
	items, _ := r.diversifier.Page(asCandidates(fallback), req.PageSize)
	return items, SourceFallback, nil
}

// trendingPool gathers popular videos and images under the configured
// split. A zero since disables the time floor (fallback mode).
func (r *Ranker) trendingPool(ctx context.Context, req PageRequest, excluded map[uuid.UUID]struct{}, since time.Time) ([]Post, error) {
	poolTarget := req.PageSize * r.cfg.PoolMultiplier
	videoQuota := int(float64(poolTarget) * r.cfg.VideoShare)
	imageQuota := poolTarget - videoQuota

	excludeIDs := make([]uuid.UUID, 0, len(excluded))
	for id := range excluded {
		excludeIDs = append(excludeIDs, id)
	}

	var videos, images []Post
	var videoErr, imageErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		videos, videoErr = r.repo.CandidatesTrending(gctx, TrendingQuery{
			Kind:          MediaVideo,
			Since:         since,
			ExcludeAuthor: req.ViewerID,
			Limit:         videoQuota,
			ExcludeIDs:    excludeIDs,
		})
		if videoErr != nil {
			r.logger.Warn("trending video query failed", zap.Error(videoErr))
		}
		return nil
	})
	g.Go(func() error {
		images, imageErr = r.repo.CandidatesTrending(gctx, TrendingQuery{
			Kind:          MediaImage,
			Since:         since,
			ExcludeAuthor: req.ViewerID,
			Limit:         imageQuota,
			ExcludeIDs:    excludeIDs,
		})
		if imageErr != nil {
			r.logger.Warn("trending image query failed", zap.Error(imageErr))
		}
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pool := make([]Post, 0, len(videos)+len(images))
	seen := make(map[uuid.UUID]struct{}, cap(pool))
	for _, bucket := range [][]Post{videos, images} {
		for _, p := range bucket {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			if p.AuthorID == req.ViewerID {
				continue
			}
			if _, skip := excluded[p.ID]; skip {
				continue
			}
			seen[p.ID] = struct{}{}
			pool = append(pool, p)
		}
	}

	if videoErr != nil && imageErr != nil {
		return pool, videoErr
	}
	return pool, nil
}

// weightedShuffle orders the cold start pool by a popularity-weighted
// random draw: 0.7 by normalized likes, 0.3 random, plus a video bonus.
// The randomness is seeded from the session and nonce so a cached page
// stays reproducible.
func weightedShuffle(pool []Post, sessionID string, refreshNonce int) []Candidate {
	maxLikes := int64(1)
	for _, p := range pool {
		if p.LikeCount > maxLikes {
			maxLikes = p.LikeCount
		}
	}

	seed := int64(jitterSeed(sessionID, refreshNonce))
	rng := rand.New(rand.NewSource(seed))

	type weighted struct {
		post   Post
		weight float64
	}
	ws := make([]weighted, 0, len(pool))
	for _, p := range pool {
		w := 0.7*float64(p.LikeCount)/float64(maxLikes) + 0.3*rng.Float64()
		if p.MediaKind == MediaVideo {
			w += 0.1
		}
		ws = append(ws, weighted{post: p, weight: w})
	}
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].weight != ws[j].weight {
			return ws[i].weight > ws[j].weight
		}
		return ws[i].post.ID.String() < ws[j].post.ID.String()
	})

	out := make([]Candidate, 0, len(ws))
	for _, w := range ws {
		out = append(out, Candidate{Post: w.post})
	}
	return out
}

func asCandidates(posts []Post) []Candidate {
	out := make([]Candidate, 0, len(posts))
	for _, p := range posts {
		out = append(out, Candidate{Post: p})
	}
	return out
}
