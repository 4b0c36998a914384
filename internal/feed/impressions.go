package feed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipfeed/ranker/pkg/config"
)

// writeJob is one batch of best-effort writes produced by a served page
type writeJob struct {
	impressions []ImpressionRow
	scores      []ScoreRow
}

// ImpressionStore records which posts a viewer has been shown and exposes
// the cooldown predicate. Writes go through a bounded queue drained by a
// worker pool; on overflow the oldest enqueued batch is dropped and logged.
// It also carries the best-effort analytics score writes, which share the
// same failure contract.
type ImpressionStore struct {
	repo   Repository
	cfg    config.RankerConfig
	logger *zap.Logger
	now    func() time.Time

	queue   chan writeJob
	mu      sync.Mutex // guards the drop-oldest swap on overflow
	wg      sync.WaitGroup
	dropped func(int) // overflow hook for metrics, may be nil
}

// NewImpressionStore creates the store and starts its worker pool
func NewImpressionStore(repo Repository, cfg config.RankerConfig, logger *zap.Logger) *ImpressionStore {
	s := &ImpressionStore{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "impression-store")),
		now:    time.Now,
		queue:  make(chan writeJob, cfg.ImpressionQueue),
	}

	for i := 0; i < cfg.ImpressionWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// OnDrop registers a hook invoked with the size of each dropped batch
func (s *ImpressionStore) OnDrop(fn func(int)) {
	s.dropped = fn
}

// ExcludedFor returns the ids of posts shown to the viewer within the
// cooldown window. A cooldown of zero days disables the predicate. Read
// failure degrades to an empty set.
func (s *ImpressionStore) ExcludedFor(ctx context.Context, viewer uuid.UUID) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{})
	if s.cfg.CooldownDays == 0 {
		return out
	}

	since := s.now().AddDate(0, 0, -s.cfg.CooldownDays)
	ids, err := s.repo.ImpressionsSince(ctx, viewer, since)
	if err != nil {
		s.logger.Warn("impression lookup failed, cooldown skipped",
			zap.String("viewer_id", viewer.String()), zap.Error(err))
		return out
	}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// Record enqueues the served page for asynchronous persistence. It never
// blocks the response path: when the queue is full the oldest batch is
// dropped to make room.
func (s *ImpressionStore) Record(viewer uuid.UUID, items []Candidate, source Source, sessionID string) {
	if len(items) == 0 {
		return
	}

	now := s.now()
	job := writeJob{
		impressions: make([]ImpressionRow, 0, len(items)),
		scores:      make([]ScoreRow, 0, len(items)),
	}
	for _, c := range items {
		job.impressions = append(job.impressions, ImpressionRow{
			ViewerID:  viewer,
			PostID:    c.ID,
			Source:    source,
			SessionID: sessionID,
			CreatedAt: now,
		})
		if source == SourcePersonalized {
			job.scores = append(job.scores, ScoreRow{PostID: c.ID, Final: c.Scores.Final})
		}
	}

	s.enqueue(job)
}

func (s *ImpressionStore) enqueue(job writeJob) {
	select {
	case s.queue <- job:
		return
	default:
	}

	// Queue full: drop the oldest batch, then retry once.
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case old := <-s.queue:
		s.logger.Warn("impression queue full, dropping oldest batch",
			zap.Int("batch_size", len(old.impressions)))
		if s.dropped != nil {
			s.dropped(len(old.impressions))
		}
	default:
	}
	select {
	case s.queue <- job:
	default:
		s.logger.Warn("impression queue still full, dropping batch",
			zap.Int("batch_size", len(job.impressions)))
		if s.dropped != nil {
			s.dropped(len(job.impressions))
		}
	}
}

func (s *ImpressionStore) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.WriteImpressions(ctx, job.impressions); err != nil {
			s.logger.Warn("impression write failed", zap.Int("rows", len(job.impressions)), zap.Error(err))
		}
		if len(job.scores) > 0 {
			if err := s.repo.WriteScores(ctx, job.scores); err != nil {
				s.logger.Warn("analytics score write failed", zap.Int("rows", len(job.scores)), zap.Error(err))
			}
		}
		cancel()
	}
}

// Close drains the queue and stops the workers
func (s *ImpressionStore) Close() {
	close(s.queue)
	s.wg.Wait()
}
