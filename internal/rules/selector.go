package rules

import (
	"context"
	"sync"
	"time"

	"skyalert/internal/model"
	"skyalert/internal/storage"
)

// Selector fetches enabled, schedule-valid rules and caches the fetched set
// for a short TTL so per-snapshot evaluation doesn't hammer storage.
type Selector struct {
	repo storage.RuleRepo
	ttl  time.Duration

	mu        sync.Mutex
	cached    []model.Rule
	fetchedAt time.Time
}

func NewSelector(repo storage.RuleRepo, ttl time.Duration) *Selector {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Selector{repo: repo, ttl: ttl}
}

// Select returns the schedule-valid enabled rules. cacheHit reports whether
// the underlying rule set came from the cache (feeds cycle metrics).
func (s *Selector) Select(ctx context.Context, now time.Time) (rules []model.Rule, cacheHit bool, err error) {
	s.mu.Lock()
	if s.cached != nil && now.Sub(s.fetchedAt) < s.ttl {
		cached := s.cached
		s.mu.Unlock()
		return filterValid(cached, now), true, nil
	}
	s.mu.Unlock()

	fetched, err := s.repo.ListEnabled(ctx)
	if err != nil {
		// Serve a stale set rather than skipping the cycle entirely.
		s.mu.Lock()
		stale := s.cached
		s.mu.Unlock()
		if stale != nil {
			return filterValid(stale, now), true, err
		}
		return nil, false, err
	}

	s.mu.Lock()
	s.cached = fetched
	s.fetchedAt = now
	s.mu.Unlock()

	return filterValid(fetched, now), false, nil
}

// Invalidate drops the cache; the next Select refetches.
func (s *Selector) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func filterValid(in []model.Rule, now time.Time) []model.Rule {
	out := make([]model.Rule, 0, len(in))
	for _, r := range in {
		if r.Enabled && r.ScheduleValid(now) {
			out = append(out, r)
		}
	}
	return out
}
