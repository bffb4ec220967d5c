// Package switcher implements the failover/A-B provider router (C2):
// a strategy-driven ordering over named provider adapter slots with
// per-provider statistics.
package switcher

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/archflow/archflow/archflowerr"
	"github.com/archflow/archflow/provider"
)

// Stats holds per-provider counters. Hot fields are atomics; derived
// values (mean duration) are computed from them, so readers never see a
// torn struct even though they may see stale values under concurrent use.
type Stats struct {
	Success     atomic.Int64
	Failure     atomic.Int64
	TotalNanos  atomic.Int64
	MinNanos    atomic.Int64
	MaxNanos    atomic.Int64
}

func (s *Stats) record(d time.Duration, ok bool) {
	if ok {
		s.Success.Add(1)
	} else {
		s.Failure.Add(1)
	}
	s.TotalNanos.Add(int64(d))
	for {
		cur := s.MinNanos.Load()
		if cur != 0 && cur <= int64(d) {
			break
		}
		if s.MinNanos.CompareAndSwap(cur, int64(d)) {
			break
		}
	}
	for {
		cur := s.MaxNanos.Load()
		if cur >= int64(d) {
			break
		}
		if s.MaxNanos.CompareAndSwap(cur, int64(d)) {
			break
		}
	}
}

// SuccessRate returns successes / total, or 0 when there is no data.
func (s *Stats) SuccessRate() float64 {
	succ := s.Success.Load()
	total := succ + s.Failure.Load()
	if total == 0 {
		return 0
	}
	return float64(succ) / float64(total)
}

// MeanDuration returns the average call duration, or 0 when unknown.
func (s *Stats) MeanDuration() time.Duration {
	total := s.Success.Load() + s.Failure.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(s.TotalNanos.Load() / total)
}

// Snapshot is an immutable copy of Stats suitable for strategy decisions.
type Snapshot struct {
	Key          string
	Success      int64
	Failure      int64
	MeanDuration time.Duration
}

// Strategy orders candidate provider keys for a call attempt.
type Strategy interface {
	Order(keys []string, stats map[string]Snapshot) []string
}

// PrimaryOnlyStrategy always tries primary first, then the remaining keys
// in their declared order.
type PrimaryOnlyStrategy struct{}

func (PrimaryOnlyStrategy) Order(keys []string, stats map[string]Snapshot) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "primary" {
			out = append([]string{k}, out...)
		} else {
			out = append(out, k)
		}
	}
	return out
}

// SuccessRateStrategy orders candidates by descending success rate.
type SuccessRateStrategy struct{}

func (SuccessRateStrategy) Order(keys []string, stats map[string]Snapshot) []string {
	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(i, j int) bool {
		return stats[out[i]].successRate() > stats[out[j]].successRate()
	})
	return out
}

func (s Snapshot) successRate() float64 {
	total := s.Success + s.Failure
	if total == 0 {
		return 0
	}
	return float64(s.Success) / float64(total)
}

// LowestLatencyStrategy orders candidates by ascending mean duration,
// treating an unknown (zero) mean as worst-case so untested providers
// sort after measured ones rather than winning by default.
type LowestLatencyStrategy struct{}

func (LowestLatencyStrategy) Order(keys []string, stats map[string]Snapshot) []string {
	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := stats[out[i]].MeanDuration, stats[out[j]].MeanDuration
		if di == 0 {
			di = time.Duration(1<<63 - 1)
		}
		if dj == 0 {
			dj = time.Duration(1<<63 - 1)
		}
		return di < dj
	})
	return out
}

// Listener observes per-call success/failure events.
type Listener interface {
	OnSuccess(switcherID, providerKey string, ctx context.Context, d time.Duration)
	OnFailure(switcherID, providerKey string, ctx context.Context, err error)
}

// Switcher routes calls across named adapter slots with failover.
type Switcher struct {
	id       string
	strategy Strategy
	logger   *zap.Logger

	mu        sync.RWMutex
	adapters  map[string]provider.Adapter
	stats     map[string]*Stats
	listeners []Listener
}

// New creates a Switcher identified by id, using strategy for ordering.
func New(id string, strategy Strategy, logger *zap.Logger) *Switcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strategy == nil {
		strategy = PrimaryOnlyStrategy{}
	}
	return &Switcher{
		id:       id,
		strategy: strategy,
		logger:   logger.With(zap.String("component", "provider_switcher"), zap.String("switcher_id", id)),
		adapters: make(map[string]provider.Adapter),
		stats:    make(map[string]*Stats),
	}
}

// SetAdapter installs or replaces the adapter bound to key (e.g. "primary",
// "fallback").
func (s *Switcher) SetAdapter(key string, a provider.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[key] = a
	if _, ok := s.stats[key]; !ok {
		s.stats[key] = &Stats{}
	}
}

// UpdatePrimary reconfigures the primary adapter's Config.
func (s *Switcher) UpdatePrimary(cfg provider.Config) error {
	return s.reconfigure("primary", cfg)
}

// UpdateFallback reconfigures the fallback adapter's Config.
func (s *Switcher) UpdateFallback(cfg provider.Config) error {
	return s.reconfigure("fallback", cfg)
}

func (s *Switcher) reconfigure(key string, cfg provider.Config) error {
	s.mu.RLock()
	a, ok := s.adapters[key]
	s.mu.RUnlock()
	if !ok {
		return archflowerr.New(archflowerr.KindNotFound, "provider_slot_missing", "no adapter registered for "+key)
	}
	return a.Configure(cfg)
}

// Subscribe registers a Listener for success/failure events.
func (s *Switcher) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Operation is a unit of work dispatched against a chosen adapter.
type Operation func(ctx context.Context, a provider.Adapter) (any, error)

// ExecuteWithFallback runs op against the strategy-ordered adapters until
// one succeeds, recording stats and emitting listener events along the way.
// If every candidate fails, it returns an Exhausted error wrapping the last
// failure.
func (s *Switcher) ExecuteWithFallback(ctx context.Context, op Operation) (any, error) {
	order := s.order()
	if len(order) == 0 {
		return nil, archflowerr.New(archflowerr.KindExhausted, "no_providers", "no providers configured")
	}

	var lastErr error
	for _, key := range order {
		s.mu.RLock()
		a := s.adapters[key]
		st := s.stats[key]
		s.mu.RUnlock()
		if a == nil {
			continue
		}

		start := time.Now()
		result, err := op(ctx, a)
		d := time.Since(start)

		if err == nil {
			st.record(d, true)
			s.notifySuccess(key, ctx, d)
			return result, nil
		}

		st.record(d, false)
		s.notifyFailure(key, ctx, err)
		s.logger.Warn("provider attempt failed", zap.String("provider_key", key), zap.Error(err))
		lastErr = err
	}

	return nil, archflowerr.Wrap(archflowerr.KindExhausted, "provider_exhausted", "all providers failed", lastErr)
}

// ExecuteWith runs op against a single named adapter, bypassing the
// strategy and fallback chain.
func (s *Switcher) ExecuteWith(ctx context.Context, key string, op Operation) (any, error) {
	s.mu.RLock()
	a, ok := s.adapters[key]
	st := s.stats[key]
	s.mu.RUnlock()
	if !ok {
		return nil, archflowerr.New(archflowerr.KindNotFound, "provider_slot_missing", "no adapter registered for "+key)
	}

	start := time.Now()
	result, err := op(ctx, a)
	d := time.Since(start)
	if err != nil {
		st.record(d, false)
		s.notifyFailure(key, ctx, err)
		return nil, err
	}
	st.record(d, true)
	s.notifySuccess(key, ctx, d)
	return result, nil
}

// Compare runs op against every configured adapter and returns a map of
// key to result/error, useful for side-by-side evaluation.
func (s *Switcher) Compare(ctx context.Context, op Operation) map[string]any {
	s.mu.RLock()
	keys := make([]string, 0, len(s.adapters))
	for k := range s.adapters {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	out := make(map[string]any, len(keys))
	for _, key := range keys {
		result, err := s.ExecuteWith(ctx, key, op)
		if err != nil {
			out[key] = err
		} else {
			out[key] = result
		}
	}
	return out
}

// GetStats returns a point-in-time snapshot of all provider statistics.
func (s *Switcher) GetStats() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot, len(s.stats))
	for k, st := range s.stats {
		out[k] = Snapshot{
			Key:          k,
			Success:      st.Success.Load(),
			Failure:      st.Failure.Load(),
			MeanDuration: st.MeanDuration(),
		}
	}
	return out
}

func (s *Switcher) order() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.adapters))
	for k := range s.adapters {
		keys = append(keys, k)
	}
	snap := make(map[string]Snapshot, len(s.stats))
	for k, st := range s.stats {
		snap[k] = Snapshot{Key: k, Success: st.Success.Load(), Failure: st.Failure.Load(), MeanDuration: st.MeanDuration()}
	}
	s.mu.RUnlock()

	// Map iteration order is randomized; every Strategy.Order implementation
	// assumes a stable input ordering (PrimaryOnlyStrategy preserves it
	// verbatim for the non-primary tail), so the keys must be sorted before
	// they ever reach a strategy.
	sort.Strings(keys)
	return s.strategy.Order(keys, snap)
}

func (s *Switcher) notifySuccess(key string, ctx context.Context, d time.Duration) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l.OnSuccess(s.id, key, ctx, d)
	}
}

func (s *Switcher) notifyFailure(key string, ctx context.Context, err error) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l.OnFailure(s.id, key, ctx, err)
	}
}
