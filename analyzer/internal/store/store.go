package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rotaguard/rotaguard/pkg/types"
)

// Entry is a report together with the time it was stored.
type Entry struct {
	Report    *types.Report
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory report store keyed by schedule ID. Only
// the latest report per schedule is kept. A background goroutine (Run)
// evicts schedules that have not been re-analyzed within the TTL.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the report for rep.ScheduleID.
// Reports are write-once; callers must not modify rep after calling Put.
func (s *Store) Put(rep *types.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rep.ScheduleID] = &Entry{
		Report:    rep,
		UpdatedAt: s.now(),
	}
}

// Get returns the Entry for scheduleID. The entry may be stale if the TTL
// has elapsed and Run has not evicted it yet.
func (s *Store) Get(scheduleID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[scheduleID]
	return e, ok
}

// List returns the entries updated within the TTL, ordered by schedule ID.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Report.ScheduleID < out[j].Report.ScheduleID
	})
	return out
}

// Count returns the number of entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL and
// returns how many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the eviction loop, ticking at half the TTL (minimum one
// second). It blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale reports", "count", n)
			}
		}
	}
}
