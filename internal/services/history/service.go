// Package history keeps the user's scan history: bounded, most recent
// first, one entry per canonical identifier. The working set lives in
// memory and is written through to a HistoryRepository; storage failures
// are logged and never fail the caller.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"qrsafe/internal/domain"
	"qrsafe/internal/ports"
	"qrsafe/internal/services/assessment"
	"qrsafe/internal/services/feed"
)

const DefaultCapacity = 100

type Service struct {
	repo     ports.HistoryRepository
	combiner assessment.Combiner
	flight   singleflight.Group
	capacity int
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	mu      sync.RWMutex
	entries []domain.ScanHistoryEntry
}

type Option func(*Service)

func WithCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithCombiner(c assessment.Combiner) Option { return func(s *Service) { s.combiner = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(fn func() time.Time) Option { return func(s *Service) { s.now = fn } }

func New(repo ports.HistoryRepository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		capacity: DefaultCapacity,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load replaces the in-memory working set with the repository contents.
func (s *Service) Load(ctx context.Context) error {
	list, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	var evicted []string
	if len(list) > s.capacity {
		for _, e := range list[s.capacity:] {
			evicted = append(evicted, e.ID)
		}
		list = list[:s.capacity]
	}
	s.mu.Lock()
	s.entries = list
	s.mu.Unlock()
	s.deleteEvicted(ctx, evicted)
	return nil
}

// RecordScan stores a new entry for id. When an entry for the same
// canonical identifier already exists, or another save for it is in
// flight, the existing entry is returned with duplicate set.
func (s *Service) RecordScan(ctx context.Context, id domain.Identifier, a domain.SafetyAssessment, took time.Duration) (domain.ScanHistoryEntry, bool, error) {
	if id.Canonical == "" {
		return domain.ScanHistoryEntry{}, false, domain.ErrEmptyInput
	}
	led := false
	v, _, _ := s.flight.Do(id.Canonical, func() (any, error) {
		led = true
		e, dup := s.insert(ctx, id, a, took, s.now(), false)
		return recorded{e, dup}, nil
	})
	r := v.(recorded)
	return r.entry, r.duplicate || !led, nil
}

type recorded struct {
	entry     domain.ScanHistoryEntry
	duplicate bool
}

func (s *Service) insertDemo(ctx context.Context, id domain.Identifier, a domain.SafetyAssessment, took time.Duration, at time.Time) (domain.ScanHistoryEntry, bool) {
	return s.insert(ctx, id, a, took, at, true)
}

func (s *Service) insert(ctx context.Context, id domain.Identifier, a domain.SafetyAssessment, took time.Duration, at time.Time, demo bool) (domain.ScanHistoryEntry, bool) {
	s.mu.Lock()
	if i := s.indexByCanonical(id.Canonical); i >= 0 {
		e := s.entries[i]
		s.mu.Unlock()
		return e, true
	}
	e := domain.ScanHistoryEntry{
		ID:           s.newID(),
		Identifier:   id,
		Timestamp:    at,
		DurationMs:   took.Milliseconds(),
		Assessment:   a,
		SafetyStatus: a.Verdict,
		Demo:         demo,
	}
	s.entries = append([]domain.ScanHistoryEntry{e}, s.entries...)
	var evicted []string
	for len(s.entries) > s.capacity {
		evicted = append(evicted, s.entries[len(s.entries)-1].ID)
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.mu.Unlock()

	if err := s.repo.Insert(ctx, e); err != nil {
		s.logger.Error("history: insert", "id", e.ID, "error", err)
	}
	s.deleteEvicted(ctx, evicted)
	return e, false
}

// IsDuplicate reports whether canonical already has an entry.
func (s *Service) IsDuplicate(ctx context.Context, canonical string) bool {
	_, ok := s.Lookup(ctx, canonical)
	return ok
}

// Lookup returns the entry recorded for canonical.
func (s *Service) Lookup(_ context.Context, canonical string) (domain.ScanHistoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexByCanonical(canonical); i >= 0 {
		return s.entries[i], true
	}
	return domain.ScanHistoryEntry{}, false
}

// ApplyUserVote sets or clears the user's verdict on an entry. A non-nil
// refreshed rating replaces the entry's community snapshot first unless the
// held snapshot has a higher version. Clearing the vote recomputes the
// status from the saved snapshots.
func (s *Service) ApplyUserVote(ctx context.Context, entryID string, vote *domain.Verdict, refreshed *domain.CommunityRating) (domain.ScanHistoryEntry, error) {
	if vote != nil && !vote.Valid() {
		return domain.ScanHistoryEntry{}, domain.ErrInvalidVerdict
	}
	s.mu.Lock()
	i := s.indexByID(entryID)
	if i < 0 {
		s.mu.Unlock()
		return domain.ScanHistoryEntry{}, domain.ErrNotFound
	}
	e := s.entries[i]
	if refreshed != nil && !newer(e.Assessment.Community, *refreshed) {
		e.Assessment = s.reassess(e.Assessment, refreshed)
	}
	if vote != nil {
		v := *vote
		e.UserVote = &v
		e.UserOverride = true
		e.SafetyStatus = v
	} else {
		e.UserVote = nil
		e.UserOverride = false
		e.Assessment = s.reassess(e.Assessment, e.Assessment.Community)
		e.SafetyStatus = e.Assessment.Verdict
	}
	s.entries[i] = e
	s.mu.Unlock()

	s.update(ctx, e)
	return e, nil
}

// RefreshCommunity replaces the community snapshot of every entry for
// r's identifier hash, unless the held snapshot is newer. Entries the user
// overrode keep their status. It returns the number of entries changed.
func (s *Service) RefreshCommunity(ctx context.Context, r domain.CommunityRating) int {
	var changed []domain.ScanHistoryEntry
	s.mu.Lock()
	for i, e := range s.entries {
		if e.Identifier.Hash != r.IdentifierHash {
			continue
		}
		if newer(e.Assessment.Community, r) {
			continue
		}
		rating := r
		e.Assessment = s.reassess(e.Assessment, &rating)
		if !e.UserOverride {
			e.SafetyStatus = e.Assessment.Verdict
		}
		s.entries[i] = e
		changed = append(changed, e)
	}
	s.mu.Unlock()

	for _, e := range changed {
		s.update(ctx, e)
	}
	return len(changed)
}

// Follow applies live rating updates until ctx is done or updates closes.
func (s *Service) Follow(ctx context.Context, updates <-chan feed.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			s.RefreshCommunity(ctx, u.Rating)
		}
	}
}

// List returns up to limit entries, most recent first. limit <= 0 means all.
func (s *Service) List(_ context.Context, limit int) []domain.ScanHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.ScanHistoryEntry, n)
	copy(out, s.entries[:n])
	return out
}

func (s *Service) Get(_ context.Context, id string) (domain.ScanHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexByID(id); i >= 0 {
		return s.entries[i], nil
	}
	return domain.ScanHistoryEntry{}, domain.ErrNotFound
}

// Clear drops every entry.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	if err := s.repo.Clear(ctx); err != nil {
		s.logger.Error("history: clear", "error", err)
	}
	return nil
}

// newer reports whether the held snapshot is more recent than r.
func newer(held *domain.CommunityRating, r domain.CommunityRating) bool {
	return held != nil && held.Version > r.Version
}

func (s *Service) reassess(a domain.SafetyAssessment, com *domain.CommunityRating) domain.SafetyAssessment {
	return s.combiner.Combine(a.Reputation, com, a.NonWeb)
}

func (s *Service) update(ctx context.Context, e domain.ScanHistoryEntry) {
	if err := s.repo.Update(ctx, e); err != nil {
		s.logger.Error("history: update", "id", e.ID, "error", err)
	}
}

func (s *Service) deleteEvicted(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.repo.Delete(ctx, ids...); err != nil {
		s.logger.Error("history: evict", "count", len(ids), "error", err)
	}
}

func (s *Service) indexByCanonical(canonical string) int {
	for i, e := range s.entries {
		if e.Identifier.Canonical == canonical {
			return i
		}
	}
	return -1
}

func (s *Service) indexByID(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
