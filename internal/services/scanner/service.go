// Package scanner runs the scan pipeline: canonicalize the payload, look up
// reputation and community data concurrently, combine them and record the
// result in history.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"qrsafe/internal/domain"
	"qrsafe/internal/observability"
	"qrsafe/internal/ports"
	"qrsafe/internal/services/assessment"
	"qrsafe/internal/services/canon"
)

// ErrSuperseded is returned when a newer scan for a different identifier
// started while this one was in flight. The result is not recorded.
var ErrSuperseded = errors.New("scanner: superseded by a newer scan")

// History is the part of the history store the pipeline needs.
type History interface {
	Lookup(ctx context.Context, canonical string) (domain.ScanHistoryEntry, bool)
	RecordScan(ctx context.Context, id domain.Identifier, a domain.SafetyAssessment, took time.Duration) (domain.ScanHistoryEntry, bool, error)
	Get(ctx context.Context, id string) (domain.ScanHistoryEntry, error)
	ApplyUserVote(ctx context.Context, entryID string, vote *domain.Verdict, refreshed *domain.CommunityRating) (domain.ScanHistoryEntry, error)
}

type Result struct {
	Identifier domain.Identifier       `json:"identifier"`
	Assessment domain.SafetyAssessment `json:"assessment"`
	Entry      domain.ScanHistoryEntry `json:"entry"`
	Duplicate  bool                    `json:"duplicate"`
}

type Service struct {
	reputation ports.ReputationClient
	voter      ports.Voter
	history    History
	combiner   assessment.Combiner
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	seq  uint64
	gens map[string]generation
}

// generation is the latest scan started under a session key.
type generation struct {
	n         uint64
	canonical string
}

const defaultSession = "default"

type Option func(*Service)

func WithCombiner(c assessment.Combiner) Option { return func(s *Service) { s.combiner = c } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(fn func() time.Time) Option { return func(s *Service) { s.now = fn } }

func New(reputation ports.ReputationClient, voter ports.Voter, history History, opts ...Option) *Service {
	s := &Service{
		reputation: reputation,
		voter:      voter,
		history:    history,
		logger:     slog.Default(),
		now:        time.Now,
		gens:       make(map[string]generation),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan assesses raw and records it. An empty payload fails with
// domain.ErrEmptyInput and records nothing. A payload already in history
// returns the existing entry with Duplicate set and performs no lookups.
func (s *Service) Scan(ctx context.Context, raw string) (Result, error) {
	return s.ScanFor(ctx, defaultSession, raw)
}

// ScanFor is Scan with the supersede guard scoped to session, so that
// independent users do not discard each other's results. An empty session
// disables the guard.
func (s *Service) ScanFor(ctx context.Context, session, raw string) (Result, error) {
	start := s.now()
	id, err := canon.Canonicalize(raw)
	if err != nil {
		return Result{}, err
	}
	gen := s.begin(session, id.Canonical)

	if e, ok := s.history.Lookup(ctx, id.Canonical); ok {
		return Result{Identifier: id, Assessment: e.Assessment, Entry: e, Duplicate: true}, nil
	}

	rep, com := s.lookup(ctx, id)
	a := s.combiner.Combine(rep, com, !id.Web)
	if s.superseded(session, gen, id.Canonical) {
		s.logger.Info("scanner: discarding superseded result", "hash", id.Hash)
		return Result{Identifier: id, Assessment: a}, ErrSuperseded
	}

	e, dup, err := s.history.RecordScan(ctx, id, a, s.now().Sub(start))
	if err != nil {
		return Result{Identifier: id, Assessment: a}, err
	}
	if !dup {
		s.metrics.Scan(string(a.Verdict))
	}
	return Result{Identifier: id, Assessment: e.Assessment, Entry: e, Duplicate: dup}, nil
}

// lookup queries reputation and community data concurrently. A failure on
// one side never cancels the other; each failure just leaves that side nil.
func (s *Service) lookup(ctx context.Context, id domain.Identifier) (*domain.ReputationVerdict, *domain.CommunityRating) {
	var (
		wg  sync.WaitGroup
		rep *domain.ReputationVerdict
		com *domain.CommunityRating
	)
	if id.Web {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := s.reputation.Assess(ctx, id.Canonical)
			rep = &v
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, found, err := s.voter.GetRating(ctx, id.Hash)
		if err != nil {
			s.logger.Warn("scanner: community lookup failed", "hash", id.Hash, "error", err)
			return
		}
		if found {
			com = &r
		}
	}()
	wg.Wait()
	return rep, com
}

// Vote casts (or, with a nil verdict, retracts) voterID's vote on the
// entry's identifier and applies it to the entry. Rejected votes leave the
// entry unchanged.
func (s *Service) Vote(ctx context.Context, voterID, entryID string, verdict *domain.Verdict) (domain.ScanHistoryEntry, error) {
	e, err := s.history.Get(ctx, entryID)
	if err != nil {
		return domain.ScanHistoryEntry{}, err
	}
	var r domain.CommunityRating
	if verdict != nil {
		r, err = s.voter.SubmitVote(ctx, voterID, e.Identifier.Hash, *verdict)
	} else {
		r, err = s.voter.RetractVote(ctx, voterID, e.Identifier.Hash)
	}
	if err != nil {
		return e, err
	}
	var refreshed *domain.CommunityRating
	if r.Version > 0 {
		refreshed = &r
	}
	return s.history.ApplyUserVote(ctx, entryID, verdict, refreshed)
}

func (s *Service) begin(session, canonical string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if session != "" {
		s.gens[session] = generation{n: s.seq, canonical: canonical}
	}
	return s.seq
}

// superseded reports whether the scan numbered n was superseded: a later scan
// for a different identifier started under the same session.
func (s *Service) superseded(session string, n uint64, canonical string) bool {
	if session == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gens[session]
	return g.n != n && g.canonical != canonical
}
