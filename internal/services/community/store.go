// Package community aggregates per-identifier safety votes. It is the
// authority for community ratings: votes are validated, rate limited,
// screened for abuse and folded into a versioned aggregate.
package community

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"qrsafe/internal/domain"
	"qrsafe/internal/keylock"
	"qrsafe/internal/observability"
	"qrsafe/internal/ports"
)

const (
	// RecencyHorizon is the age at which a vote reaches the weight floor.
	RecencyHorizon = 7 * 24 * time.Hour
	MinVoteWeight  = 0.1
)

// Publisher receives every changed aggregate.
type Publisher interface {
	Publish(r domain.CommunityRating)
}

type Store struct {
	repo    ports.RatingRepository
	locks   *keylock.Map
	window  *voterWindow
	pub     Publisher
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Store)

func WithPublisher(p Publisher) Option { return func(s *Store) { s.pub = p } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Store) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func WithClock(fn func() time.Time) Option { return func(s *Store) { s.now = fn } }

func WithLimits(l Limits) Option { return func(s *Store) { s.window = newVoterWindow(l) } }

func NewStore(repo ports.RatingRepository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		locks:  keylock.New(),
		window: newVoterWindow(DefaultLimits),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitVote casts or edits voterID's vote on hash, stamped now.
func (s *Store) SubmitVote(ctx context.Context, voterID, hash string, verdict domain.Verdict) (domain.CommunityRating, error) {
	return s.SubmitVoteAt(ctx, domain.Vote{VoterID: voterID, IdentifierHash: hash, Verdict: verdict})
}

// SubmitVoteAt applies a vote carrying its own timestamp, as replayed by a
// replica. A zero or future timestamp means now. If the stored vote is newer
// the call is accepted but leaves the aggregate untouched.
func (s *Store) SubmitVoteAt(ctx context.Context, v domain.Vote) (domain.CommunityRating, error) {
	if v.VoterID == "" || v.IdentifierHash == "" {
		return domain.CommunityRating{}, domain.ErrEmptyInput
	}
	if !v.Verdict.Valid() {
		return domain.CommunityRating{}, domain.ErrInvalidVerdict
	}

	now := s.now()
	v.Timestamp = notAfter(v.Timestamp, now)
	if err := s.window.admit(v.VoterID, now); err != nil {
		s.metrics.Vote(outcome(err))
		s.logger.Warn("community: vote rejected", "voter", v.VoterID, "hash", v.IdentifierHash, "error", err)
		return domain.CommunityRating{}, err
	}

	unlock := s.locks.Lock(v.IdentifierHash)
	defer unlock()

	r, prev, found, err := s.load(ctx, v.VoterID, v.IdentifierHash)
	if err != nil {
		s.window.release(v.VoterID, now)
		return domain.CommunityRating{}, err
	}

	changed := true
	if found {
		if domain.ResolveVote(prev, v) != v {
			s.metrics.Vote("stale")
			s.weigh(ctx, &r, now)
			return r, nil
		}
		if prev.Verdict == v.Verdict {
			changed = false
		} else {
			adjust(&r, prev.Verdict, -1)
		}
	}
	if changed {
		adjust(&r, v.Verdict, 1)
		s.touch(&r, now)
	}

	if err := s.repo.SaveVote(ctx, v, r); err != nil {
		s.window.release(v.VoterID, now)
		return domain.CommunityRating{}, fmt.Errorf("community: save vote: %w: %w", domain.ErrBackendUnavailable, err)
	}
	s.metrics.Vote("accepted")
	s.weigh(ctx, &r, now)
	if changed {
		s.publish(r)
	}
	return r, nil
}

// RetractVote removes voterID's vote on hash. Retracting a vote that does
// not exist returns the current rating unchanged.
func (s *Store) RetractVote(ctx context.Context, voterID, hash string) (domain.CommunityRating, error) {
	return s.RetractVoteAt(ctx, voterID, hash, time.Time{})
}

// RetractVoteAt is RetractVote for a retraction performed at a given time.
// A stored vote newer than at survives. A zero or future at means now.
func (s *Store) RetractVoteAt(ctx context.Context, voterID, hash string, at time.Time) (domain.CommunityRating, error) {
	if voterID == "" || hash == "" {
		return domain.CommunityRating{}, domain.ErrEmptyInput
	}
	now := s.now()
	at = notAfter(at, now)

	unlock := s.locks.Lock(hash)
	defer unlock()

	r, prev, found, err := s.load(ctx, voterID, hash)
	if err != nil {
		return domain.CommunityRating{}, err
	}
	if !found || prev.Timestamp.After(at) {
		s.weigh(ctx, &r, now)
		return r, nil
	}

	adjust(&r, prev.Verdict, -1)
	s.touch(&r, now)
	if err := s.repo.DeleteVote(ctx, voterID, hash, r); err != nil {
		return domain.CommunityRating{}, fmt.Errorf("community: delete vote: %w: %w", domain.ErrBackendUnavailable, err)
	}
	s.metrics.Vote("retracted")
	s.weigh(ctx, &r, now)
	s.publish(r)
	return r, nil
}

// GetRating returns the aggregate for hash with WeightedConfidence filled
// in. found is false when no vote backs the rating.
func (s *Store) GetRating(ctx context.Context, hash string) (domain.CommunityRating, bool, error) {
	r, found, err := s.repo.LoadRating(ctx, hash)
	if err != nil {
		return domain.CommunityRating{}, false, fmt.Errorf("community: load rating: %w: %w", domain.ErrBackendUnavailable, err)
	}
	if !found || !r.HasData() {
		return domain.CommunityRating{IdentifierHash: hash}, false, nil
	}
	s.weigh(ctx, &r, s.now())
	return r, true, nil
}

// Flagged reports whether voterID is currently over the abuse threshold.
func (s *Store) Flagged(voterID string) bool {
	return s.window.flagged(voterID, s.now())
}

func (s *Store) load(ctx context.Context, voterID, hash string) (domain.CommunityRating, domain.Vote, bool, error) {
	r, found, err := s.repo.LoadRating(ctx, hash)
	if err != nil {
		return r, domain.Vote{}, false, fmt.Errorf("community: load rating: %w: %w", domain.ErrBackendUnavailable, err)
	}
	if !found {
		r = domain.CommunityRating{IdentifierHash: hash}
	}
	v, ok, err := s.repo.LoadVote(ctx, voterID, hash)
	if err != nil {
		return r, domain.Vote{}, false, fmt.Errorf("community: load vote: %w: %w", domain.ErrBackendUnavailable, err)
	}
	return r, v, ok, nil
}

// weigh fills r.WeightedConfidence from the stored votes. If they cannot be
// listed the raw confidence stands in.
func (s *Store) weigh(ctx context.Context, r *domain.CommunityRating, now time.Time) {
	if !r.HasData() {
		r.WeightedConfidence = 0
		return
	}
	votes, err := s.repo.ListVotes(ctx, r.IdentifierHash)
	if err != nil {
		s.logger.Warn("community: list votes", "hash", r.IdentifierHash, "error", err)
		r.WeightedConfidence = r.Confidence
		return
	}
	r.WeightedConfidence = WeightedConfidence(votes, now)
}

// notAfter stamps zero and future times with now. Votes cannot be dated
// ahead of the authority's clock.
func notAfter(t, now time.Time) time.Time {
	if t.IsZero() || t.After(now) {
		return now
	}
	return t
}

func (s *Store) touch(r *domain.CommunityRating, now time.Time) {
	r.Recount()
	r.Version++
	r.LastUpdated = now
}

func (s *Store) publish(r domain.CommunityRating) {
	if s.pub != nil {
		s.pub.Publish(r)
	}
}

func adjust(r *domain.CommunityRating, v domain.Verdict, delta int) {
	switch v {
	case domain.VerdictSafe:
		r.SafeCount = max(0, r.SafeCount+delta)
	case domain.VerdictUnsafe:
		r.UnsafeCount = max(0, r.UnsafeCount+delta)
	}
}

// VoteWeight decays linearly from 1 at age 0 to MinVoteWeight at
// RecencyHorizon. Future timestamps weigh 1.
func VoteWeight(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return max(MinVoteWeight, 1-float64(age)/float64(RecencyHorizon))
}

// WeightedConfidence is the recency weighted share of safe votes, or 0
// without votes.
func WeightedConfidence(votes []domain.Vote, now time.Time) float64 {
	var safe, total float64
	for _, v := range votes {
		if !v.Verdict.Valid() {
			continue
		}
		w := VoteWeight(now.Sub(v.Timestamp))
		total += w
		if v.Verdict == domain.VerdictSafe {
			safe += w
		}
	}
	if total == 0 {
		return 0
	}
	return safe / total
}

func outcome(err error) string {
	switch err {
	case domain.ErrRateLimited:
		return "rate_limited"
	case domain.ErrAbuseDetected:
		return "abuse"
	}
	return "error"
}
