// Package syncer keeps a replica's view of community ratings consistent
// with the remote authority. Votes cast while the authority is unreachable
// are queued in an outbox and replayed in arrival order.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"qrsafe/internal/domain"
	"qrsafe/internal/keylock"
	"qrsafe/internal/observability"
	"qrsafe/internal/ports"
)

const defaultBatch = 50

// Publisher receives every rating snapshot the replica adopts.
type Publisher interface {
	Publish(r domain.CommunityRating)
}

// Syncer implements ports.Voter on top of a remote authority.
type Syncer struct {
	remote  ports.RemoteRatings
	outbox  ports.OutboxRepository
	locks   *keylock.Map
	pub     Publisher
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	snapshots map[string]domain.CommunityRating
}

type Option func(*Syncer)

func WithPublisher(p Publisher) Option { return func(s *Syncer) { s.pub = p } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Syncer) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Syncer) { s.logger = l } }

func WithClock(fn func() time.Time) Option { return func(s *Syncer) { s.now = fn } }

func New(remote ports.RemoteRatings, outbox ports.OutboxRepository, opts ...Option) *Syncer {
	s := &Syncer{
		remote:    remote,
		outbox:    outbox,
		locks:     keylock.New(),
		logger:    slog.Default(),
		now:       time.Now,
		snapshots: make(map[string]domain.CommunityRating),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitVote sends the vote to the authority. Rejections (rate limit,
// abuse, invalid input) are returned as is. When the authority cannot be
// reached the vote is queued and the last known snapshot is returned.
func (s *Syncer) SubmitVote(ctx context.Context, voterID, hash string, verdict domain.Verdict) (domain.CommunityRating, error) {
	if voterID == "" || hash == "" {
		return domain.CommunityRating{}, domain.ErrEmptyInput
	}
	if !verdict.Valid() {
		return domain.CommunityRating{}, domain.ErrInvalidVerdict
	}
	unlock := s.locks.Lock(hash)
	defer unlock()

	v := domain.Vote{VoterID: voterID, IdentifierHash: hash, Verdict: verdict, Timestamp: s.now()}
	r, err := s.remote.SubmitVote(ctx, v)
	if err == nil {
		return s.adopt(r), nil
	}
	if IsRejection(err) {
		return domain.CommunityRating{}, err
	}
	return s.queue(ctx, ports.SyncOp{Kind: ports.SyncOpVote, Vote: v}, err)
}

// RetractVote removes the vote at the authority, queueing it when offline.
func (s *Syncer) RetractVote(ctx context.Context, voterID, hash string) (domain.CommunityRating, error) {
	if voterID == "" || hash == "" {
		return domain.CommunityRating{}, domain.ErrEmptyInput
	}
	unlock := s.locks.Lock(hash)
	defer unlock()

	v := domain.Vote{VoterID: voterID, IdentifierHash: hash, Timestamp: s.now()}
	r, err := s.remote.RetractVote(ctx, voterID, hash, v.Timestamp)
	if err == nil {
		return s.adopt(r), nil
	}
	if IsRejection(err) {
		return domain.CommunityRating{}, err
	}
	return s.queue(ctx, ports.SyncOp{Kind: ports.SyncOpRetract, Vote: v}, err)
}

// GetRating fetches the authority's aggregate. When the authority is
// unreachable the last adopted snapshot is served instead. An authority
// answering "no rating" wins over any held snapshot.
func (s *Syncer) GetRating(ctx context.Context, hash string) (domain.CommunityRating, bool, error) {
	r, found, err := s.remote.FetchRating(ctx, hash)
	if err != nil {
		s.logger.Warn("syncer: fetch rating, serving snapshot", "hash", hash, "error", err)
		snap, ok := s.Snapshot(hash)
		return snap, ok && snap.HasData(), nil
	}
	if !found {
		s.forget(hash)
		return domain.CommunityRating{IdentifierHash: hash}, false, nil
	}
	r = s.adopt(r)
	return r, r.HasData(), nil
}

// Snapshot returns the locally held aggregate for hash.
func (s *Syncer) Snapshot(hash string) (domain.CommunityRating, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.snapshots[hash]
	return r, ok
}

// Flush replays queued operations in arrival order. It stops at the first
// transport failure and returns it; operations the authority rejects are
// dropped since replaying them again cannot succeed.
func (s *Syncer) Flush(ctx context.Context) (int, error) {
	replayed := 0
	defer s.reportDepth(ctx)
	for {
		ops, err := s.outbox.Pending(ctx, defaultBatch)
		if err != nil {
			return replayed, fmt.Errorf("syncer: read outbox: %w", err)
		}
		if len(ops) == 0 {
			return replayed, nil
		}
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return replayed, err
			}
			if err := s.replay(ctx, op); err != nil {
				s.metrics.SyncReplay("failed")
				return replayed, fmt.Errorf("syncer: replay %s: %w", op.ID, err)
			}
			replayed++
		}
	}
}

// Pending reports how many operations wait in the outbox.
func (s *Syncer) Pending(ctx context.Context) (int, error) {
	return s.outbox.Len(ctx)
}

func (s *Syncer) replay(ctx context.Context, op ports.SyncOp) error {
	unlock := s.locks.Lock(op.Vote.IdentifierHash)
	defer unlock()

	var (
		r   domain.CommunityRating
		err error
	)
	switch op.Kind {
	case ports.SyncOpVote:
		r, err = s.remote.SubmitVote(ctx, op.Vote)
	case ports.SyncOpRetract:
		r, err = s.remote.RetractVote(ctx, op.Vote.VoterID, op.Vote.IdentifierHash, op.Vote.Timestamp)
	default:
		err = fmt.Errorf("%w: unknown op kind %q", domain.ErrInvalidVerdict, op.Kind)
	}

	switch {
	case err == nil:
		s.adopt(r)
		s.metrics.SyncReplay("applied")
	case IsRejection(err):
		s.logger.Warn("syncer: queued op rejected, dropping", "op", op.ID, "kind", op.Kind, "hash", op.Vote.IdentifierHash, "error", err)
		s.metrics.SyncReplay("rejected")
	default:
		return err
	}
	if err := s.outbox.Ack(ctx, op.ID); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

func (s *Syncer) queue(ctx context.Context, op ports.SyncOp, cause error) (domain.CommunityRating, error) {
	op.QueuedAt = s.now()
	queued, err := s.outbox.Enqueue(ctx, op)
	if err != nil {
		return domain.CommunityRating{}, fmt.Errorf("syncer: enqueue after %v: %w: %w", cause, domain.ErrBackendUnavailable, err)
	}
	s.logger.Info("syncer: authority unreachable, queued", "op", queued.ID, "kind", op.Kind, "hash", op.Vote.IdentifierHash, "error", cause)
	s.metrics.SyncReplay("queued")
	s.reportDepth(ctx)
	snap, _ := s.Snapshot(op.Vote.IdentifierHash)
	snap.IdentifierHash = op.Vote.IdentifierHash
	return snap, nil
}

// adopt merges a remote snapshot into the local view and returns the kept
// one. Newly adopted snapshots are published.
func (s *Syncer) adopt(remote domain.CommunityRating) domain.CommunityRating {
	s.mu.Lock()
	cur, had := s.snapshots[remote.IdentifierHash]
	kept := remote
	if had {
		kept = domain.ResolveRating(cur, remote)
	}
	s.snapshots[remote.IdentifierHash] = kept
	s.mu.Unlock()

	if s.pub != nil && (!had || kept.Version > cur.Version) {
		s.pub.Publish(kept)
	}
	return kept
}

// forget drops the snapshot for hash after the authority reported no votes
// for it. Subscribers holding data get an empty rating at the same version,
// which they accept since it is not older than what they hold.
func (s *Syncer) forget(hash string) {
	s.mu.Lock()
	cur, had := s.snapshots[hash]
	delete(s.snapshots, hash)
	s.mu.Unlock()

	if s.pub != nil && had && cur.HasData() {
		s.pub.Publish(domain.CommunityRating{IdentifierHash: hash, Version: cur.Version, LastUpdated: s.now()})
	}
}

func (s *Syncer) reportDepth(ctx context.Context) {
	if n, err := s.outbox.Len(ctx); err == nil {
		s.metrics.SetOutboxDepth(n)
	}
}

// IsRejection reports whether err is a final answer from the authority,
// as opposed to a transport failure worth retrying.
func IsRejection(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrAbuseDetected) ||
		errors.Is(err, domain.ErrInvalidVerdict) ||
		errors.Is(err, domain.ErrEmptyInput)
}
