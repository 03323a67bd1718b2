// Package memory holds in-process implementations of the repository ports,
// used by tests, the CLI's dry runs and single-node deployments without a
// database.
package memory

import (
	"context"
	"sort"
	"sync"

	"qrsafe/internal/domain"
)

type voteKey struct{ voter, hash string }

// Ratings implements ports.RatingRepository.
type Ratings struct {
	mu      sync.RWMutex
	ratings map[string]domain.CommunityRating
	votes   map[voteKey]domain.Vote
}

func NewRatings() *Ratings {
	return &Ratings{
		ratings: make(map[string]domain.CommunityRating),
		votes:   make(map[voteKey]domain.Vote),
	}
}

func (r *Ratings) LoadRating(_ context.Context, hash string) (domain.CommunityRating, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ratings[hash]
	return c, ok, nil
}

func (r *Ratings) LoadVote(_ context.Context, voterID, hash string) (domain.Vote, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.votes[voteKey{voterID, hash}]
	return v, ok, nil
}

func (r *Ratings) ListVotes(_ context.Context, hash string) ([]domain.Vote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Vote
	for k, v := range r.votes {
		if k.hash == hash {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *Ratings) SaveVote(_ context.Context, v domain.Vote, c domain.CommunityRating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes[voteKey{v.VoterID, v.IdentifierHash}] = v
	r.ratings[c.IdentifierHash] = c
	return nil
}

func (r *Ratings) DeleteVote(_ context.Context, voterID, hash string, c domain.CommunityRating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.votes, voteKey{voterID, hash})
	r.ratings[c.IdentifierHash] = c
	return nil
}
