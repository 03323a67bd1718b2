package ports

import (
	"context"
	"time"

	"qrsafe/internal/domain"
)

// ReputationClient looks up an identifier with the threat-intel provider.
// Provider failures are reported in the verdict, never as errors.
type ReputationClient interface {
	Assess(ctx context.Context, url string) domain.ReputationVerdict
}

// ReputationCache holds completed verdicts for a bounded time.
type ReputationCache interface {
	Get(ctx context.Context, key string) (domain.ReputationVerdict, bool)
	Put(ctx context.Context, key string, v domain.ReputationVerdict, ttl time.Duration)
}

// Ratings reads community aggregates.
type Ratings interface {
	GetRating(ctx context.Context, hash string) (domain.CommunityRating, bool, error)
}

// Voter casts and retracts votes. The voter id is always explicit.
type Voter interface {
	Ratings
	SubmitVote(ctx context.Context, voterID, hash string, verdict domain.Verdict) (domain.CommunityRating, error)
	RetractVote(ctx context.Context, voterID, hash string) (domain.CommunityRating, error)
}

// RemoteRatings is the authoritative rating service as seen from a replica.
type RemoteRatings interface {
	SubmitVote(ctx context.Context, v domain.Vote) (domain.CommunityRating, error)
	RetractVote(ctx context.Context, voterID, hash string, at time.Time) (domain.CommunityRating, error)
	FetchRating(ctx context.Context, hash string) (domain.CommunityRating, bool, error)
}
