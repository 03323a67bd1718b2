package ports

import (
	"context"

	"qrsafe/internal/domain"
)

// HistoryRepository persists scan history entries. The history service keeps
// the working set in memory and writes through to this repository.
type HistoryRepository interface {
	// List returns all entries, most recent first.
	List(ctx context.Context) ([]domain.ScanHistoryEntry, error)
	Insert(ctx context.Context, e domain.ScanHistoryEntry) error
	Update(ctx context.Context, e domain.ScanHistoryEntry) error
	Delete(ctx context.Context, ids ...string) error
	Clear(ctx context.Context) error
}

// RatingRepository stores individual votes and the aggregate they roll up to.
// Callers serialize writes per identifier hash.
type RatingRepository interface {
	LoadRating(ctx context.Context, hash string) (rating domain.CommunityRating, found bool, err error)
	LoadVote(ctx context.Context, voterID, hash string) (vote domain.Vote, found bool, err error)
	ListVotes(ctx context.Context, hash string) ([]domain.Vote, error)
	// SaveVote upserts the voter's vote and the updated aggregate atomically.
	SaveVote(ctx context.Context, v domain.Vote, r domain.CommunityRating) error
	// DeleteVote removes the voter's vote and stores the updated aggregate atomically.
	DeleteVote(ctx context.Context, voterID, hash string, r domain.CommunityRating) error
}
