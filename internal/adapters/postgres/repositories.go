package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"qrsafe/internal/domain"
)

// RatingRepository

func (db *DB) LoadRating(ctx context.Context, hash string) (domain.CommunityRating, bool, error) {
	r := domain.CommunityRating{IdentifierHash: hash}
	err := db.Pool.QueryRow(ctx, `
        SELECT safe_count, unsafe_count, version, last_updated
        FROM community_ratings
        WHERE identifier_hash = $1
    `, hash).Scan(&r.SafeCount, &r.UnsafeCount, &r.Version, &r.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	r.Recount()
	return r, true, nil
}

func (db *DB) LoadVote(ctx context.Context, voterID, hash string) (domain.Vote, bool, error) {
	v := domain.Vote{VoterID: voterID, IdentifierHash: hash}
	err := db.Pool.QueryRow(ctx, `
        SELECT verdict, voted_at FROM votes WHERE voter_id = $1 AND identifier_hash = $2
    `, voterID, hash).Scan(&v.Verdict, &v.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, false, nil
	}
	return v, err == nil, err
}

func (db *DB) ListVotes(ctx context.Context, hash string) ([]domain.Vote, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT voter_id, verdict, voted_at FROM votes
        WHERE identifier_hash = $1
        ORDER BY voted_at
    `, hash)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Vote, error) {
		v := domain.Vote{IdentifierHash: hash}
		err := row.Scan(&v.VoterID, &v.Verdict, &v.Timestamp)
		return v, err
	})
}

func (db *DB) SaveVote(ctx context.Context, v domain.Vote, r domain.CommunityRating) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            INSERT INTO votes (voter_id, identifier_hash, verdict, voted_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (voter_id, identifier_hash) DO UPDATE
            SET verdict = EXCLUDED.verdict, voted_at = EXCLUDED.voted_at
        `, v.VoterID, v.IdentifierHash, string(v.Verdict), v.Timestamp); err != nil {
			return err
		}
		return upsertRating(ctx, tx, r)
	})
}

func (db *DB) DeleteVote(ctx context.Context, voterID, hash string, r domain.CommunityRating) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM votes WHERE voter_id = $1 AND identifier_hash = $2`, voterID, hash); err != nil {
			return err
		}
		return upsertRating(ctx, tx, r)
	})
}

func upsertRating(ctx context.Context, tx pgx.Tx, r domain.CommunityRating) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO community_ratings (identifier_hash, safe_count, unsafe_count, version, last_updated)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (identifier_hash) DO UPDATE
        SET safe_count = EXCLUDED.safe_count,
            unsafe_count = EXCLUDED.unsafe_count,
            version = EXCLUDED.version,
            last_updated = EXCLUDED.last_updated
    `, r.IdentifierHash, r.SafeCount, r.UnsafeCount, r.Version, r.LastUpdated)
	return err
}
