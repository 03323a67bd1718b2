package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qrsafe/internal/domain"
	"qrsafe/internal/ports"
)

// Outbox implements ports.OutboxRepository. Sequence numbers come from the
// table's autoincrement key, so arrival order survives restarts.
type Outbox struct {
	db *sql.DB
}

func NewOutbox(db *sql.DB) *Outbox { return &Outbox{db: db} }

func (o *Outbox) Enqueue(ctx context.Context, op ports.SyncOp) (ports.SyncOp, error) {
	if op.ID == "" {
		op.ID = uuid.Must(uuid.NewV7()).String()
	}
	res, err := o.db.ExecContext(ctx, `INSERT INTO sync_outbox (id, kind, voter_id, identifier_hash, verdict, voted_at, queued_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Kind), op.Vote.VoterID, op.Vote.IdentifierHash, string(op.Vote.Verdict),
		op.Vote.Timestamp.UnixMilli(), op.QueuedAt.UnixMilli())
	if err != nil {
		return op, fmt.Errorf("sqlite: enqueue: %w", err)
	}
	if op.Seq, err = res.LastInsertId(); err != nil {
		return op, fmt.Errorf("sqlite: enqueue: %w", err)
	}
	return op, nil
}

func (o *Outbox) Pending(ctx context.Context, limit int) ([]ports.SyncOp, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := o.db.QueryContext(ctx, `SELECT seq, id, kind, voter_id, identifier_hash, verdict, voted_at, queued_at
        FROM sync_outbox ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending: %w", err)
	}
	defer rows.Close()

	var out []ports.SyncOp
	for rows.Next() {
		var (
			op            ports.SyncOp
			kind, verdict string
			voted, queued int64
		)
		if err := rows.Scan(&op.Seq, &op.ID, &kind, &op.Vote.VoterID, &op.Vote.IdentifierHash, &verdict, &voted, &queued); err != nil {
			return nil, fmt.Errorf("sqlite: pending: %w", err)
		}
		op.Kind = ports.SyncOpKind(kind)
		op.Vote.Verdict = domain.Verdict(verdict)
		op.Vote.Timestamp = time.UnixMilli(voted).UTC()
		op.QueuedAt = time.UnixMilli(queued).UTC()
		out = append(out, op)
	}
	return out, rows.Err()
}

func (o *Outbox) Ack(ctx context.Context, id string) error {
	if _, err := o.db.ExecContext(ctx, `DELETE FROM sync_outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: ack: %w", err)
	}
	return nil
}

func (o *Outbox) Len(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: outbox len: %w", err)
	}
	return n, nil
}
