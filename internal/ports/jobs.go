package ports

import (
	"context"
	"time"

	"qrsafe/internal/domain"
)

type SyncOpKind string

const (
	SyncOpVote    SyncOpKind = "vote"
	SyncOpRetract SyncOpKind = "retract"
)

// SyncOp is a vote operation performed while the remote authority was
// unreachable. Replaying an already-applied op is harmless.
type SyncOp struct {
	ID       string
	Seq      int64 // arrival order, assigned by the outbox
	Kind     SyncOpKind
	Vote     domain.Vote // Verdict is empty for retractions
	QueuedAt time.Time
}

// OutboxRepository keeps queued sync operations in arrival order.
type OutboxRepository interface {
	Enqueue(ctx context.Context, op SyncOp) (SyncOp, error)
	Pending(ctx context.Context, limit int) ([]SyncOp, error)
	Ack(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}
