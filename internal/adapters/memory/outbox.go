package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"qrsafe/internal/ports"
)

// Outbox implements ports.OutboxRepository.
type Outbox struct {
	mu  sync.Mutex
	seq int64
	ops []ports.SyncOp
}

func NewOutbox() *Outbox { return &Outbox{} }

func (o *Outbox) Enqueue(_ context.Context, op ports.SyncOp) (ports.SyncOp, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if op.ID == "" {
		op.ID = uuid.Must(uuid.NewV7()).String()
	}
	o.seq++
	op.Seq = o.seq
	o.ops = append(o.ops, op)
	return op, nil
}

func (o *Outbox) Pending(_ context.Context, limit int) ([]ports.SyncOp, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.ops)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]ports.SyncOp, n)
	copy(out, o.ops[:n])
	return out, nil
}

func (o *Outbox) Ack(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, op := range o.ops {
		if op.ID == id {
			o.ops = append(o.ops[:i], o.ops[i+1:]...)
			return nil
		}
	}
	return nil
}

func (o *Outbox) Len(context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ops), nil
}
