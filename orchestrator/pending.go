package orchestrator

import (
	"context"

	"github.com/celer-network/go-dsu/types"
)

// Pending resolves once its transaction reaches Confirmed or Failed.
type Pending struct {
	ID     string
	done   chan struct{}
	record types.TransactionRecord
	err    error
}

func newPending(id string) *Pending {
	return &Pending{ID: id, done: make(chan struct{})}
}

func (p *Pending) resolve(record types.TransactionRecord) {
	p.record = record.Copy()
	p.err = record.Err()
	close(p.done)
}

// Done is closed when the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait returns the terminal record and, for a failed transaction, its
// *types.TxError. It returns ctx.Err() if ctx ends first.
func (p *Pending) Wait(ctx context.Context) (types.TransactionRecord, error) {
	select {
	case <-p.done:
		return p.record.Copy(), p.err
	case <-ctx.Done():
		return types.TransactionRecord{}, ctx.Err()
	}
}
