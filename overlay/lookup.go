package overlay

import (
	"context"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn"
)

// Lookup discovers contract instances through a Client. It never fails: an
// unreachable service yields no results and undecodable outputs are
// skipped, both with a warning. An absent contract only means it isn't
// currently indexed, never that it doesn't exist.
type Lookup struct {
	client Client
}

// NewLookup creates a lookup over client.
func NewLookup(client Client) *Lookup {
	return &Lookup{client: client}
}

// Find returns the instances matching q.
func (l *Lookup) Find(ctx context.Context, q *Query) []*covenant.Instance {
	outputs, err := l.client.Query(ctx, q)
	if err != nil {
		log.Warnf("Overlay query %+v failed, treating as empty: %v",
			*q, err)

		return nil
	}

	instances := make([]*covenant.Instance, 0, len(outputs))
	for _, out := range outputs {
		if out == nil {
			log.Warnf("Skipping empty overlay output")
			continue
		}

		inst, err := out.decode()
		if err != nil {
			log.Warnf("Skipping undecodable output %s:%d: %v",
				out.TxID, out.OutputIndex, err)

			continue
		}
		instances = append(instances, inst)
	}

	return instances
}

// FindOwned returns the contracts involving key.
func (l *Lookup) FindOwned(ctx context.Context,
	key covenant.PubKey) []*covenant.Instance {

	return l.Find(ctx, ByOwner(key))
}

// FindOutPoint returns the contract at op, if it is currently indexed.
func (l *Lookup) FindOutPoint(ctx context.Context,
	op wire.OutPoint) fn.Option[*covenant.Instance] {

	for _, inst := range l.Find(ctx, ByTxID(op.Hash)) {
		if inst.OutPoint == op {
			return fn.Some(inst)
		}
	}

	return fn.None[*covenant.Instance]()
}
