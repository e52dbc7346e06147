package roles

import (
	"context"
	"errors"

	"github.com/Quaakee/paragon-escrow-sub000/contractdb"
	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
)

// contractFinder is a view into the contracts the overlay currently
// indexes.
type contractFinder interface {
	// FindOwned returns the indexed contracts involving key.
	FindOwned(ctx context.Context,
		key covenant.PubKey) []*covenant.Instance
}

// contractTracker persists the contracts a party follows.
type contractTracker interface {
	// List returns every tracked contract.
	List() ([]*contractdb.Contract, error)

	// Track starts following a contract, replacing any entry for the
	// same outpoint.
	Track(c *contractdb.Contract) error

	// Untrack stops following the contract at op.
	Untrack(op wire.OutPoint) error
}

// spendSource reports how the ledger consumed an output.
type spendSource interface {
	// SpentBy returns the hash of the transaction that spent op, and
	// false if op isn't known to be spent.
	SpentBy(op wire.OutPoint) (chainhash.Hash, bool)
}

// Observer reconciles a party's tracked contracts with the overlay, so
// that transitions made by the other parties show up locally.
type Observer struct {
	finder  contractFinder
	tracker contractTracker
	spends  spendSource
	key     covenant.PubKey
}

// NewObserver creates an observer of the contracts involving key.
func NewObserver(finder contractFinder, tracker contractTracker,
	key covenant.PubKey) *Observer {

	return &Observer{
		finder:  finder,
		tracker: tracker,
		key:     key,
	}
}

// RoleOf returns the part key plays in c. Any key that is neither the
// seeker's nor the platform's is taken as a furnisher.
func RoleOf(c *covenant.Contract, key covenant.PubKey) covenant.Role {
	switch key {
	case c.SeekerKey:
		return covenant.RoleSeeker

	case c.PlatformKey:
		return covenant.RolePlatform

	default:
		return covenant.RoleFurnisher
	}
}

// UseSpendSource lets Refresh drop tracked contracts whose outputs the
// source shows spent.
func (o *Observer) UseSpendSource(s spendSource) {
	o.spends = s
}

func (o *Observer) spentBy(op wire.OutPoint) (chainhash.Hash, bool) {
	if o.spends == nil {
		return chainhash.Hash{}, false
	}

	return o.spends.SpentBy(op)
}

// Refresh tracks every indexed contract involving the observer's key that
// isn't tracked yet, and updates tracked ones whose indexed state differs.
// It returns the instances that were new or changed.
//
// A tracked contract missing from the overlay is only dropped once the
// spend source shows its output spent. A successor created by the
// spending transaction replaces it and keeps its label. Without proof of
// the spend the entry is kept, as it may just not be indexed yet.
func (o *Observer) Refresh(ctx context.Context) ([]*covenant.Instance,
	error) {

	tracked, err := o.tracker.List()
	if err != nil {
		return nil, err
	}

	known := make(map[wire.OutPoint]*contractdb.Contract, len(tracked))
	for _, c := range tracked {
		known[c.OutPoint] = c
	}

	instances := o.finder.FindOwned(ctx, o.key)
	seen := make(map[wire.OutPoint]struct{}, len(instances))
	for _, inst := range instances {
		seen[inst.OutPoint] = struct{}{}
	}

	// Spent entries keyed by the transaction that spent them.
	spent := make(map[chainhash.Hash][]*contractdb.Contract)
	for op, c := range known {
		if _, ok := seen[op]; ok {
			continue
		}

		spender, ok := o.spentBy(op)
		if !ok {
			log.Tracef("Tracked contract %v not currently indexed",
				op)

			continue
		}
		spent[spender] = append(spent[spender], c)
	}

	var changed []*covenant.Instance
	for _, inst := range instances {
		prev, ok := known[inst.OutPoint]
		if ok && prev.Status == inst.Contract.Status &&
			prev.Value == inst.Value {

			continue
		}

		c := &contractdb.Contract{
			OutPoint: inst.OutPoint,
			Role:     RoleOf(inst.Contract, o.key),
			Status:   inst.Contract.Status,
			Value:    inst.Value,
			Label: truncate(
				inst.Contract.WorkDescription, 64,
			),
		}
		switch pred := spent[inst.OutPoint.Hash]; {
		case ok:
			c.Label = prev.Label

		case len(pred) > 0:
			c.Label = pred[0].Label
			log.Debugf("Contract %v moved to %v", pred[0].OutPoint,
				inst.OutPoint)
		}
		if err := o.tracker.Track(c); err != nil {
			return nil, err
		}

		log.Debugf("Observed %v contract %v (%v)", c.Role,
			inst.OutPoint, c.Status)

		changed = append(changed, inst)
	}

	for spender, stale := range spent {
		for _, c := range stale {
			err := o.tracker.Untrack(c.OutPoint)
			if err != nil &&
				!errors.Is(err, contractdb.ErrNotTracked) {

				return nil, err
			}

			log.Debugf("Contract %v spent by %v, no longer "+
				"tracked", c.OutPoint, spender)
		}
	}

	return changed, nil
}

// Run refreshes on every tick until ctx is done, handing each non-empty
// set of changes to notify. The ticker is stopped on return.
func (o *Observer) Run(ctx context.Context, t ticker.Ticker,
	notify func([]*covenant.Instance)) {

	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			changed, err := o.Refresh(ctx)
			if err != nil {
				log.Errorf("Unable to refresh contracts: %v",
					err)

				continue
			}
			if len(changed) > 0 {
				notify(changed)
			}

		case <-ctx.Done():
			return
		}
	}
}
