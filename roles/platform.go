package roles

import (
	"context"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/disputerecord"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/Quaakee/paragon-escrow-sub000/invoker"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
)

// Platform arbitrates disputes and, where a contract allows it, accepts
// bids and authorizes work.
type Platform struct {
	*party

	// records keeps a record of every resolved dispute. Optional.
	records *disputerecord.Store
}

// NewPlatform creates a platform using the wallet's contract key. When
// records is non-nil every resolution is recorded in it.
func NewPlatform(ctx context.Context, cfg *Config,
	records *disputerecord.Store) (*Platform, error) {

	p, err := newParty(ctx, cfg, covenant.RolePlatform)
	if err != nil {
		return nil, err
	}

	return &Platform{party: p, records: records}, nil
}

// AcceptBid accepts the bid in slot on the seeker's behalf.
func (p *Platform) AcceptBid(ctx context.Context, inst *covenant.Instance,
	slot uint8) (*covenant.Instance, error) {

	res, err := p.invoke(ctx, inst, &invoker.Call{
		Params: &covenant.AcceptBidParams{
			Slot:     slot,
			Acceptor: covenant.RolePlatform,
		},
		Signatures: p.sign(),
	})
	if err != nil {
		return nil, err
	}

	return successor(res)
}

// AuthorizeStart returns a SignFunc a furnisher can use to collect the
// platform's authorization to start work. It signs nothing else.
func (p *Platform) AuthorizeStart() invoker.SignFunc {
	sign := invoker.WalletSigner(
		p.cfg.Wallet, escrowwallet.ContractKeyLocator(),
	)

	return func(ctx context.Context,
		req *invoker.SignRequest) (*ecdsa.Signature, error) {

		if req.Transition != covenant.StartWork {
			return nil, fmt.Errorf("refusing to sign %v",
				req.Transition)
		}

		log.Debugf("Authorizing start of work")

		return sign(ctx, req)
	}
}

// Resolution is the platform's ruling on a dispute.
type Resolution struct {
	// Result is the broadcast resolution.
	Result *invoker.Result

	// Record is the dispute record, nil when the platform keeps none or
	// it couldn't be written.
	Record *disputerecord.Record
}

// ResolveDispute splits a disputed contract between seeker and furnisher.
// The platform keeps whatever the two amounts leave of the value, up to
// its fee.
func (p *Platform) ResolveDispute(ctx context.Context,
	inst *covenant.Instance, forSeeker,
	forFurnisher btcutil.Amount) (*Resolution, error) {

	c := inst.Contract
	if c.PlatformKey != p.key {
		return nil, fmt.Errorf("contract %v is arbitrated by %v",
			inst.OutPoint, c.PlatformKey)
	}

	params := &covenant.ResolveDisputeParams{
		AmountForSeeker:    forSeeker,
		AmountForFurnisher: forFurnisher,
	}
	res, err := p.invoke(ctx, inst, &invoker.Call{
		Params:     params,
		Signatures: p.sign(),
	})
	if err != nil {
		return nil, err
	}

	resolution := &Resolution{Result: res}
	if p.records == nil {
		return resolution, nil
	}

	// The resolution is final once broadcast. A record that can't be
	// written doesn't undo it.
	rec := disputerecord.NewRecord(inst, res.Tx, params)
	if _, err := p.records.Write(ctx, rec); err != nil {
		log.Errorf("Unable to record dispute over %v: %v",
			inst.OutPoint, err)

		return resolution, nil
	}
	resolution.Record = rec

	return resolution, nil
}

// ResolveInFavor rules entirely for one side: the winner receives the
// value less the platform's fee.
func (p *Platform) ResolveInFavor(ctx context.Context,
	inst *covenant.Instance, winner covenant.Role) (*Resolution, error) {

	amt := covenant.MinimumPayout(
		inst.Value, inst.Contract.EscrowServiceFeeBasisPoints,
	)

	switch winner {
	case covenant.RoleSeeker:
		return p.ResolveDispute(ctx, inst, amt, 0)

	case covenant.RoleFurnisher:
		return p.ResolveDispute(ctx, inst, 0, amt)

	default:
		return nil, fmt.Errorf("%v can't win a dispute", winner)
	}
}

// Records returns the platform's dispute records.
func (p *Platform) Records(ctx context.Context) ([]*disputerecord.Record,
	error) {

	if p.records == nil {
		return nil, nil
	}

	return p.records.Records(ctx, p.key)
}
