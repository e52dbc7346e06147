package roles

import (
	"context"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/Quaakee/paragon-escrow-sub000/invoker"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Seeker posts contracts and pays for the work.
type Seeker struct {
	*party
}

// NewSeeker creates a seeker using the wallet's contract key.
func NewSeeker(ctx context.Context, cfg *Config) (*Seeker, error) {
	p, err := newParty(ctx, cfg, covenant.RoleSeeker)
	if err != nil {
		return nil, err
	}

	return &Seeker{party: p}, nil
}

// Post locks a new contract on the terms of o. The offer's seeker key is
// set to the seeker's own.
func (s *Seeker) Post(ctx context.Context,
	o *covenant.Offer) (*covenant.Instance, error) {

	o.SeekerKey = s.key

	c, value, err := covenant.NewContract(o)
	if err != nil {
		return nil, err
	}
	script, err := c.LockingScript()
	if err != nil {
		return nil, err
	}

	w := s.cfg.Wallet
	packet, err := w.DraftTransaction(ctx, &escrowwallet.DraftRequest{
		Outputs: []escrowwallet.Output{{
			TxOut: wire.NewTxOut(int64(value), script),
		}},
		Description: "post escrow contract",
	})
	if err != nil {
		return nil, err
	}
	tx, err := w.FinalizeAndSign(ctx, packet, nil)
	if err != nil {
		return nil, err
	}
	if err := w.Broadcast(ctx, tx); err != nil {
		return nil, err
	}

	inst := &covenant.Instance{
		Contract: c,
		OutPoint: wire.OutPoint{Hash: tx.TxHash(), Index: 0},
		Value:    value,
	}

	log.Infof("Posted %v contract %v worth %v", c.ContractType,
		inst.OutPoint, value)

	if s.cfg.Tracker != nil {
		if err := s.cfg.Tracker.Track(s.tracked(inst)); err != nil {
			log.Errorf("Unable to track %v: %v", inst.OutPoint, err)
		}
	}

	return inst, nil
}

// refund invokes an exit that returns the contract's value to the seeker.
func (s *Seeker) refund(ctx context.Context, inst *covenant.Instance,
	params covenant.Params) (*wire.MsgTx, error) {

	out, err := s.payTo(inst.Value)
	if err != nil {
		return nil, err
	}

	res, err := s.invoke(ctx, inst, &invoker.Call{
		Params:       params,
		Signatures:   s.sign(),
		ExtraOutputs: []*wire.TxOut{out},
	})
	if err != nil {
		return nil, err
	}

	return res.Tx, nil
}

// Cancel withdraws a contract no bid was accepted for.
func (s *Seeker) Cancel(ctx context.Context,
	inst *covenant.Instance) (*wire.MsgTx, error) {

	return s.refund(ctx, inst, &covenant.CancelBeforeAcceptParams{})
}

// CancelAfterNoStart reclaims a contract whose furnisher never started.
func (s *Seeker) CancelAfterNoStart(ctx context.Context,
	inst *covenant.Instance) (*wire.MsgTx, error) {

	return s.refund(ctx, inst, &covenant.CancelAfterNoStartParams{})
}

// transition runs a seeker-signed transition that keeps the contract
// alive.
func (s *Seeker) transition(ctx context.Context, inst *covenant.Instance,
	params covenant.Params) (*covenant.Instance, error) {

	res, err := s.invoke(ctx, inst, &invoker.Call{
		Params:     params,
		Signatures: s.sign(),
	})
	if err != nil {
		return nil, err
	}

	return successor(res)
}

// IncreaseBounty adds amt to a bounty.
func (s *Seeker) IncreaseBounty(ctx context.Context, inst *covenant.Instance,
	amt btcutil.Amount) (*covenant.Instance, error) {

	return s.transition(ctx, inst, &covenant.IncreaseBountyParams{
		Increase: amt,
	})
}

// ExtendDeadline moves the work completion deadline to deadline.
func (s *Seeker) ExtendDeadline(ctx context.Context, inst *covenant.Instance,
	deadline uint32) (*covenant.Instance, error) {

	return s.transition(ctx, inst, &covenant.ExtendWorkDeadlineParams{
		NewDeadline: deadline,
	})
}

// RejectBid clears bid slot slot.
func (s *Seeker) RejectBid(ctx context.Context, inst *covenant.Instance,
	slot uint8) (*covenant.Instance, error) {

	return s.transition(ctx, inst, &covenant.RejectBidParams{Slot: slot})
}

// AcceptBid accepts the bid in slot.
func (s *Seeker) AcceptBid(ctx context.Context, inst *covenant.Instance,
	slot uint8) (*covenant.Instance, error) {

	return s.transition(ctx, inst, &covenant.AcceptBidParams{
		Slot:     slot,
		Acceptor: covenant.RoleSeeker,
	})
}

// BestBid returns the slot of the cheapest bid, or false when every slot
// is empty.
func BestBid(c *covenant.Contract) (uint8, bool) {
	best, found := uint8(0), false
	for i := range c.Bids {
		if c.IsEmptySlot(i) {
			continue
		}
		if !found || c.Bids[i].BidAmount < c.Bids[best].BidAmount {
			best, found = uint8(i), true
		}
	}

	return best, found
}

// ApproveWork approves submitted work, letting the furnisher claim.
func (s *Seeker) ApproveWork(ctx context.Context,
	inst *covenant.Instance) (*covenant.Instance, error) {

	return s.transition(ctx, inst, &covenant.ApproveWorkParams{})
}

// ResolveJointly settles a dispute together with the furnisher, whose
// signature comes from furnisherSig.
func (s *Seeker) ResolveJointly(ctx context.Context,
	inst *covenant.Instance, forSeeker, forFurnisher btcutil.Amount,
	furnisherSig invoker.SignFunc) (*invoker.Result, error) {

	params := &covenant.ResolveDisputeParams{
		AmountForSeeker:    forSeeker,
		AmountForFurnisher: forFurnisher,
		Joint:              true,
	}
	if forSeeker+forFurnisher < inst.Value {
		return nil, fmt.Errorf("joint resolution pays %v of %v",
			forSeeker+forFurnisher, inst.Value)
	}

	sigs := s.sign()
	sigs[covenant.RoleFurnisher] = invoker.Request{Sign: furnisherSig}

	return s.invoke(ctx, inst, &invoker.Call{
		Params:     params,
		Signatures: sigs,
	})
}
