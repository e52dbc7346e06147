package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/Quaakee/paragon-escrow-sub000/invoker"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn"
)

var (
	// ErrNoFreeSlot is returned when every bid slot is occupied.
	ErrNoFreeSlot = errors.New("no free bid slot")

	// ErrNoBid is returned when the furnisher holds no bid on a
	// contract.
	ErrNoBid = errors.New("no bid by this furnisher")
)

// Proposal is what a furnisher offers when bidding.
type Proposal struct {
	Plans        string
	Amount       btcutil.Amount
	Bond         btcutil.Amount
	TimeRequired uint32
}

// Furnisher bids for contracts and does the work.
type Furnisher struct {
	*party
}

// NewFurnisher creates a furnisher using the wallet's contract key.
func NewFurnisher(ctx context.Context, cfg *Config) (*Furnisher, error) {
	p, err := newParty(ctx, cfg, covenant.RoleFurnisher)
	if err != nil {
		return nil, err
	}

	return &Furnisher{party: p}, nil
}

// bid stamps the proposal with the contract's current time.
func (f *Furnisher) bid(ctx context.Context, c *covenant.Contract,
	prop *Proposal) (covenant.Bid, error) {

	now, err := f.cfg.Engine.Now(ctx, c.DelayUnit)
	if err != nil {
		return covenant.Bid{}, err
	}

	return covenant.Bid{
		FurnisherKey: f.key,
		Plans:        prop.Plans,
		BidAmount:    prop.Amount,
		Bond:         prop.Bond,
		TimeOfBid:    now,
		TimeRequired: prop.TimeRequired,
	}, nil
}

// PlaceBid places prop in the first free bid slot.
func (f *Furnisher) PlaceBid(ctx context.Context, inst *covenant.Instance,
	prop *Proposal) (*covenant.Instance, error) {

	slot := inst.Contract.EmptySlot()
	if slot < 0 {
		return nil, ErrNoFreeSlot
	}

	bid, err := f.bid(ctx, inst.Contract, prop)
	if err != nil {
		return nil, err
	}

	res, err := f.invoke(ctx, inst, &invoker.Call{
		Params: &covenant.PlaceBidParams{
			Slot: uint8(slot),
			Bid:  bid,
		},
		Signatures: f.sign(),
		LockTime:   fn.Some(bid.TimeOfBid),
	})
	if err != nil {
		return nil, err
	}

	return successor(res)
}

// slot returns the bid slot holding the furnisher's bid.
func (f *Furnisher) slot(c *covenant.Contract) (uint8, error) {
	for i := range c.Bids {
		if !c.IsEmptySlot(i) && c.Bids[i].FurnisherKey == f.key {
			return uint8(i), nil
		}
	}

	return 0, ErrNoBid
}

// WithdrawBid removes the furnisher's bid.
func (f *Furnisher) WithdrawBid(ctx context.Context,
	inst *covenant.Instance) (*covenant.Instance, error) {

	slot, err := f.slot(inst.Contract)
	if err != nil {
		return nil, err
	}

	res, err := f.invoke(ctx, inst, &invoker.Call{
		Params:     &covenant.WithdrawBidParams{Slot: slot},
		Signatures: f.sign(),
	})
	if err != nil {
		return nil, err
	}

	return successor(res)
}

// StartWork posts the furnisher's bond and starts the work. When the
// contract needs the platform's authorization, authorize supplies it.
func (f *Furnisher) StartWork(ctx context.Context, inst *covenant.Instance,
	authorize fn.Option[invoker.SignFunc]) (*covenant.Instance, error) {

	sigs := f.sign()
	if inst.Contract.PlatformAuthorizationRequired {
		if authorize.IsNone() {
			return nil, errors.New("platform authorization required")
		}
		authorize.WhenSome(func(sign invoker.SignFunc) {
			sigs[covenant.RolePlatform] = invoker.Request{
				Sign: sign,
			}
		})
	}

	res, err := f.invoke(ctx, inst, &invoker.Call{
		Params:     &covenant.StartWorkParams{},
		Signatures: sigs,
	})
	if err != nil {
		return nil, err
	}

	return successor(res)
}

// SubmitWork submits the completed work. On an open bounty no bid has
// been accepted, so the furnisher races to solve it, staking bond.
func (f *Furnisher) SubmitWork(ctx context.Context, inst *covenant.Instance,
	description string, bond btcutil.Amount) (*covenant.Instance, error) {

	c := inst.Contract
	params := &covenant.SubmitWorkParams{
		CompletionDescription: description,
		AdHocBid:              fn.None[covenant.Bid](),
	}
	call := &invoker.Call{
		Params:     params,
		Signatures: f.sign(),
	}

	if c.Status == covenant.StatusInitial {
		bid, err := f.bid(ctx, c, &Proposal{
			Plans:  description,
			Amount: inst.Value,
			Bond:   bond,
		})
		if err != nil {
			return nil, err
		}
		params.AdHocBid = fn.Some(bid)
		call.LockTime = fn.Some(bid.TimeOfBid)

		log.Debugf("Racing to solve bounty %v with bond %v",
			inst.OutPoint, bond)
	}

	res, err := f.invoke(ctx, inst, call)
	if err != nil {
		return nil, err
	}

	return successor(res)
}

// ClaimPayment collects the value of an approved or resolved contract.
func (f *Furnisher) ClaimPayment(ctx context.Context,
	inst *covenant.Instance) (*wire.MsgTx, error) {

	if inst.Contract.AcceptedBid.FurnisherKey != f.key {
		return nil, fmt.Errorf("contract %v was awarded to %v",
			inst.OutPoint, inst.Contract.AcceptedBid.FurnisherKey)
	}

	out, err := f.payTo(inst.Value)
	if err != nil {
		return nil, err
	}

	res, err := f.invoke(ctx, inst, &invoker.Call{
		Params:       &covenant.ClaimPaymentParams{},
		Signatures:   f.sign(),
		ExtraOutputs: []*wire.TxOut{out},
	})
	if err != nil {
		return nil, err
	}

	return res.Tx, nil
}

// AgreeToResolution returns a SignFunc the seeker can use to collect the
// furnisher's signature on a joint resolution. It only signs dispute
// resolutions.
func (f *Furnisher) AgreeToResolution() invoker.SignFunc {
	sign := invoker.WalletSigner(
		f.cfg.Wallet, escrowwallet.ContractKeyLocator(),
	)

	return func(ctx context.Context,
		req *invoker.SignRequest) (*ecdsa.Signature, error) {

		if req.Transition != covenant.ResolveDispute {
			return nil, fmt.Errorf("refusing to sign %v",
				req.Transition)
		}

		return sign(ctx, req)
	}
}
