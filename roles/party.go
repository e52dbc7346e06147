package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/contractdb"
	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/Quaakee/paragon-escrow-sub000/invoker"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// ErrContractClosed is returned when a transition expected to keep a
// contract alive paid it out instead.
var ErrContractClosed = errors.New("contract closed")

// Config holds the collaborators shared by every role.
type Config struct {
	// Wallet holds the party's keys and funds.
	Wallet escrowwallet.WalletController

	// Engine invokes transitions.
	Engine *invoker.Engine

	// Tracker follows the party's contracts. Optional.
	Tracker *contractdb.DB
}

// party is what the roles have in common: a wallet and the contract key
// it derives.
type party struct {
	cfg  *Config
	role covenant.Role
	key  covenant.PubKey
}

func newParty(ctx context.Context, cfg *Config,
	role covenant.Role) (*party, error) {

	key, err := escrowwallet.DeriveContractKey(ctx, cfg.Wallet)
	if err != nil {
		return nil, err
	}

	return &party{cfg: cfg, role: role, key: key}, nil
}

// Key returns the party's contract key.
func (p *party) Key() covenant.PubKey {
	return p.key
}

// sign returns the slot signing with the party's contract key.
func (p *party) sign() map[covenant.Role]invoker.Slot {
	return map[covenant.Role]invoker.Slot{
		p.role: invoker.SignWith(p.cfg.Wallet),
	}
}

// payTo returns an output paying amt to the party.
func (p *party) payTo(amt btcutil.Amount) (*wire.TxOut, error) {
	script, err := covenant.PayToKeyScript(p.key)
	if err != nil {
		return nil, err
	}

	return wire.NewTxOut(int64(amt), script), nil
}

// invoke runs call on inst and follows the contract to its successor.
func (p *party) invoke(ctx context.Context, inst *covenant.Instance,
	call *invoker.Call) (*invoker.Result, error) {

	res, err := p.cfg.Engine.Invoke(ctx, inst, call)
	if err != nil {
		return nil, err
	}

	if p.cfg.Tracker != nil {
		p.follow(inst.OutPoint, res)
	}

	return res, nil
}

// follow moves the tracked contract at prev to the successor in res. The
// transition is already on the network, so failures are only logged.
func (p *party) follow(prev wire.OutPoint, res *invoker.Result) {
	next := res.Successor.UnwrapOr(nil)
	if next == nil {
		err := p.cfg.Tracker.Untrack(prev)
		if err != nil && !errors.Is(err, contractdb.ErrNotTracked) {
			log.Errorf("Unable to untrack %v: %v", prev, err)
		}

		return
	}

	// Another party may have moved the contract since it was last
	// tracked, in which case the successor is tracked afresh.
	tracked := p.tracked(next)
	err := p.cfg.Tracker.Advance(prev, tracked)
	if errors.Is(err, contractdb.ErrNotTracked) {
		err = nil
		if !tracked.Terminal() {
			err = p.cfg.Tracker.Track(tracked)
		}
	}
	if err != nil {
		log.Errorf("Unable to track %v: %v", next.OutPoint, err)
	}
}

func (p *party) tracked(inst *covenant.Instance) *contractdb.Contract {
	return &contractdb.Contract{
		OutPoint: inst.OutPoint,
		Role:     p.role,
		Status:   inst.Contract.Status,
		Value:    inst.Value,
		Label:    truncate(inst.Contract.WorkDescription, 64),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}

// successor returns the instance a transition that keeps the contract
// alive produced.
func successor(res *invoker.Result) (*covenant.Instance, error) {
	next := res.Successor.UnwrapOr(nil)
	if next == nil {
		return nil, fmt.Errorf("%w: tx %v", ErrContractClosed,
			res.Tx.TxHash())
	}

	return next, nil
}

// RaiseDispute asks the platform to arbitrate the contract.
func (p *party) RaiseDispute(ctx context.Context,
	inst *covenant.Instance) (*covenant.Instance, error) {

	res, err := p.invoke(ctx, inst, &invoker.Call{
		Params:     &covenant.RaiseDisputeParams{By: p.role},
		Signatures: p.sign(),
	})
	if err != nil {
		return nil, err
	}

	return successor(res)
}
