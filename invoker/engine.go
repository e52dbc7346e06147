package invoker

import (
	"context"
	"errors"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn"
	"golang.org/x/sync/errgroup"
)

// changeAllowance is the unlocking script space reserved for the change
// output the wallet may append to a transition that commits to every
// output.
const changeAllowance = 64

// timedSequence keeps the locktime enforced without opting into
// replacement.
const timedSequence = wire.MaxTxInSequenceNum - 1

// Config holds the engine's collaborators.
type Config struct {
	// Wallet drafts, signs and broadcasts transactions.
	Wallet escrowwallet.WalletController

	// Clock is the time source of wall clock contracts.
	Clock clock.Clock

	// Metrics is optional.
	Metrics *Metrics
}

// Engine turns transition calls into broadcast transactions.
type Engine struct {
	cfg *Config
}

// New creates an engine.
func New(cfg *Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Engine{cfg: cfg}
}

// Call is one invocation of a transition.
type Call struct {
	// Params are the transition's arguments.
	Params covenant.Params

	// Signatures supplies the signature slots by role. Missing roles
	// are treated as NoSignature.
	Signatures map[covenant.Role]Slot

	// ExtraOutputs follow the outputs the covenant requires. For exits
	// they are the only outputs.
	ExtraOutputs []*wire.TxOut

	// LockTime overrides the current time of the contract's time source
	// as the transaction locktime.
	LockTime fn.Option[uint32]
}

// Result is a broadcast transition.
type Result struct {
	// Tx is the broadcast transaction.
	Tx *wire.MsgTx

	// Outcome is what the transition produced.
	Outcome *covenant.Outcome

	// Successor is the contract's new instance, None after a payout or
	// an exit.
	Successor fn.Option[*covenant.Instance]
}

// Invoke runs a transition on inst and broadcasts the result. Nothing
// reaches the network before every signature is collected, so a failure
// before the broadcast leaves no trace. Invoke never retries: after an
// escrowwallet.ErrStaleReference the caller must fetch the contract's
// current instance.
func (e *Engine) Invoke(ctx context.Context, inst *covenant.Instance,
	call *Call) (*Result, error) {

	id := call.Params.Transition()

	res, err := e.invoke(ctx, inst, call)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.observe(id, err)
	}
	if err != nil {
		log.Debugf("Invocation of %v on %v failed: %v", id,
			inst.OutPoint, err)

		return nil, err
	}

	log.Infof("Invoked %v on %v in tx %v", id, inst.OutPoint,
		res.Tx.TxHash())

	return res, nil
}

func (e *Engine) invoke(ctx context.Context, inst *covenant.Instance,
	call *Call) (*Result, error) {

	c := inst.Contract
	id := call.Params.Transition()

	lc, err := e.ledgerContext(ctx, c, id, call)
	if err != nil {
		return nil, err
	}

	// Draft the unlocking script with dummy signatures to size it.
	draft := &covenant.Spend{
		Params:       call.Params,
		ExtraOutputs: call.ExtraOutputs,
	}
	draftScript, err := draft.Script()
	if err != nil {
		return nil, err
	}
	budget := len(draftScript)
	if !id.Unconstrained() {
		budget += changeAllowance
	}

	outcome, err := covenant.Apply(c, inst.Value, call.Params, lc)
	if err != nil {
		return nil, err
	}
	required, err := outcome.Outputs()
	if err != nil {
		return nil, err
	}

	prevOut, err := inst.TxOut()
	if err != nil {
		return nil, err
	}

	req := &escrowwallet.DraftRequest{
		Inputs: []escrowwallet.Input{{
			OutPoint:              inst.OutPoint,
			PrevOutput:            prevOut,
			UnlockingScriptLength: budget,
			Sequence:              lc.Sequence,
		}},
		LockTime:    lc.LockTime,
		Description: id.String(),
	}
	for _, out := range required {
		req.Outputs = append(req.Outputs, escrowwallet.Output{
			TxOut: out,
		})
	}
	for _, out := range call.ExtraOutputs {
		req.Outputs = append(req.Outputs, escrowwallet.Output{
			TxOut: out,
		})
	}

	packet, err := e.cfg.Wallet.DraftTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	tx := packet.UnsignedTx

	digest, err := covenant.Digest(
		tx, 0, prevOut.PkScript, inst.Value, id,
	)
	if err != nil {
		return nil, err
	}

	sigs, err := e.collect(ctx, id, digest, call.Signatures)
	if err != nil {
		return nil, err
	}

	spend := &covenant.Spend{
		Params:     call.Params,
		Signatures: sigs,
	}
	if !id.Unconstrained() && len(tx.TxOut) > len(required) {
		spend.ExtraOutputs = tx.TxOut[len(required):]
	}
	script, err := spend.Script()
	if err != nil {
		return nil, err
	}
	if len(script) > budget {
		return nil, fmt.Errorf("unlocking script of %d bytes exceeds "+
			"the drafted %d", len(script), budget)
	}

	final, err := e.cfg.Wallet.FinalizeAndSign(
		ctx, packet, map[int][]byte{0: script},
	)
	if err != nil {
		return nil, err
	}
	if err := e.cfg.Wallet.Broadcast(ctx, final); err != nil {
		return nil, err
	}

	res := &Result{
		Tx:        final,
		Outcome:   outcome,
		Successor: fn.None[*covenant.Instance](),
	}
	if outcome.Successor != nil {
		res.Successor = fn.Some(&covenant.Instance{
			Contract: outcome.Successor,
			OutPoint: wire.OutPoint{Hash: final.TxHash(), Index: 0},
			Value:    outcome.SuccessorValue,
		})
	}

	return res, nil
}

// ledgerContext picks the locktime and sequence of the spending
// transaction. Timed transitions read the contract's own time source.
func (e *Engine) ledgerContext(ctx context.Context, c *covenant.Contract,
	id covenant.TransitionID, call *Call) (covenant.LedgerContext, error) {

	if !id.Timed() {
		return covenant.LedgerContext{
			LockTime: call.LockTime.UnwrapOr(0),
			Sequence: wire.MaxTxInSequenceNum,
		}, nil
	}

	lockTime := call.LockTime.UnwrapOr(0)
	if call.LockTime.IsNone() {
		src, err := e.timeSource(c.DelayUnit)
		if err != nil {
			return covenant.LedgerContext{}, err
		}

		lockTime, err = src.Now(ctx)
		if err != nil {
			return covenant.LedgerContext{}, fmt.Errorf("unable to "+
				"read %v time: %w", c.DelayUnit, err)
		}
	}

	return covenant.LedgerContext{
		LockTime: lockTime,
		Sequence: timedSequence,
	}, nil
}

// collect resolves every signature slot of the transition. Requests run
// concurrently and all must succeed.
func (e *Engine) collect(ctx context.Context, id covenant.TransitionID,
	digest []byte,
	slots map[covenant.Role]Slot) (map[covenant.Role][]byte, error) {

	roles := id.SignerSlots()
	results := make([][]byte, len(roles))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range roles {
		i, role := i, role

		slot, ok := slots[role]
		if !ok {
			slot = NoSignature{}
		}

		switch s := slot.(type) {
		case Literal:
			results[i] = s.Sig

		case NoSignature:
			results[i] = covenant.DummySignature

		case Request:
			g.Go(func() error {
				sig, err := s.Sign(gctx, &SignRequest{
					Digest:     digest,
					Scope:      id.Scope(),
					Role:       role,
					Transition: id,
				})
				if err != nil {
					return fmt.Errorf("%v signature: %w",
						role, err)
				}

				results[i] = covenant.SerializeSignature(
					sig, id,
				)

				return nil
			})

		default:
			g.Go(func() error {
				return fmt.Errorf("%v: unknown slot %T", role,
					slot)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sigs := make(map[covenant.Role][]byte, len(roles))
	for i, role := range roles {
		sigs[role] = results[i]
	}

	return sigs, nil
}

// IsStale reports whether err means the instance was already spent.
func IsStale(err error) bool {
	return errors.Is(err, escrowwallet.ErrStaleReference)
}
