package covenant

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// TransitionID identifies one of the covenant's spending paths.
type TransitionID uint8

const (
	CancelBeforeAccept TransitionID = iota
	IncreaseBounty
	ExtendWorkDeadline
	PlaceBid
	RejectBid
	WithdrawBid
	AcceptBid
	CancelAfterNoStart
	StartWork
	SubmitWork
	ApproveWork
	ClaimPayment
	RaiseDispute
	ResolveDispute

	numTransitions
)

// SigHashForkID is the fork id bit every covenant signature carries.
const SigHashForkID txscript.SigHashType = 0x40

// sigHashMask selects the base type of a sighash.
const sigHashMask = 0x1f

const (
	// ScopeAll signs every input and output.
	ScopeAll = txscript.SigHashAll | SigHashForkID

	// ScopeSingleAnyoneCanPay signs the covenant input and the output
	// at the same index, others may add inputs and outputs.
	ScopeSingleAnyoneCanPay = txscript.SigHashSingle |
		txscript.SigHashAnyOneCanPay | SigHashForkID

	// ScopeAllAnyoneCanPay signs every output, others may add inputs.
	ScopeAllAnyoneCanPay = txscript.SigHashAll |
		txscript.SigHashAnyOneCanPay | SigHashForkID
)

// transition is the static description of one spending path.
type transition struct {
	name string

	// scope is the only sighash type the covenant accepts for the
	// path.
	scope txscript.SigHashType

	// slots lists the signature pushes of the unlocking script in
	// order. Roles that aren't required for a particular call are
	// still present, carrying a dummy signature.
	slots []Role

	// timed marks paths that read the spending transaction's locktime.
	timed bool

	// unconstrained marks exits whose outputs are picked by the signer.
	unconstrained bool

	decode func(r *pushReader) (Params, error)
}

// transitions maps every TransitionID to its description.
var transitions = [numTransitions]transition{
	CancelBeforeAccept: {
		name:          "cancel-before-accept",
		scope:         ScopeAll,
		slots:         []Role{RoleSeeker},
		unconstrained: true,
		decode:        decodeCancelBeforeAccept,
	},
	IncreaseBounty: {
		name:   "increase-bounty",
		scope:  ScopeAllAnyoneCanPay,
		slots:  []Role{RoleSeeker},
		timed:  true,
		decode: decodeIncreaseBounty,
	},
	ExtendWorkDeadline: {
		name:   "extend-work-deadline",
		scope:  ScopeSingleAnyoneCanPay,
		slots:  []Role{RoleSeeker},
		decode: decodeExtendWorkDeadline,
	},
	PlaceBid: {
		name:   "place-bid",
		scope:  ScopeSingleAnyoneCanPay,
		slots:  []Role{RoleFurnisher},
		timed:  true,
		decode: decodePlaceBid,
	},
	RejectBid: {
		name:   "reject-bid",
		scope:  ScopeSingleAnyoneCanPay,
		slots:  []Role{RoleSeeker},
		decode: decodeRejectBid,
	},
	WithdrawBid: {
		name:   "withdraw-bid",
		scope:  ScopeSingleAnyoneCanPay,
		slots:  []Role{RoleFurnisher},
		decode: decodeWithdrawBid,
	},
	AcceptBid: {
		name:   "accept-bid",
		scope:  ScopeAllAnyoneCanPay,
		slots:  []Role{RoleSeeker, RolePlatform},
		timed:  true,
		decode: decodeAcceptBid,
	},
	CancelAfterNoStart: {
		name:          "cancel-after-no-start",
		scope:         ScopeAll,
		slots:         []Role{RoleSeeker},
		timed:         true,
		unconstrained: true,
		decode:        decodeCancelAfterNoStart,
	},
	StartWork: {
		name:   "start-work",
		scope:  ScopeAllAnyoneCanPay,
		slots:  []Role{RoleFurnisher, RolePlatform},
		timed:  true,
		decode: decodeStartWork,
	},
	SubmitWork: {
		name:   "submit-work",
		scope:  ScopeAllAnyoneCanPay,
		slots:  []Role{RoleFurnisher},
		timed:  true,
		decode: decodeSubmitWork,
	},
	ApproveWork: {
		name:   "approve-work",
		scope:  ScopeSingleAnyoneCanPay,
		slots:  []Role{RoleSeeker},
		decode: decodeApproveWork,
	},
	ClaimPayment: {
		name:          "claim-payment",
		scope:         ScopeAll,
		slots:         []Role{RoleFurnisher},
		unconstrained: true,
		decode:        decodeClaimPayment,
	},
	RaiseDispute: {
		name:   "raise-dispute",
		scope:  ScopeSingleAnyoneCanPay,
		slots:  []Role{RoleSeeker, RoleFurnisher},
		timed:  true,
		decode: decodeRaiseDispute,
	},
	ResolveDispute: {
		name:   "resolve-dispute",
		scope:  ScopeAllAnyoneCanPay,
		slots:  []Role{RoleSeeker, RoleFurnisher, RolePlatform},
		decode: decodeResolveDispute,
	},
}

func (id TransitionID) valid() bool {
	return id < numTransitions
}

// String returns the transition name.
func (id TransitionID) String() string {
	if !id.valid() {
		return fmt.Sprintf("transition(%d)", uint8(id))
	}

	return transitions[id].name
}

// Scope returns the sighash type the covenant accepts for the transition.
func (id TransitionID) Scope() txscript.SigHashType {
	return transitions[id].scope
}

// SignerSlots returns the roles whose signatures are pushed, in order.
func (id TransitionID) SignerSlots() []Role {
	return transitions[id].slots
}

// Timed reports whether the transition reads the transaction locktime, and
// so needs an explicit locktime and a non-final sequence.
func (id TransitionID) Timed() bool {
	return transitions[id].timed
}

// Unconstrained reports whether the transition lets the signer choose the
// outputs freely.
func (id TransitionID) Unconstrained() bool {
	return transitions[id].unconstrained
}

// coversAllOutputs reports whether the scope commits to every output, in
// which case the unlocking script carries the outputs that follow the
// covenant's own.
func (id TransitionID) coversAllOutputs() bool {
	return !id.Unconstrained() &&
		id.Scope()&sigHashMask == txscript.SigHashAll
}

// Params are the non-signature arguments of one transition. The set of
// implementations is closed.
type Params interface {
	// Transition returns the transition the params belong to.
	Transition() TransitionID

	// Signers returns the roles whose signatures the call requires.
	Signers(c *Contract) []Role

	// furnisherKey returns the key a furnisher signature is checked
	// against.
	furnisherKey(c *Contract) PubKey

	// check asserts the transition's preconditions.
	check(c *Contract, value btcutil.Amount, lc LedgerContext) error

	// apply computes the outcome without asserting anything. It only
	// fails when the params can't be applied at all.
	apply(c *Contract, value btcutil.Amount,
		lc LedgerContext) (*Outcome, error)

	encode(w *pushWriter)
}

// Outcome is what a transition produces: a successor covenant, a set of
// payouts, or an unconstrained exit.
type Outcome struct {
	// Successor is the next contract state, nil for terminal paths.
	Successor *Contract

	// SuccessorValue is the value the successor must carry.
	SuccessorValue btcutil.Amount

	// Payouts are the exact outputs that must follow the successor.
	Payouts []*wire.TxOut

	// Unconstrained is set for exits whose outputs are free.
	Unconstrained bool
}

// Outputs returns the outputs the spending transaction must begin with.
func (o *Outcome) Outputs() ([]*wire.TxOut, error) {
	var outputs []*wire.TxOut
	if o.Successor != nil {
		script, err := o.Successor.LockingScript()
		if err != nil {
			return nil, err
		}
		outputs = append(
			outputs, wire.NewTxOut(int64(o.SuccessorValue), script),
		)
	}

	return append(outputs, o.Payouts...), nil
}

// successor returns an outcome carrying a modified copy of c.
func successor(c *Contract, value btcutil.Amount,
	modify func(next *Contract)) *Outcome {

	next := c.Clone()
	modify(next)

	return &Outcome{
		Successor:      next,
		SuccessorValue: value,
	}
}

// Validate asserts that p may be applied to the contract under the ledger
// context and returns the resulting outcome. The contract isn't modified.
func Validate(c *Contract, value btcutil.Amount, p Params,
	lc LedgerContext) (*Outcome, error) {

	id := p.Transition()
	if !id.valid() {
		return nil, fmt.Errorf("unknown transition %d", id)
	}

	if value < 0 {
		return nil, assertionf(id, "negative contract value")
	}

	if id.Timed() {
		if err := c.checkLockTime(id, lc); err != nil {
			return nil, err
		}
	}

	if err := p.check(c, value, lc); err != nil {
		return nil, err
	}

	return p.apply(c.Clone(), value, lc)
}

// Apply computes the outcome of p without asserting its preconditions. It
// is used to draft a transaction before signatures exist.
func Apply(c *Contract, value btcutil.Amount, p Params,
	lc LedgerContext) (*Outcome, error) {

	if !p.Transition().valid() {
		return nil, fmt.Errorf("unknown transition %d", p.Transition())
	}

	return p.apply(c.Clone(), value, lc)
}

// keyFor returns the key a role's signature must verify against.
func keyFor(c *Contract, p Params, role Role) PubKey {
	switch role {
	case RoleSeeker:
		return c.SeekerKey
	case RolePlatform:
		return c.PlatformKey
	default:
		return p.furnisherKey(c)
	}
}

// checkBond asserts bond is allowed by the contract's bonding mode.
func (c *Contract) checkBond(id TransitionID, bond btcutil.Amount) error {
	switch {
	case bond < 0:
		return assertionf(id, "negative bond")

	case c.BondingMode == BondForbidden && bond != 0:
		return assertionf(id, "bonds are forbidden")

	case c.BondingMode == BondRequired && bond < c.RequiredBondAmount:
		return assertionf(id, "bond %v below required %v", bond,
			c.RequiredBondAmount)
	}

	return nil
}

// checkSlot asserts slot indexes a bid slot.
func checkSlot(id TransitionID, slot uint8) error {
	if int(slot) >= NumBidSlots {
		return assertionf(id, "bid slot %d out of range", slot)
	}

	return nil
}

// approvalsRequired reports whether bids must be placed and accepted, as
// opposed to bounties open to any solver.
func (c *Contract) approvalsRequired() bool {
	return c.ContractType == ContractBid || c.BountySolversNeedApproval
}
