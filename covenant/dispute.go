package covenant

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// RaiseDisputeParams moves a contract under arbitration. By is the party
// raising the dispute.
type RaiseDisputeParams struct {
	By Role
}

// Transition returns RaiseDispute.
func (p *RaiseDisputeParams) Transition() TransitionID {
	return RaiseDispute
}

// Signers returns the disputing party.
func (p *RaiseDisputeParams) Signers(*Contract) []Role {
	return []Role{p.By}
}

func (p *RaiseDisputeParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

func (p *RaiseDisputeParams) check(c *Contract, _ btcutil.Amount,
	lc LedgerContext) error {

	switch p.By {
	case RoleSeeker:
		switch {
		case c.Status == StatusWorkSubmitted:
			return nil

		case c.Status != StatusWorkStarted:
			return assertionf(RaiseDispute, "status is %v",
				c.Status)

		case lc.LockTime <= c.WorkCompletionDeadline:
			return assertionf(RaiseDispute, "work deadline %d "+
				"not reached", c.WorkCompletionDeadline)
		}

	case RoleFurnisher:
		switch {
		case c.Status != StatusWorkSubmitted:
			return assertionf(RaiseDispute, "status is %v",
				c.Status)

		case !after(lc.LockTime, c.WorkCompletionTime,
			c.MaxWorkApprovalDelay):

			return assertionf(RaiseDispute, "approval window open "+
				"until %d", uint64(c.WorkCompletionTime)+
				uint64(c.MaxWorkApprovalDelay))
		}

	default:
		return assertionf(RaiseDispute, "%v can't raise a dispute",
			p.By)
	}

	return nil
}

func (p *RaiseDisputeParams) apply(c *Contract, value btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	status := StatusDisputedBySeeker
	if p.By == RoleFurnisher {
		status = StatusDisputedByFurnisher
	}

	return successor(c, value, func(next *Contract) {
		next.Status = status
	}), nil
}

func (p *RaiseDisputeParams) encode(w *pushWriter) {
	w.uint8(uint8(p.By))
}

func decodeRaiseDispute(r *pushReader) (Params, error) {
	p := &RaiseDisputeParams{By: Role(r.uint8("raised by"))}

	return p, r.err
}

// ResolveDisputeParams split a disputed contract's value between the
// seeker and the furnisher. Either the platform arbitrates alone, keeping
// at most its fee, or seeker and furnisher settle jointly without one.
type ResolveDisputeParams struct {
	AmountForSeeker    btcutil.Amount
	AmountForFurnisher btcutil.Amount

	// Joint selects the self-resolution path signed by both parties.
	Joint bool
}

// Transition returns ResolveDispute.
func (p *ResolveDisputeParams) Transition() TransitionID {
	return ResolveDispute
}

// Signers returns the platform, or seeker and furnisher for a joint
// resolution.
func (p *ResolveDisputeParams) Signers(*Contract) []Role {
	if p.Joint {
		return []Role{RoleSeeker, RoleFurnisher}
	}

	return []Role{RolePlatform}
}

func (p *ResolveDisputeParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

// PlatformFee returns the fee the platform may keep when arbitrating value,
// rounded down.
func PlatformFee(value btcutil.Amount, basisPoints uint16) btcutil.Amount {
	return value * btcutil.Amount(basisPoints) / MaxBasisPoints
}

// MinimumPayout returns the least the two payouts must sum to on the
// platform path.
func MinimumPayout(value btcutil.Amount,
	basisPoints uint16) btcutil.Amount {

	return value - PlatformFee(value, basisPoints)
}

func (p *ResolveDisputeParams) check(c *Contract, value btcutil.Amount,
	_ LedgerContext) error {

	if !c.Status.Disputed() {
		return assertionf(ResolveDispute, "status is %v", c.Status)
	}

	seeker, furnisher := p.AmountForSeeker, p.AmountForFurnisher
	switch {
	case seeker < 0 || furnisher < 0:
		return assertionf(ResolveDispute, "negative payout")

	case seeker == 0 && furnisher == 0:
		return assertionf(ResolveDispute, "both payouts are zero")
	}

	total := seeker + furnisher
	if p.Joint {
		if total < value {
			return assertionf(ResolveDispute, "joint payouts %v "+
				"below contract value %v", total, value)
		}

		return nil
	}

	if c.EscrowMustBeFullyDecisive && seeker != 0 && furnisher != 0 {
		return assertionf(ResolveDispute, "resolution must be fully "+
			"decisive")
	}

	minimum := MinimumPayout(value, c.EscrowServiceFeeBasisPoints)
	if total < minimum {
		return assertionf(ResolveDispute, "payouts %v below %v after "+
			"platform fee", total, minimum)
	}

	return nil
}

// reopened returns a fresh initial copy of c, used when a bounty survives
// a resolution against the furnisher.
func reopened(c *Contract) *Contract {
	next := c.Clone()
	next.resetBids()
	next.Status = StatusInitial
	next.BidAcceptedBy = NotYetAccepted
	next.BidAcceptedAt = 0
	next.WorkCompletionTime = 0
	next.WorkCompletionDescription = ""

	return next
}

func (p *ResolveDisputeParams) apply(c *Contract, _ btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	payTo := func(key PubKey, amt btcutil.Amount) (*wire.TxOut, error) {
		script, err := PayToKeyScript(key)
		if err != nil {
			return nil, err
		}

		return wire.NewTxOut(int64(amt), script), nil
	}

	seeker, furnisher := p.AmountForSeeker, p.AmountForFurnisher
	out := &Outcome{}

	if seeker != 0 && furnisher == 0 &&
		c.ContractSurvivesAdverseResolution {

		out.Successor = reopened(c)
		out.SuccessorValue = seeker

		return out, nil
	}

	if seeker != 0 {
		txOut, err := payTo(c.SeekerKey, seeker)
		if err != nil {
			return nil, err
		}
		out.Payouts = append(out.Payouts, txOut)
	}
	if furnisher != 0 {
		txOut, err := payTo(c.AcceptedBid.FurnisherKey, furnisher)
		if err != nil {
			return nil, err
		}
		out.Payouts = append(out.Payouts, txOut)
	}

	return out, nil
}

func (p *ResolveDisputeParams) encode(w *pushWriter) {
	w.amount(p.AmountForSeeker)
	w.amount(p.AmountForFurnisher)
	w.bool(p.Joint)
}

func decodeResolveDispute(r *pushReader) (Params, error) {
	p := &ResolveDisputeParams{
		AmountForSeeker:    r.amount("amount for seeker"),
		AmountForFurnisher: r.amount("amount for furnisher"),
		Joint:              r.bool("joint"),
	}

	return p, r.err
}
