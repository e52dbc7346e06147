package covenant

import (
	"github.com/Quaakee/paragon-escrow-sub000/escrowwire"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn"
)

// CancelAfterNoStartParams lets the seeker exit when the accepted furnisher
// never started work.
type CancelAfterNoStartParams struct{}

// Transition returns CancelAfterNoStart.
func (p *CancelAfterNoStartParams) Transition() TransitionID {
	return CancelAfterNoStart
}

// Signers returns the seeker.
func (p *CancelAfterNoStartParams) Signers(*Contract) []Role {
	return []Role{RoleSeeker}
}

func (p *CancelAfterNoStartParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

func (p *CancelAfterNoStartParams) check(c *Contract, _ btcutil.Amount,
	lc LedgerContext) error {

	if c.Status != StatusBidAccepted {
		return assertionf(CancelAfterNoStart, "status is %v", c.Status)
	}
	if !after(lc.LockTime, c.BidAcceptedAt, c.MaxWorkStartDelay) {
		return assertionf(CancelAfterNoStart, "start window open "+
			"until %d", uint64(c.BidAcceptedAt)+
			uint64(c.MaxWorkStartDelay))
	}

	return nil
}

func (p *CancelAfterNoStartParams) apply(*Contract, btcutil.Amount,
	LedgerContext) (*Outcome, error) {

	return &Outcome{Unconstrained: true}, nil
}

func (p *CancelAfterNoStartParams) encode(*pushWriter) {}

func decodeCancelAfterNoStart(*pushReader) (Params, error) {
	return &CancelAfterNoStartParams{}, nil
}

// StartWorkParams moves the contract to work started and locks the
// furnisher's bond.
type StartWorkParams struct{}

// Transition returns StartWork.
func (p *StartWorkParams) Transition() TransitionID {
	return StartWork
}

// Signers returns the furnisher, and the platform when the contract needs
// its authorization.
func (p *StartWorkParams) Signers(c *Contract) []Role {
	if c.PlatformAuthorizationRequired {
		return []Role{RoleFurnisher, RolePlatform}
	}

	return []Role{RoleFurnisher}
}

func (p *StartWorkParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

func (p *StartWorkParams) check(c *Contract, _ btcutil.Amount,
	lc LedgerContext) error {

	if c.Status != StatusBidAccepted {
		return assertionf(StartWork, "status is %v", c.Status)
	}
	if after(lc.LockTime, c.BidAcceptedAt, c.MaxWorkStartDelay) {
		return assertionf(StartWork, "start window closed at %d",
			uint64(c.BidAcceptedAt)+uint64(c.MaxWorkStartDelay))
	}

	return nil
}

func (p *StartWorkParams) apply(c *Contract, value btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	return successor(c, value+c.AcceptedBid.Bond, func(next *Contract) {
		next.Status = StatusWorkStarted
	}), nil
}

func (p *StartWorkParams) encode(*pushWriter) {}

func decodeStartWork(*pushReader) (Params, error) {
	return &StartWorkParams{}, nil
}

// SubmitWorkParams records the furnisher's claim that the work is done.
//
// AdHocBid is only set on the race-to-solve path, where a bounty open to
// any solver goes straight from initial to work submitted. The bid then
// stands in for the accepted bid and its bond is locked in the same step.
type SubmitWorkParams struct {
	CompletionDescription string
	AdHocBid              fn.Option[Bid]
}

// Transition returns SubmitWork.
func (p *SubmitWorkParams) Transition() TransitionID {
	return SubmitWork
}

// Signers returns the furnisher.
func (p *SubmitWorkParams) Signers(*Contract) []Role {
	return []Role{RoleFurnisher}
}

func (p *SubmitWorkParams) furnisherKey(c *Contract) PubKey {
	key := c.AcceptedBid.FurnisherKey
	p.AdHocBid.WhenSome(func(b Bid) {
		key = b.FurnisherKey
	})

	return key
}

func (p *SubmitWorkParams) check(c *Contract, value btcutil.Amount,
	lc LedgerContext) error {

	if len(p.CompletionDescription) > escrowwire.MaxDescriptionLen {
		return assertionf(SubmitWork, "completion description "+
			"exceeds %d bytes", escrowwire.MaxDescriptionLen)
	}

	switch c.Status {
	case StatusWorkStarted:
		if p.AdHocBid.IsSome() {
			return assertionf(SubmitWork, "ad-hoc bid on accepted "+
				"contract")
		}

		return nil

	case StatusInitial:
		return p.checkRace(c, value, lc)

	default:
		return assertionf(SubmitWork, "status is %v", c.Status)
	}
}

// checkRace asserts the race-to-solve preconditions.
func (p *SubmitWorkParams) checkRace(c *Contract, value btcutil.Amount,
	lc LedgerContext) error {

	if c.ContractType != ContractBounty || c.BountySolversNeedApproval {
		return assertionf(SubmitWork, "contract requires an accepted "+
			"bid")
	}
	if p.AdHocBid.IsNone() {
		return assertionf(SubmitWork, "race-to-solve needs an ad-hoc "+
			"bid")
	}
	if lc.LockTime > c.WorkCompletionDeadline {
		return assertionf(SubmitWork, "locktime %d past deadline %d",
			lc.LockTime, c.WorkCompletionDeadline)
	}

	bid := p.AdHocBid.UnwrapOr(Bid{})

	return c.checkBid(SubmitWork, &bid, value, lc)
}

func (p *SubmitWorkParams) apply(c *Contract, value btcutil.Amount,
	lc LedgerContext) (*Outcome, error) {

	race := c.Status == StatusInitial && p.AdHocBid.IsSome()

	var bid Bid
	if race {
		bid = p.AdHocBid.UnwrapOr(Bid{})
		value += bid.Bond
	}

	return successor(c, value, func(next *Contract) {
		if race {
			next.AcceptedBid = bid
			next.BidAcceptedAt = lc.LockTime
		}
		next.Status = StatusWorkSubmitted
		next.WorkCompletionTime = lc.LockTime
		next.WorkCompletionDescription = p.CompletionDescription
	}), nil
}

func (p *SubmitWorkParams) encode(w *pushWriter) {
	w.text(p.CompletionDescription)
	w.bool(p.AdHocBid.IsSome())
	p.AdHocBid.WhenSome(func(b Bid) {
		w.bid(&b)
	})
}

func decodeSubmitWork(r *pushReader) (Params, error) {
	p := &SubmitWorkParams{
		CompletionDescription: r.text("completion description"),
		AdHocBid:              fn.None[Bid](),
	}
	if r.bool("ad-hoc bid") {
		p.AdHocBid = fn.Some(r.bid())
	}

	return p, r.err
}

// ApproveWorkParams lets the seeker accept the submitted work.
type ApproveWorkParams struct{}

// Transition returns ApproveWork.
func (p *ApproveWorkParams) Transition() TransitionID {
	return ApproveWork
}

// Signers returns the seeker.
func (p *ApproveWorkParams) Signers(*Contract) []Role {
	return []Role{RoleSeeker}
}

func (p *ApproveWorkParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

func (p *ApproveWorkParams) check(c *Contract, _ btcutil.Amount,
	_ LedgerContext) error {

	if c.Status != StatusWorkSubmitted {
		return assertionf(ApproveWork, "status is %v", c.Status)
	}

	return nil
}

func (p *ApproveWorkParams) apply(c *Contract, value btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	return successor(c, value, func(next *Contract) {
		next.Status = StatusResolved
	}), nil
}

func (p *ApproveWorkParams) encode(*pushWriter) {}

func decodeApproveWork(*pushReader) (Params, error) {
	return &ApproveWorkParams{}, nil
}

// ClaimPaymentParams lets the furnisher redeem a resolved contract.
type ClaimPaymentParams struct{}

// Transition returns ClaimPayment.
func (p *ClaimPaymentParams) Transition() TransitionID {
	return ClaimPayment
}

// Signers returns the furnisher.
func (p *ClaimPaymentParams) Signers(*Contract) []Role {
	return []Role{RoleFurnisher}
}

func (p *ClaimPaymentParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

func (p *ClaimPaymentParams) check(c *Contract, _ btcutil.Amount,
	_ LedgerContext) error {

	if c.Status != StatusResolved {
		return assertionf(ClaimPayment, "status is %v", c.Status)
	}

	return nil
}

func (p *ClaimPaymentParams) apply(*Contract, btcutil.Amount,
	LedgerContext) (*Outcome, error) {

	return &Outcome{Unconstrained: true}, nil
}

func (p *ClaimPaymentParams) encode(*pushWriter) {}

func decodeClaimPayment(*pushReader) (Params, error) {
	return &ClaimPaymentParams{}, nil
}
