package covenant

import (
	"errors"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/escrowwire"
	"github.com/btcsuite/btcd/btcutil"
)

// MaxBasisPoints is 100%.
const MaxBasisPoints = 10_000

// BidContractValue is the value a bid contract carries until a bid is
// accepted.
const BidContractValue btcutil.Amount = 1

// Offer holds the seeker's terms for a new contract.
type Offer struct {
	SeekerKey   PubKey
	PlatformKey PubKey

	ContractType ContractType

	// Bounty is the reward locked by a bounty contract. Ignored for bid
	// contracts.
	Bounty btcutil.Amount

	MinAllowableBid             btcutil.Amount
	EscrowServiceFeeBasisPoints uint16
	BondingMode                 BondingMode
	RequiredBondAmount          btcutil.Amount

	PlatformAuthorizationRequired     bool
	EscrowMustBeFullyDecisive         bool
	BountySolversNeedApproval         bool
	ApprovalMode                      ApprovalMode
	ContractSurvivesAdverseResolution bool
	BountyIncreaseMode                BountyIncreaseMode
	BountyIncreaseCutoff              uint32

	DelayUnit              DelayUnit
	WorkCompletionDeadline uint32
	MaxWorkStartDelay      uint32
	MaxWorkApprovalDelay   uint32

	WorkDescription string
}

// validate checks the offer's terms for internal consistency.
func (o *Offer) validate() error {
	if _, err := o.SeekerKey.Parse(); err != nil {
		return fmt.Errorf("invalid seeker key: %w", err)
	}
	if _, err := o.PlatformKey.Parse(); err != nil {
		return fmt.Errorf("invalid platform key: %w", err)
	}
	if o.SeekerKey == o.PlatformKey {
		return errors.New("seeker and platform keys must differ")
	}

	switch o.ContractType {
	case ContractBid:
		if o.MinAllowableBid < 1 {
			return errors.New("minimum allowable bid must be " +
				"positive")
		}
		if o.ContractSurvivesAdverseResolution {
			return errors.New("only bounty contracts can survive " +
				"adverse resolution")
		}
		if o.BountyIncreaseMode != BountyIncreaseForbidden {
			return errors.New("bid contracts can't increase a " +
				"bounty")
		}

	case ContractBounty:
		if o.Bounty <= 0 {
			return errors.New("bounty must be positive")
		}

	default:
		return fmt.Errorf("unknown contract type %d", o.ContractType)
	}

	if o.EscrowServiceFeeBasisPoints > MaxBasisPoints {
		return fmt.Errorf("escrow fee %d bps exceeds %d",
			o.EscrowServiceFeeBasisPoints, MaxBasisPoints)
	}

	switch o.BondingMode {
	case BondForbidden:
		if o.RequiredBondAmount != 0 {
			return errors.New("required bond set while bonds are " +
				"forbidden")
		}
	case BondOptional:
	case BondRequired:
		if o.RequiredBondAmount <= 0 {
			return errors.New("required bond must be positive")
		}
	default:
		return fmt.Errorf("unknown bonding mode %d", o.BondingMode)
	}
	if o.RequiredBondAmount < 0 {
		return errors.New("negative required bond")
	}

	if o.ApprovalMode > ApprovalEither {
		return fmt.Errorf("unknown approval mode %d", o.ApprovalMode)
	}

	switch o.BountyIncreaseMode {
	case BountyIncreaseForbidden, BountyIncreaseAllowed:
	case BountyIncreaseAllowedUntil:
		if !o.DelayUnit.Contains(o.BountyIncreaseCutoff) {
			return fmt.Errorf("bounty increase cutoff %d is not a "+
				"%v value", o.BountyIncreaseCutoff, o.DelayUnit)
		}
	default:
		return fmt.Errorf("unknown bounty increase mode %d",
			o.BountyIncreaseMode)
	}

	if o.DelayUnit > DelayWallClock {
		return fmt.Errorf("unknown delay unit %d", o.DelayUnit)
	}
	if !o.DelayUnit.Contains(o.WorkCompletionDeadline) {
		return fmt.Errorf("work completion deadline %d is not a %v "+
			"value", o.WorkCompletionDeadline, o.DelayUnit)
	}
	if o.MaxWorkStartDelay == 0 || o.MaxWorkApprovalDelay == 0 {
		return errors.New("work start and approval delays must be " +
			"positive")
	}

	if len(o.WorkDescription) > escrowwire.MaxDescriptionLen {
		return fmt.Errorf("work description exceeds %d bytes",
			escrowwire.MaxDescriptionLen)
	}

	return nil
}

// NewContract builds the initial contract for an offer and returns it with
// the value the first covenant output must carry.
func NewContract(o *Offer) (*Contract, btcutil.Amount, error) {
	if err := o.validate(); err != nil {
		return nil, 0, err
	}

	c := &Contract{
		SeekerKey:   o.SeekerKey,
		PlatformKey: o.PlatformKey,

		MinAllowableBid:             o.MinAllowableBid,
		EscrowServiceFeeBasisPoints: o.EscrowServiceFeeBasisPoints,
		BondingMode:                 o.BondingMode,
		RequiredBondAmount:          o.RequiredBondAmount,

		PlatformAuthorizationRequired: o.PlatformAuthorizationRequired,
		EscrowMustBeFullyDecisive:     o.EscrowMustBeFullyDecisive,
		BountySolversNeedApproval:     o.BountySolversNeedApproval,
		ApprovalMode:                  o.ApprovalMode,
		ContractType:                  o.ContractType,
		ContractSurvivesAdverseResolution: o.
			ContractSurvivesAdverseResolution,
		BountyIncreaseMode:   o.BountyIncreaseMode,
		BountyIncreaseCutoff: o.BountyIncreaseCutoff,

		DelayUnit:              o.DelayUnit,
		WorkCompletionDeadline: o.WorkCompletionDeadline,
		MaxWorkStartDelay:      o.MaxWorkStartDelay,
		MaxWorkApprovalDelay:   o.MaxWorkApprovalDelay,

		Status:          StatusInitial,
		BidAcceptedBy:   NotYetAccepted,
		WorkDescription: o.WorkDescription,
	}
	c.resetBids()

	value := BidContractValue
	if o.ContractType == ContractBounty {
		value = o.Bounty
	}

	return c, value, nil
}

// resetBids empties every bid slot and the accepted bid.
func (c *Contract) resetBids() {
	c.AcceptedBid = c.EmptyBid()
	for i := range c.Bids {
		c.Bids[i] = c.EmptyBid()
	}
}

// CancelBeforeAcceptParams lets the seeker take the funds back before any
// bid is accepted.
type CancelBeforeAcceptParams struct{}

// Transition returns CancelBeforeAccept.
func (p *CancelBeforeAcceptParams) Transition() TransitionID {
	return CancelBeforeAccept
}

// Signers returns the seeker.
func (p *CancelBeforeAcceptParams) Signers(*Contract) []Role {
	return []Role{RoleSeeker}
}

func (p *CancelBeforeAcceptParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

func (p *CancelBeforeAcceptParams) check(c *Contract, _ btcutil.Amount,
	_ LedgerContext) error {

	if c.Status != StatusInitial {
		return assertionf(CancelBeforeAccept, "status is %v", c.Status)
	}

	return nil
}

func (p *CancelBeforeAcceptParams) apply(*Contract, btcutil.Amount,
	LedgerContext) (*Outcome, error) {

	return &Outcome{Unconstrained: true}, nil
}

func (p *CancelBeforeAcceptParams) encode(*pushWriter) {}

func decodeCancelBeforeAccept(*pushReader) (Params, error) {
	return &CancelBeforeAcceptParams{}, nil
}

// IncreaseBountyParams adds to the reward of a bounty contract. The status
// is unchanged.
type IncreaseBountyParams struct {
	Increase btcutil.Amount
}

// Transition returns IncreaseBounty.
func (p *IncreaseBountyParams) Transition() TransitionID {
	return IncreaseBounty
}

// Signers returns the seeker.
func (p *IncreaseBountyParams) Signers(*Contract) []Role {
	return []Role{RoleSeeker}
}

func (p *IncreaseBountyParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

func (p *IncreaseBountyParams) check(c *Contract, _ btcutil.Amount,
	lc LedgerContext) error {

	switch {
	case c.Status != StatusInitial:
		return assertionf(IncreaseBounty, "status is %v", c.Status)

	case c.ContractType != ContractBounty:
		return assertionf(IncreaseBounty, "not a bounty contract")

	case c.BountyIncreaseMode == BountyIncreaseForbidden:
		return assertionf(IncreaseBounty, "bounty increases are "+
			"forbidden")

	case c.BountyIncreaseMode == BountyIncreaseAllowedUntil &&
		lc.LockTime > c.BountyIncreaseCutoff:

		return assertionf(IncreaseBounty, "locktime %d past cutoff %d",
			lc.LockTime, c.BountyIncreaseCutoff)

	case p.Increase <= 0:
		return assertionf(IncreaseBounty, "increase must be positive")
	}

	return nil
}

func (p *IncreaseBountyParams) apply(c *Contract, value btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	return successor(c, value+p.Increase, func(*Contract) {}), nil
}

func (p *IncreaseBountyParams) encode(w *pushWriter) {
	w.amount(p.Increase)
}

func decodeIncreaseBounty(r *pushReader) (Params, error) {
	p := &IncreaseBountyParams{Increase: r.amount("increase")}

	return p, r.err
}

// ExtendWorkDeadlineParams moves the work completion deadline later. The
// status is unchanged.
type ExtendWorkDeadlineParams struct {
	NewDeadline uint32
}

// Transition returns ExtendWorkDeadline.
func (p *ExtendWorkDeadlineParams) Transition() TransitionID {
	return ExtendWorkDeadline
}

// Signers returns the seeker.
func (p *ExtendWorkDeadlineParams) Signers(*Contract) []Role {
	return []Role{RoleSeeker}
}

func (p *ExtendWorkDeadlineParams) furnisherKey(c *Contract) PubKey {
	return c.AcceptedBid.FurnisherKey
}

func (p *ExtendWorkDeadlineParams) check(c *Contract, _ btcutil.Amount,
	_ LedgerContext) error {

	switch c.Status {
	case StatusInitial, StatusBidAccepted, StatusWorkStarted:
	default:
		return assertionf(ExtendWorkDeadline, "status is %v", c.Status)
	}

	if !c.DelayUnit.Contains(p.NewDeadline) {
		return assertionf(ExtendWorkDeadline, "deadline %d is not a "+
			"%v value", p.NewDeadline, c.DelayUnit)
	}
	if p.NewDeadline <= c.WorkCompletionDeadline {
		return assertionf(ExtendWorkDeadline, "deadline %d is not "+
			"later than %d", p.NewDeadline,
			c.WorkCompletionDeadline)
	}

	return nil
}

func (p *ExtendWorkDeadlineParams) apply(c *Contract, value btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	return successor(c, value, func(next *Contract) {
		next.WorkCompletionDeadline = p.NewDeadline
	}), nil
}

func (p *ExtendWorkDeadlineParams) encode(w *pushWriter) {
	w.uint32(p.NewDeadline)
}

func decodeExtendWorkDeadline(r *pushReader) (Params, error) {
	p := &ExtendWorkDeadlineParams{NewDeadline: r.uint32("deadline")}

	return p, r.err
}
