package covenant

import (
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/escrowwire"
	"github.com/btcsuite/btcd/btcutil"
)

// PlaceBidParams stores a furnisher's bid in an empty slot.
type PlaceBidParams struct {
	Slot uint8
	Bid  Bid
}

// Transition returns PlaceBid.
func (p *PlaceBidParams) Transition() TransitionID {
	return PlaceBid
}

// Signers returns the bidding furnisher.
func (p *PlaceBidParams) Signers(*Contract) []Role {
	return []Role{RoleFurnisher}
}

func (p *PlaceBidParams) furnisherKey(*Contract) PubKey {
	return p.Bid.FurnisherKey
}

func (p *PlaceBidParams) check(c *Contract, value btcutil.Amount,
	lc LedgerContext) error {

	if c.Status != StatusInitial {
		return assertionf(PlaceBid, "status is %v", c.Status)
	}
	if !c.approvalsRequired() {
		return assertionf(PlaceBid, "bounty is open to any solver")
	}
	if err := checkSlot(PlaceBid, p.Slot); err != nil {
		return err
	}
	if !c.IsEmptySlot(int(p.Slot)) {
		return assertionf(PlaceBid, "bid slot %d is occupied", p.Slot)
	}

	return c.checkBid(PlaceBid, &p.Bid, value, lc)
}

// checkBid asserts a bid is acceptable for the contract. It is shared by
// bids placed in a slot and the ad-hoc bid of a race-to-solve submission.
func (c *Contract) checkBid(id TransitionID, b *Bid, value btcutil.Amount,
	lc LedgerContext) error {

	if b.FurnisherKey == c.SeekerKey {
		return assertionf(id, "seeker can't bid on own contract")
	}
	if _, err := b.FurnisherKey.Parse(); err != nil {
		return assertionf(id, "invalid furnisher key: %v", err)
	}
	if len(b.Plans) > escrowwire.MaxPlansLen {
		return assertionf(id, "plans exceed %d bytes",
			escrowwire.MaxPlansLen)
	}

	switch c.ContractType {
	case ContractBounty:
		if b.BidAmount != value {
			return assertionf(id, "bid amount %v doesn't match "+
				"bounty %v", b.BidAmount, value)
		}
	default:
		if b.BidAmount < c.MinAllowableBid {
			return assertionf(id, "bid amount %v below minimum %v",
				b.BidAmount, c.MinAllowableBid)
		}
	}

	if err := c.checkBond(id, b.Bond); err != nil {
		return err
	}

	if !c.DelayUnit.Contains(b.TimeOfBid) {
		return assertionf(id, "time of bid %d is not a %v value",
			b.TimeOfBid, c.DelayUnit)
	}
	if b.TimeOfBid > lc.LockTime {
		return assertionf(id, "time of bid %d is later than "+
			"locktime %d", b.TimeOfBid, lc.LockTime)
	}

	return nil
}

func (p *PlaceBidParams) apply(c *Contract, value btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	if int(p.Slot) >= NumBidSlots {
		return nil, fmt.Errorf("bid slot %d out of range", p.Slot)
	}

	return successor(c, value, func(next *Contract) {
		next.Bids[p.Slot] = p.Bid
	}), nil
}

func (p *PlaceBidParams) encode(w *pushWriter) {
	w.uint8(p.Slot)
	w.bid(&p.Bid)
}

func decodePlaceBid(r *pushReader) (Params, error) {
	p := &PlaceBidParams{
		Slot: r.uint8("slot"),
		Bid:  r.bid(),
	}

	return p, r.err
}

// RejectBidParams lets the seeker clear an occupied slot.
type RejectBidParams struct {
	Slot uint8
}

// Transition returns RejectBid.
func (p *RejectBidParams) Transition() TransitionID {
	return RejectBid
}

// Signers returns the seeker.
func (p *RejectBidParams) Signers(*Contract) []Role {
	return []Role{RoleSeeker}
}

func (p *RejectBidParams) furnisherKey(c *Contract) PubKey {
	if int(p.Slot) >= NumBidSlots {
		return c.SeekerKey
	}

	return c.Bids[p.Slot].FurnisherKey
}

func (p *RejectBidParams) check(c *Contract, _ btcutil.Amount,
	_ LedgerContext) error {

	return c.checkClearSlot(RejectBid, p.Slot)
}

// checkClearSlot asserts slot holds a bid that may be removed.
func (c *Contract) checkClearSlot(id TransitionID, slot uint8) error {
	if c.Status != StatusInitial {
		return assertionf(id, "status is %v", c.Status)
	}
	if err := checkSlot(id, slot); err != nil {
		return err
	}
	if c.IsEmptySlot(int(slot)) {
		return assertionf(id, "bid slot %d is empty", slot)
	}

	return nil
}

// clearSlot returns the outcome of resetting slot to the sentinel.
func clearSlot(c *Contract, value btcutil.Amount,
	slot uint8) (*Outcome, error) {

	if int(slot) >= NumBidSlots {
		return nil, fmt.Errorf("bid slot %d out of range", slot)
	}

	return successor(c, value, func(next *Contract) {
		next.Bids[slot] = next.EmptyBid()
	}), nil
}

func (p *RejectBidParams) apply(c *Contract, value btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	return clearSlot(c, value, p.Slot)
}

func (p *RejectBidParams) encode(w *pushWriter) {
	w.uint8(p.Slot)
}

func decodeRejectBid(r *pushReader) (Params, error) {
	p := &RejectBidParams{Slot: r.uint8("slot")}

	return p, r.err
}

// WithdrawBidParams lets a furnisher take back its own bid.
type WithdrawBidParams struct {
	Slot uint8
}

// Transition returns WithdrawBid.
func (p *WithdrawBidParams) Transition() TransitionID {
	return WithdrawBid
}

// Signers returns the furnisher who placed the bid.
func (p *WithdrawBidParams) Signers(*Contract) []Role {
	return []Role{RoleFurnisher}
}

func (p *WithdrawBidParams) furnisherKey(c *Contract) PubKey {
	if int(p.Slot) >= NumBidSlots {
		return c.SeekerKey
	}

	return c.Bids[p.Slot].FurnisherKey
}

func (p *WithdrawBidParams) check(c *Contract, _ btcutil.Amount,
	_ LedgerContext) error {

	return c.checkClearSlot(WithdrawBid, p.Slot)
}

func (p *WithdrawBidParams) apply(c *Contract, value btcutil.Amount,
	_ LedgerContext) (*Outcome, error) {

	return clearSlot(c, value, p.Slot)
}

func (p *WithdrawBidParams) encode(w *pushWriter) {
	w.uint8(p.Slot)
}

func decodeWithdrawBid(r *pushReader) (Params, error) {
	p := &WithdrawBidParams{Slot: r.uint8("slot")}

	return p, r.err
}

// AcceptBidParams accepts the bid in a slot. Acceptor is the role that
// signs, which must be allowed by the contract's approval mode.
type AcceptBidParams struct {
	Slot     uint8
	Acceptor Role
}

// Transition returns AcceptBid.
func (p *AcceptBidParams) Transition() TransitionID {
	return AcceptBid
}

// Signers returns the accepting role.
func (p *AcceptBidParams) Signers(*Contract) []Role {
	return []Role{p.Acceptor}
}

func (p *AcceptBidParams) furnisherKey(c *Contract) PubKey {
	if int(p.Slot) >= NumBidSlots {
		return c.SeekerKey
	}

	return c.Bids[p.Slot].FurnisherKey
}

// mayAccept reports whether role may accept bids under the approval mode.
func (m ApprovalMode) mayAccept(role Role) bool {
	switch m {
	case ApprovalSeeker:
		return role == RoleSeeker
	case ApprovalPlatform:
		return role == RolePlatform
	case ApprovalEither:
		return role == RoleSeeker || role == RolePlatform
	default:
		return false
	}
}

// DefaultAcceptor returns the role that accepts bids when the approval mode
// leaves no choice, and the seeker otherwise.
func (m ApprovalMode) DefaultAcceptor() Role {
	if m == ApprovalPlatform {
		return RolePlatform
	}

	return RoleSeeker
}

func (p *AcceptBidParams) check(c *Contract, _ btcutil.Amount,
	lc LedgerContext) error {

	if c.Status != StatusInitial {
		return assertionf(AcceptBid, "status is %v", c.Status)
	}
	if !c.ApprovalMode.mayAccept(p.Acceptor) {
		return assertionf(AcceptBid, "%v may not accept bids",
			p.Acceptor)
	}
	if err := checkSlot(AcceptBid, p.Slot); err != nil {
		return err
	}
	if c.IsEmptySlot(int(p.Slot)) {
		return assertionf(AcceptBid, "bid slot %d is empty", p.Slot)
	}

	bid := c.Bids[p.Slot]
	finish := uint64(lc.LockTime) + uint64(bid.TimeRequired)
	if finish > uint64(c.WorkCompletionDeadline) {
		return assertionf(AcceptBid, "bid needs until %d, deadline "+
			"is %d", finish, c.WorkCompletionDeadline)
	}

	return nil
}

func (p *AcceptBidParams) apply(c *Contract, value btcutil.Amount,
	lc LedgerContext) (*Outcome, error) {

	if int(p.Slot) >= NumBidSlots {
		return nil, fmt.Errorf("bid slot %d out of range", p.Slot)
	}

	bid := c.Bids[p.Slot]
	if c.ContractType == ContractBid {
		value = bid.BidAmount
	}

	acceptedBy := AcceptedBySeeker
	if p.Acceptor == RolePlatform {
		acceptedBy = AcceptedByPlatform
	}

	return successor(c, value, func(next *Contract) {
		next.AcceptedBid = bid
		next.Bids[p.Slot] = next.EmptyBid()
		next.Status = StatusBidAccepted
		next.BidAcceptedBy = acceptedBy
		next.BidAcceptedAt = lc.LockTime
	}), nil
}

func (p *AcceptBidParams) encode(w *pushWriter) {
	w.uint8(p.Slot)
	w.uint8(uint8(p.Acceptor))
}

func decodeAcceptBid(r *pushReader) (Params, error) {
	p := &AcceptBidParams{
		Slot:     r.uint8("slot"),
		Acceptor: Role(r.uint8("acceptor")),
	}

	return p, r.err
}
