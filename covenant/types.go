package covenant

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// NumBidSlots is the number of bids a contract can hold at once.
const NumBidSlots = 4

// Status is the lifecycle state of a contract.
type Status uint8

const (
	// StatusInitial is the state of a freshly posted contract. Bids may
	// be placed, rejected and withdrawn.
	StatusInitial Status = iota

	// StatusBidAccepted means a bid was accepted and the furnisher may
	// start work.
	StatusBidAccepted

	// StatusWorkStarted means the furnisher posted its bond and is
	// working.
	StatusWorkStarted

	// StatusWorkSubmitted means the furnisher claims the work is done.
	StatusWorkSubmitted

	// StatusResolved means the seeker approved the work and the
	// furnisher may claim payment.
	StatusResolved

	// StatusDisputedBySeeker means the seeker asked the platform to
	// arbitrate.
	StatusDisputedBySeeker

	// StatusDisputedByFurnisher means the furnisher asked the platform
	// to arbitrate.
	StatusDisputedByFurnisher
)

// String returns a human readable status.
func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusBidAccepted:
		return "bid-accepted"
	case StatusWorkStarted:
		return "work-started"
	case StatusWorkSubmitted:
		return "work-submitted"
	case StatusResolved:
		return "resolved"
	case StatusDisputedBySeeker:
		return "disputed-by-seeker"
	case StatusDisputedByFurnisher:
		return "disputed-by-furnisher"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Disputed reports whether the contract is waiting for arbitration.
func (s Status) Disputed() bool {
	return s == StatusDisputedBySeeker || s == StatusDisputedByFurnisher
}

// BidAcceptedBy records who accepted the current bid.
type BidAcceptedBy uint8

const (
	NotYetAccepted BidAcceptedBy = iota
	AcceptedBySeeker
	AcceptedByPlatform
)

// BondingMode controls the collateral a furnisher must post.
type BondingMode uint8

const (
	// BondForbidden requires every bond to be zero.
	BondForbidden BondingMode = iota

	// BondOptional lets the furnisher pick any bond.
	BondOptional

	// BondRequired requires at least RequiredBondAmount.
	BondRequired
)

// ApprovalMode selects who may accept a bid.
type ApprovalMode uint8

const (
	ApprovalSeeker ApprovalMode = iota
	ApprovalPlatform
	ApprovalEither
)

// ContractType selects how the carried value is set.
type ContractType uint8

const (
	// ContractBid contracts carry a single satoshi until a bid is
	// accepted, then the accepted amount.
	ContractBid ContractType = iota

	// ContractBounty contracts lock the full reward when posted.
	ContractBounty
)

// BountyIncreaseMode controls whether the seeker may add to a bounty.
type BountyIncreaseMode uint8

const (
	BountyIncreaseForbidden BountyIncreaseMode = iota
	BountyIncreaseAllowed
	BountyIncreaseAllowedUntil
)

// DelayUnit selects the unit of every time value in a contract.
type DelayUnit uint8

const (
	// DelayBlockHeight measures time in blocks. Values must be below
	// txscript.LockTimeThreshold.
	DelayBlockHeight DelayUnit = iota

	// DelayWallClock measures time in unix seconds. Values must be at or
	// above txscript.LockTimeThreshold.
	DelayWallClock
)

// Contains reports whether v is an absolute time expressed in the unit.
func (u DelayUnit) Contains(v uint32) bool {
	switch u {
	case DelayBlockHeight:
		return v < txscript.LockTimeThreshold
	case DelayWallClock:
		return v >= txscript.LockTimeThreshold
	default:
		return false
	}
}

// String returns the unit name.
func (u DelayUnit) String() string {
	switch u {
	case DelayBlockHeight:
		return "block-height"
	case DelayWallClock:
		return "wall-clock"
	default:
		return fmt.Sprintf("unit(%d)", uint8(u))
	}
}

// Role identifies a party to the contract.
type Role uint8

const (
	RoleSeeker Role = iota
	RoleFurnisher
	RolePlatform
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleSeeker:
		return "seeker"
	case RoleFurnisher:
		return "furnisher"
	case RolePlatform:
		return "platform"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// PubKey is a compressed secp256k1 public key.
type PubKey [33]byte

// NewPubKey returns the compressed form of key.
func NewPubKey(key *btcec.PublicKey) PubKey {
	var p PubKey
	copy(p[:], key.SerializeCompressed())

	return p
}

// Parse returns the key as a btcec public key.
func (p PubKey) Parse() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(p[:])
}

// String returns the hex encoded key.
func (p PubKey) String() string {
	return hex.EncodeToString(p[:])
}

// Bid is a furnisher's offer to do the work.
type Bid struct {
	FurnisherKey PubKey
	Plans        string
	BidAmount    btcutil.Amount
	Bond         btcutil.Amount
	TimeOfBid    uint32
	TimeRequired uint32
}

// Contract is the full decoded state of one escrow instance.
type Contract struct {
	SeekerKey   PubKey
	PlatformKey PubKey
	AcceptedBid Bid
	Bids        [NumBidSlots]Bid

	MinAllowableBid             btcutil.Amount
	EscrowServiceFeeBasisPoints uint16
	BondingMode                 BondingMode
	RequiredBondAmount          btcutil.Amount

	PlatformAuthorizationRequired     bool
	EscrowMustBeFullyDecisive         bool
	BountySolversNeedApproval         bool
	ApprovalMode                      ApprovalMode
	ContractType                      ContractType
	ContractSurvivesAdverseResolution bool
	BountyIncreaseMode                BountyIncreaseMode
	BountyIncreaseCutoff              uint32

	DelayUnit              DelayUnit
	WorkCompletionDeadline uint32
	MaxWorkStartDelay      uint32
	MaxWorkApprovalDelay   uint32

	Status             Status
	BidAcceptedBy      BidAcceptedBy
	BidAcceptedAt      uint32
	WorkCompletionTime uint32

	WorkDescription           string
	WorkCompletionDescription string
}

// EmptyBid returns the sentinel stored in an unused bid slot.
func (c *Contract) EmptyBid() Bid {
	return Bid{FurnisherKey: c.SeekerKey}
}

// IsEmptySlot reports whether bid slot i holds the sentinel.
func (c *Contract) IsEmptySlot(i int) bool {
	return c.Bids[i] == c.EmptyBid()
}

// EmptySlot returns the index of the first empty bid slot, or -1 if all
// slots are occupied.
func (c *Contract) EmptySlot() int {
	for i := range c.Bids {
		if c.IsEmptySlot(i) {
			return i
		}
	}

	return -1
}

// Clone returns a copy of the contract. Contract holds no reference types,
// so a value copy is a deep copy.
func (c *Contract) Clone() *Contract {
	clone := *c

	return &clone
}

// Instance is a contract at a specific unspent output.
type Instance struct {
	Contract *Contract
	OutPoint wire.OutPoint
	Value    btcutil.Amount
}

// NewInstance decodes the contract locked in txOut.
func NewInstance(op wire.OutPoint, txOut *wire.TxOut) (*Instance, error) {
	c, err := DecodeLockingScript(txOut.PkScript)
	if err != nil {
		return nil, err
	}

	return &Instance{
		Contract: c,
		OutPoint: op,
		Value:    btcutil.Amount(txOut.Value),
	}, nil
}

// TxOut returns the output that carries the instance.
func (i *Instance) TxOut() (*wire.TxOut, error) {
	script, err := i.Contract.LockingScript()
	if err != nil {
		return nil, err
	}

	return wire.NewTxOut(int64(i.Value), script), nil
}
