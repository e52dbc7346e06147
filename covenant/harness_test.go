package covenant

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// testParty is a deterministic key pair.
type testParty struct {
	priv *btcec.PrivateKey
	key  PubKey
}

func newTestParty(seed byte) testParty {
	var secret [32]byte
	for i := range secret {
		secret[i] = seed
	}
	priv, pub := btcec.PrivKeyFromBytes(secret[:])

	return testParty{priv: priv, key: NewPubKey(pub)}
}

var (
	seeker     = newTestParty(1)
	platform   = newTestParty(2)
	furnisher  = newTestParty(3)
	furnisher2 = newTestParty(4)
)

const (
	testDeadline     = 2_000
	testStartDelay   = 10
	testApprovalWait = 20
)

// bidOffer returns the terms of a bid contract measured in blocks.
func bidOffer() *Offer {
	return &Offer{
		SeekerKey:                   seeker.key,
		PlatformKey:                 platform.key,
		ContractType:                ContractBid,
		MinAllowableBid:             1000,
		EscrowServiceFeeBasisPoints: 250,
		BondingMode:                 BondOptional,
		BountySolversNeedApproval:   true,
		ApprovalMode:                ApprovalSeeker,
		DelayUnit:                   DelayBlockHeight,
		WorkCompletionDeadline:      testDeadline,
		MaxWorkStartDelay:           testStartDelay,
		MaxWorkApprovalDelay:        testApprovalWait,
		WorkDescription:             "port the billing service",
	}
}

// bountyOffer returns the terms of a bounty open to any solver.
func bountyOffer() *Offer {
	return &Offer{
		SeekerKey:                   seeker.key,
		PlatformKey:                 platform.key,
		ContractType:                ContractBounty,
		Bounty:                      10_000,
		EscrowServiceFeeBasisPoints: 250,
		BondingMode:                 BondRequired,
		RequiredBondAmount:          300,
		BountyIncreaseMode:          BountyIncreaseAllowed,
		ApprovalMode:                ApprovalEither,
		DelayUnit:                   DelayBlockHeight,
		WorkCompletionDeadline:      testDeadline,
		MaxWorkStartDelay:           testStartDelay,
		MaxWorkApprovalDelay:        testApprovalWait,
		WorkDescription:             "find the memory leak",
	}
}

func testBid(p testParty, amount, bond btcutil.Amount, at uint32) Bid {
	return Bid{
		FurnisherKey: p.key,
		Plans:        "profile, patch, add regression test",
		BidAmount:    amount,
		Bond:         bond,
		TimeOfBid:    at,
		TimeRequired: 100,
	}
}

// live is a contract with the value its output carries.
type live struct {
	c     *Contract
	value btcutil.Amount
}

func newLive(t *testing.T, o *Offer) live {
	t.Helper()

	c, value, err := NewContract(o)
	require.NoError(t, err)

	return live{c: c, value: value}
}

func at(lockTime uint32) LedgerContext {
	return LedgerContext{LockTime: lockTime}
}

// step validates p and returns the successor.
func (l live) step(t *testing.T, p Params, lc LedgerContext) live {
	t.Helper()

	out, err := Validate(l.c, l.value, p, lc)
	require.NoError(t, err)
	require.NotNil(t, out.Successor)

	return live{c: out.Successor, value: out.SuccessorValue}
}

// reject asserts that p fails validation with an assertion error.
func (l live) reject(t *testing.T, p Params, lc LedgerContext) {
	t.Helper()

	_, err := Validate(l.c, l.value, p, lc)
	require.ErrorIs(t, err, ErrAssertion)
}

// disputed walks a bid contract to a seeker dispute.
func disputed(t *testing.T, o *Offer) live {
	t.Helper()

	l := newLive(t, o)
	bid := testBid(furnisher, l.value, o.RequiredBondAmount, 100)
	if o.ContractType == ContractBid {
		bid = testBid(furnisher, 5000, o.RequiredBondAmount, 100)
	}

	l = l.step(t, &PlaceBidParams{Slot: 0, Bid: bid}, at(100))
	l = l.step(t, &AcceptBidParams{
		Slot: 0, Acceptor: o.ApprovalMode.DefaultAcceptor(),
	}, at(101))
	l = l.step(t, &StartWorkParams{}, at(102))
	l = l.step(t, &SubmitWorkParams{
		CompletionDescription: "done",
	}, at(200))

	return l.step(t, &RaiseDisputeParams{By: RoleSeeker}, at(201))
}
