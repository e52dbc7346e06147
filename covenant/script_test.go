package covenant

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn"
	"github.com/stretchr/testify/require"
)

// reachable returns contracts in every status, reached through valid
// transitions.
func reachable(t *testing.T) []*Contract {
	t.Helper()

	var states []*Contract
	record := func(l live) live {
		states = append(states, l.c)
		return l
	}

	l := record(newLive(t, bidOffer()))
	l = record(l.step(t, &PlaceBidParams{
		Slot: 2, Bid: testBid(furnisher, 5000, 500, 100),
	}, at(100)))
	l = record(l.step(t, &PlaceBidParams{
		Slot: 0, Bid: testBid(furnisher2, 6000, 0, 100),
	}, at(100)))
	l = record(l.step(t, &AcceptBidParams{
		Slot: 2, Acceptor: RoleSeeker,
	}, at(101)))
	l = record(l.step(t, &StartWorkParams{}, at(102)))
	l = record(l.step(t, &SubmitWorkParams{
		CompletionDescription: "shipped",
	}, at(300)))
	record(l.step(t, &ApproveWorkParams{}, LedgerContext{}))
	record(l.step(t, &RaiseDisputeParams{
		By: RoleFurnisher,
	}, at(300+testApprovalWait+1)))
	record(disputed(t, bidOffer()))

	race := record(newLive(t, bountyOffer()))
	record(race.step(t, &SubmitWorkParams{
		AdHocBid: fn.Some(testBid(furnisher, 10_000, 300, 150)),
	}, at(150)))

	return states
}

// TestLockingScriptRoundTrip checks every reachable state survives the
// locking script encoding unchanged.
func TestLockingScriptRoundTrip(t *testing.T) {
	t.Parallel()

	seen := make(map[Status]bool)
	for _, c := range reachable(t) {
		seen[c.Status] = true

		script, err := c.LockingScript()
		require.NoError(t, err)
		require.True(t, IsContractScript(script))

		decoded, err := DecodeLockingScript(script)
		require.NoError(t, err, spew.Sdump(c))
		require.Equal(t, c, decoded)

		again, err := decoded.LockingScript()
		require.NoError(t, err)
		require.Equal(t, script, again)
	}

	for s := StatusInitial; s <= StatusDisputedByFurnisher; s++ {
		require.True(t, seen[s], "status %v not reached", s)
	}
}

// TestDecodeForeignScripts checks scripts of other kinds are rejected.
func TestDecodeForeignScripts(t *testing.T) {
	t.Parallel()

	p2pkh, err := PayToKeyScript(seeker.key)
	require.NoError(t, err)

	c, _, err := NewContract(bidOffer())
	require.NoError(t, err)
	script, err := c.LockingScript()
	require.NoError(t, err)

	for _, s := range [][]byte{nil, p2pkh, script[:len(script)-10]} {
		_, err := DecodeLockingScript(s)
		require.Error(t, err)
		require.False(t, IsContractScript(s))
	}
}

// TestSpendRoundTrip checks the unlocking script of every transition
// decodes to the same params and signatures.
func TestSpendRoundTrip(t *testing.T) {
	t.Parallel()

	bid := testBid(furnisher, 5000, 500, 100)
	extra := []*wire.TxOut{
		wire.NewTxOut(1234, []byte{0x51}),
		wire.NewTxOut(0, []byte{0x6a}),
	}

	params := []Params{
		&CancelBeforeAcceptParams{},
		&IncreaseBountyParams{Increase: 700},
		&ExtendWorkDeadlineParams{NewDeadline: 2500},
		&PlaceBidParams{Slot: 3, Bid: bid},
		&RejectBidParams{Slot: 1},
		&WithdrawBidParams{Slot: 0},
		&AcceptBidParams{Slot: 2, Acceptor: RolePlatform},
		&CancelAfterNoStartParams{},
		&StartWorkParams{},
		&SubmitWorkParams{
			CompletionDescription: "ok",
			AdHocBid:              fn.None[Bid](),
		},
		&SubmitWorkParams{AdHocBid: fn.Some(Bid{
			FurnisherKey: furnisher.key,
			BidAmount:    btcutil.Amount(10_000),
		})},
		&ApproveWorkParams{},
		&ClaimPaymentParams{},
		&RaiseDisputeParams{By: RoleFurnisher},
		&ResolveDisputeParams{
			AmountForSeeker:    1,
			AmountForFurnisher: 2,
			Joint:              true,
		},
	}

	for _, p := range params {
		id := p.Transition()

		spend := &Spend{
			Params:     p,
			Signatures: map[Role][]byte{},
		}
		for i, role := range id.SignerSlots() {
			if i == 0 {
				spend.Signatures[role] = []byte{0x30, 0x01, 0x41}
			}
		}
		if id.coversAllOutputs() {
			spend.ExtraOutputs = extra
		}

		script, err := spend.Script()
		require.NoError(t, err, id.String())

		decoded, err := ParseSpend(script)
		require.NoError(t, err, id.String())
		require.Equal(t, p, decoded.Params, id.String())

		for i, role := range id.SignerSlots() {
			want := DummySignature
			if i == 0 {
				want = []byte{0x30, 0x01, 0x41}
			}
			require.Equal(t, want, decoded.Signatures[role])
		}

		if id.coversAllOutputs() {
			require.Equal(t, extra, decoded.ExtraOutputs)
		} else {
			require.Empty(t, decoded.ExtraOutputs)
		}
	}
}

// TestParseSpendRejectsGarbage checks malformed unlocking scripts.
func TestParseSpendRejectsGarbage(t *testing.T) {
	t.Parallel()

	spend := &Spend{Params: &RejectBidParams{Slot: 1}}
	script, err := spend.Script()
	require.NoError(t, err)

	tests := [][]byte{
		nil,
		{0x5f},
		script[:len(script)-1],
		append(append([]byte{}, script...), 0x00),
		{0x51, 0x76},
	}
	for _, s := range tests {
		_, err := ParseSpend(s)
		require.Error(t, err)
	}
}
