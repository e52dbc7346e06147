package covenant

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var prevOutPoint = wire.OutPoint{
	Hash:  chainhash.Hash{0x01, 0x02, 0x03},
	Index: 1,
}

// signedSpend builds and signs a transaction invoking p on l.
func signedSpend(t *testing.T, l live, p Params, lockTime uint32,
	signers map[Role]*btcec.PrivateKey,
	extra []*wire.TxOut) (*wire.TxOut, *wire.MsgTx) {

	t.Helper()

	script, err := l.c.LockingScript()
	require.NoError(t, err)
	prevOut := wire.NewTxOut(int64(l.value), script)

	id := p.Transition()
	outcome, err := Apply(l.c, l.value, p, at(lockTime))
	require.NoError(t, err)
	outputs, err := outcome.Outputs()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.LockTime = lockTime
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: prevOutPoint})
	for _, out := range append(outputs, extra...) {
		tx.AddTxOut(out)
	}

	digest, err := Digest(tx, 0, script, l.value, id)
	require.NoError(t, err)

	spend := &Spend{Params: p, Signatures: make(map[Role][]byte)}
	for role, key := range signers {
		sig := ecdsa.Sign(key, digest)
		spend.Signatures[role] = SerializeSignature(sig, id)
	}
	if id.coversAllOutputs() {
		spend.ExtraOutputs = extra
	}

	tx.TxIn[0].SignatureScript, err = spend.Script()
	require.NoError(t, err)

	return prevOut, tx
}

func requireAssertion(t *testing.T, prevOut *wire.TxOut, tx *wire.MsgTx) {
	t.Helper()

	_, _, err := Verify(prevOut, tx, 0)
	require.ErrorIs(t, err, ErrAssertion)
}

// TestVerifySingleScope checks a bid placement, whose signature only
// covers the covenant input and its successor output.
func TestVerifySingleScope(t *testing.T) {
	t.Parallel()

	l := newLive(t, bidOffer())
	p := &PlaceBidParams{Slot: 0, Bid: testBid(furnisher, 2000, 0, 100)}
	signers := map[Role]*btcec.PrivateKey{RoleFurnisher: furnisher.priv}

	prevOut, tx := signedSpend(t, l, p, 100, signers, nil)
	spend, outcome, err := Verify(prevOut, tx, 0)
	require.NoError(t, err)
	require.Equal(t, p, spend.Params)
	require.Equal(t, furnisher.key, outcome.Successor.Bids[0].FurnisherKey)

	// Others may add inputs and outputs after signing.
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 7}})
	tx.AddTxOut(wire.NewTxOut(900, []byte{0x51}))
	_, _, err = Verify(prevOut, tx, 0)
	require.NoError(t, err)

	// A different successor breaks the covenant.
	tx.TxOut[0].Value++
	requireAssertion(t, prevOut, tx)

	// The bid must be signed by the bidder.
	signers = map[Role]*btcec.PrivateKey{RoleFurnisher: furnisher2.priv}
	prevOut, tx = signedSpend(t, l, p, 100, signers, nil)
	requireAssertion(t, prevOut, tx)

	// A missing signature leaves the dummy in place.
	prevOut, tx = signedSpend(t, l, p, 100, nil, nil)
	requireAssertion(t, prevOut, tx)
}

// TestVerifyAllScope checks a bid acceptance, whose signature covers every
// output, with a change output carried in the unlocking script.
func TestVerifyAllScope(t *testing.T) {
	t.Parallel()

	l := newLive(t, bidOffer())
	l = l.step(t, &PlaceBidParams{
		Slot: 0, Bid: testBid(furnisher, 2000, 0, 100),
	}, at(100))

	p := &AcceptBidParams{Slot: 0, Acceptor: RoleSeeker}
	signers := map[Role]*btcec.PrivateKey{RoleSeeker: seeker.priv}
	change := []*wire.TxOut{wire.NewTxOut(4_000, []byte{0x51})}

	prevOut, tx := signedSpend(t, l, p, 101, signers, change)
	_, outcome, err := Verify(prevOut, tx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2000, outcome.SuccessorValue)
	require.EqualValues(t, 2000, tx.TxOut[0].Value)

	// Funding inputs may be added after signing.
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 3}})
	_, _, err = Verify(prevOut, tx, 0)
	require.NoError(t, err)

	// Outputs may not.
	tx.AddTxOut(wire.NewTxOut(1, []byte{0x51}))
	requireAssertion(t, prevOut, tx)

	// Only the seeker may accept under seeker approval.
	platformAccept := &AcceptBidParams{Slot: 0, Acceptor: RolePlatform}
	signers = map[Role]*btcec.PrivateKey{RolePlatform: platform.priv}
	prevOut, tx = signedSpend(t, l, platformAccept, 101, signers, change)
	requireAssertion(t, prevOut, tx)
}

// TestVerifyUnconstrained checks a terminal claim may pay anywhere.
func TestVerifyUnconstrained(t *testing.T) {
	t.Parallel()

	l := newLive(t, bidOffer())
	payout := []*wire.TxOut{wire.NewTxOut(1, []byte{0x51})}
	signers := map[Role]*btcec.PrivateKey{RoleSeeker: seeker.priv}

	prevOut, tx := signedSpend(
		t, l, &CancelBeforeAcceptParams{}, 0, signers, payout,
	)
	_, outcome, err := Verify(prevOut, tx, 0)
	require.NoError(t, err)
	require.True(t, outcome.Unconstrained)

	// The scope still covers every output.
	tx.TxOut[0].Value = 0
	requireAssertion(t, prevOut, tx)
}

// TestVerifyWrongSigHash checks a valid signature under another scope is
// refused.
func TestVerifyWrongSigHash(t *testing.T) {
	t.Parallel()

	l := newLive(t, bidOffer())
	p := &PlaceBidParams{Slot: 0, Bid: testBid(furnisher, 2000, 0, 100)}
	signers := map[Role]*btcec.PrivateKey{RoleFurnisher: furnisher.priv}

	prevOut, tx := signedSpend(t, l, p, 100, signers, nil)
	spend, err := ParseSpend(tx.TxIn[0].SignatureScript)
	require.NoError(t, err)

	sig := spend.Signatures[RoleFurnisher]
	sig[len(sig)-1] = byte(ScopeAll)
	tx.TxIn[0].SignatureScript, err = spend.Script()
	require.NoError(t, err)

	requireAssertion(t, prevOut, tx)
}
