package invoker

import (
	"context"
	"testing"
	"time"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet/memwallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

const startHeight = 1_000

type party struct {
	wallet *memwallet.Wallet
	key    covenant.PubKey
	engine *Engine
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *clock.TestClock
	ledger *memwallet.Ledger

	seeker    *party
	furnisher *party
	rival     *party
	platform  *party
}

func newHarness(t *testing.T, metrics *Metrics) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: clock.NewTestClock(testTime),
	}
	h.ledger = memwallet.NewLedger(h.clock, startHeight)

	h.seeker = h.newParty(1, metrics)
	h.furnisher = h.newParty(2, metrics)
	h.rival = h.newParty(3, metrics)
	h.platform = h.newParty(4, metrics)

	return h
}

func (h *harness) newParty(seed byte, metrics *Metrics) *party {
	var s [32]byte
	for i := range s {
		s[i] = seed
	}
	w := memwallet.New(h.ledger, s)
	_, err := w.Deposit(100_000)
	require.NoError(h.t, err)

	key, err := escrowwallet.DeriveContractKey(h.ctx, w)
	require.NoError(h.t, err)

	return &party{
		wallet: w,
		key:    key,
		engine: New(&Config{
			Wallet:  w,
			Clock:   h.clock,
			Metrics: metrics,
		}),
	}
}

func (h *harness) bidOffer() *covenant.Offer {
	return &covenant.Offer{
		SeekerKey:                   h.seeker.key,
		PlatformKey:                 h.platform.key,
		ContractType:                covenant.ContractBid,
		MinAllowableBid:             1000,
		EscrowServiceFeeBasisPoints: 250,
		BondingMode:                 covenant.BondOptional,
		BountySolversNeedApproval:   true,
		ApprovalMode:                covenant.ApprovalSeeker,
		DelayUnit:                   covenant.DelayBlockHeight,
		WorkCompletionDeadline:      startHeight + 7*144,
		MaxWorkStartDelay:           144,
		MaxWorkApprovalDelay:        144,
		WorkDescription:             "migrate the ledger schema",
	}
}

// post locks a new contract with the seeker's funds.
func (h *harness) post(o *covenant.Offer) *covenant.Instance {
	h.t.Helper()

	c, value, err := covenant.NewContract(o)
	require.NoError(h.t, err)
	script, err := c.LockingScript()
	require.NoError(h.t, err)

	w := h.seeker.wallet
	packet, err := w.DraftTransaction(h.ctx, &escrowwallet.DraftRequest{
		Outputs: []escrowwallet.Output{{
			TxOut: wire.NewTxOut(int64(value), script),
		}},
	})
	require.NoError(h.t, err)
	tx, err := w.FinalizeAndSign(h.ctx, packet, nil)
	require.NoError(h.t, err)
	require.NoError(h.t, w.Broadcast(h.ctx, tx))

	return &covenant.Instance{
		Contract: c,
		OutPoint: wire.OutPoint{Hash: tx.TxHash(), Index: 0},
		Value:    value,
	}
}

// invoke runs a call that must succeed and returns the successor, nil
// after a terminal transition.
func (h *harness) invoke(p *party, inst *covenant.Instance,
	call *Call) *covenant.Instance {

	h.t.Helper()

	res, err := p.engine.Invoke(h.ctx, inst, call)
	require.NoError(h.t, err)

	// The contract output is consumed either way.
	_, ok := h.ledger.Output(inst.OutPoint)
	require.False(h.t, ok)

	next := res.Successor.UnwrapOr(nil)
	if next != nil {
		out, ok := h.ledger.Output(next.OutPoint)
		require.True(h.t, ok)
		require.Equal(h.t, int64(next.Value), out.Value)

		onChain, err := covenant.NewInstance(next.OutPoint, out)
		require.NoError(h.t, err)
		require.Equal(h.t, next, onChain)
	}

	return next
}

func (h *harness) bid(p *party, amount, bond btcutil.Amount) covenant.Bid {
	return covenant.Bid{
		FurnisherKey: p.key,
		Plans:        "two phases, dual writes then cut over",
		BidAmount:    amount,
		Bond:         bond,
		TimeOfBid:    h.ledger.Height(),
		TimeRequired: 144,
	}
}

func signedBy(role covenant.Role, p *party) map[covenant.Role]Slot {
	return map[covenant.Role]Slot{role: SignWith(p.wallet)}
}

func payTo(t *testing.T, key covenant.PubKey,
	amt btcutil.Amount) *wire.TxOut {

	t.Helper()

	script, err := covenant.PayToKeyScript(key)
	require.NoError(t, err)

	return wire.NewTxOut(int64(amt), script)
}
