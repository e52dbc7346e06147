package roles

import (
	"context"
	"testing"
	"time"

	"github.com/Quaakee/paragon-escrow-sub000/contractdb"
	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/invoker"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// TestBidLifecycle drives a bid contract through every role and checks the
// seeker's tracker follows it.
func TestBidLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst, err := h.seeker.Post(h.ctx, h.bidOffer())
	require.NoError(t, err)
	require.Equal(t, h.seeker.Key(), inst.Contract.SeekerKey)
	require.Len(t, h.tracked(), 1)

	inst, err = h.furnisher.PlaceBid(h.ctx, inst, &Proposal{
		Plans:        "three concepts, two revisions",
		Amount:       4_000,
		Bond:         200,
		TimeRequired: 50,
	})
	require.NoError(t, err)

	slot, ok := BestBid(inst.Contract)
	require.True(t, ok)
	require.EqualValues(t, 0, slot)

	inst, err = h.seeker.AcceptBid(h.ctx, inst, slot)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(4_000), inst.Value)

	tracked, err := h.seekerDB.Get(inst.OutPoint)
	require.NoError(t, err)
	require.Equal(t, covenant.StatusBidAccepted, tracked.Status)
	require.Equal(t, covenant.RoleSeeker, tracked.Role)
	require.Equal(t, btcutil.Amount(4_000), tracked.Value)

	h.ledger.Mine(2)
	inst, err = h.furnisher.StartWork(
		h.ctx, inst, fn.None[invoker.SignFunc](),
	)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(4_200), inst.Value)

	h.ledger.Mine(20)
	inst, err = h.furnisher.SubmitWork(h.ctx, inst, "logo.svg", 0)
	require.NoError(t, err)
	require.Equal(t, covenant.StatusWorkSubmitted, inst.Contract.Status)

	inst, err = h.seeker.ApproveWork(h.ctx, inst)
	require.NoError(t, err)
	require.Equal(t, covenant.StatusResolved, inst.Contract.Status)

	// The seeker is done with a resolved contract.
	_, err = h.seekerDB.Get(inst.OutPoint)
	require.ErrorIs(t, err, contractdb.ErrNotTracked)

	before := h.furnisherWallet.Balance()
	_, err = h.furnisher.ClaimPayment(h.ctx, inst)
	require.NoError(t, err)
	require.Greater(t, h.furnisherWallet.Balance(), before+4_000)
}

// TestBountyRaceDispute has a furnisher solve a bounty without a bid, the
// seeker dispute it and the platform rule for the furnisher.
func TestBountyRaceDispute(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst, err := h.seeker.Post(h.ctx, h.bountyOffer())
	require.NoError(t, err)

	inst, err = h.furnisher.SubmitWork(h.ctx, inst, "retry removed", 300)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(10_300), inst.Value)
	require.Equal(
		t, h.furnisher.Key(), inst.Contract.AcceptedBid.FurnisherKey,
	)

	inst, err = h.seeker.RaiseDispute(h.ctx, inst)
	require.NoError(t, err)
	require.Equal(t, covenant.StatusDisputedBySeeker, inst.Contract.Status)

	before := h.furnisherWallet.Balance()
	resolution, err := h.platform.ResolveInFavor(
		h.ctx, inst, covenant.RoleFurnisher,
	)
	require.NoError(t, err)
	require.True(t, resolution.Result.Successor.IsNone())

	// 10300 less a 2.5% fee of 257.
	require.Equal(t, before+10_043, h.furnisherWallet.Balance())

	require.NotNil(t, resolution.Record)
	require.EqualValues(t, 10_043, resolution.Record.AmountForFurnisher)
	require.Equal(t, "seeker", resolution.Record.DisputedBy)

	records, err := h.platform.Records(h.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, inst.OutPoint.Hash.String(), records[0].ContractTxID)
}

// TestJointResolution settles a dispute without the platform.
func TestJointResolution(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst, err := h.seeker.Post(h.ctx, h.bountyOffer())
	require.NoError(t, err)
	inst, err = h.furnisher.SubmitWork(h.ctx, inst, "half done", 300)
	require.NoError(t, err)
	inst, err = h.seeker.RaiseDispute(h.ctx, inst)
	require.NoError(t, err)

	_, err = h.seeker.ResolveJointly(
		h.ctx, inst, 1_000, 1_000, h.furnisher.AgreeToResolution(),
	)
	require.Error(t, err)

	seekerBefore := h.seekerWallet.Balance()
	furnisherBefore := h.furnisherWallet.Balance()
	res, err := h.seeker.ResolveJointly(
		h.ctx, inst, 5_000, 5_300, h.furnisher.AgreeToResolution(),
	)
	require.NoError(t, err)
	require.Len(t, res.Outcome.Payouts, 2)
	require.Equal(t, furnisherBefore+5_300, h.furnisherWallet.Balance())
	require.Greater(t, h.seekerWallet.Balance(), seekerBefore)
}

// TestPlatformAuthorization checks work can't start without the platform
// when the contract requires it.
func TestPlatformAuthorization(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.bidOffer()
	o.PlatformAuthorizationRequired = true
	inst, err := h.seeker.Post(h.ctx, o)
	require.NoError(t, err)

	inst, err = h.furnisher.PlaceBid(h.ctx, inst, &Proposal{
		Plans: "vector art", Amount: 3_000, TimeRequired: 50,
	})
	require.NoError(t, err)
	inst, err = h.platform.AcceptBid(h.ctx, inst, 0)
	require.NoError(t, err)
	require.Equal(
		t, covenant.AcceptedByPlatform, inst.Contract.BidAcceptedBy,
	)

	_, err = h.furnisher.StartWork(
		h.ctx, inst, fn.None[invoker.SignFunc](),
	)
	require.Error(t, err)

	authorize := h.platform.AuthorizeStart()
	_, err = authorize(context.Background(), &invoker.SignRequest{
		Digest:     make([]byte, 32),
		Transition: covenant.ApproveWork,
	})
	require.Error(t, err)

	inst, err = h.furnisher.StartWork(h.ctx, inst, fn.Some(authorize))
	require.NoError(t, err)
	require.Equal(t, covenant.StatusWorkStarted, inst.Contract.Status)
}

// TestCancelAndWithdraw covers the seeker's exit and bid bookkeeping.
func TestCancelAndWithdraw(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst, err := h.seeker.Post(h.ctx, h.bidOffer())
	require.NoError(t, err)

	_, err = h.seeker.Cancel(h.ctx, inst)
	require.NoError(t, err)
	require.Empty(t, h.tracked())

	// A cancelled contract is gone for good.
	_, err = h.seeker.Cancel(h.ctx, inst)
	require.True(t, invoker.IsStale(err))

	inst, err = h.seeker.Post(h.ctx, h.bidOffer())
	require.NoError(t, err)

	_, err = h.furnisher.WithdrawBid(h.ctx, inst)
	require.ErrorIs(t, err, ErrNoBid)

	inst, err = h.furnisher.PlaceBid(h.ctx, inst, &Proposal{
		Plans: "one concept", Amount: 2_500, TimeRequired: 10,
	})
	require.NoError(t, err)
	inst, err = h.furnisher.WithdrawBid(h.ctx, inst)
	require.NoError(t, err)
	require.Equal(t, 0, inst.Contract.EmptySlot())

	_, ok := BestBid(inst.Contract)
	require.False(t, ok)
}

func TestPlaceBidNoFreeSlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	c, value, err := covenant.NewContract(func() *covenant.Offer {
		o := h.bidOffer()
		o.SeekerKey = h.seeker.Key()
		return o
	}())
	require.NoError(t, err)
	for i := range c.Bids {
		c.Bids[i].FurnisherKey = h.platform.Key()
	}

	_, err = h.furnisher.PlaceBid(h.ctx, &covenant.Instance{
		Contract: c,
		Value:    value,
	}, &Proposal{Amount: 3_000})
	require.ErrorIs(t, err, ErrNoFreeSlot)
}

// fakeFinder serves a fixed set of indexed contracts.
type fakeFinder struct {
	instances []*covenant.Instance
}

func (f *fakeFinder) FindOwned(_ context.Context,
	key covenant.PubKey) []*covenant.Instance {

	return f.instances
}

func TestObserverRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.bidOffer()
	o.SeekerKey = h.seeker.Key()
	c, value, err := covenant.NewContract(o)
	require.NoError(t, err)

	inst := &covenant.Instance{
		Contract: c,
		OutPoint: wire.OutPoint{Hash: chainhash.Hash{9}},
		Value:    value,
	}
	finder := &fakeFinder{instances: []*covenant.Instance{inst}}

	db, err := contractdb.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	stale := &contractdb.Contract{
		OutPoint: wire.OutPoint{Hash: chainhash.Hash{8}},
		Role:     covenant.RoleFurnisher,
	}
	require.NoError(t, db.Track(stale))

	obs := NewObserver(finder, db, h.furnisher.Key())
	changed, err := obs.Refresh(h.ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)

	got, err := db.Get(inst.OutPoint)
	require.NoError(t, err)
	require.Equal(t, covenant.RoleFurnisher, got.Role)
	require.Equal(t, "design a logo", got.Label)

	// Nothing changed since.
	changed, err = obs.Refresh(h.ctx)
	require.NoError(t, err)
	require.Empty(t, changed)

	// The unindexed contract is still tracked.
	_, err = db.Get(stale.OutPoint)
	require.NoError(t, err)

	require.Equal(t, covenant.RoleSeeker, RoleOf(c, h.seeker.Key()))
	require.Equal(t, covenant.RolePlatform, RoleOf(c, h.platform.Key()))
}

func TestObserverRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.bountyOffer()
	o.SeekerKey = h.seeker.Key()
	c, value, err := covenant.NewContract(o)
	require.NoError(t, err)

	finder := &fakeFinder{instances: []*covenant.Instance{{
		Contract: c,
		OutPoint: wire.OutPoint{Hash: chainhash.Hash{5}},
		Value:    value,
	}}}
	obs := NewObserver(finder, h.seekerDB, h.seeker.Key())

	ctx, cancel := context.WithCancel(h.ctx)
	force := ticker.NewForce(time.Hour)
	updates := make(chan []*covenant.Instance, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		obs.Run(ctx, force, func(changed []*covenant.Instance) {
			updates <- changed
		})
	}()

	force.Force <- time.Now()
	select {
	case changed := <-updates:
		require.Len(t, changed, 1)
		require.Equal(t, value, changed[0].Value)
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
	}

	cancel()
	<-done
}

// TestObserverReplacesMoved has the furnisher move a contract the seeker
// tracks, and checks the seeker's entry follows it once the spend is known.
func TestObserverReplacesMoved(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	posted, err := h.seeker.Post(h.ctx, h.bidOffer())
	require.NoError(t, err)

	relabeled := h.tracked()[0]
	relabeled.Label = "rebrand"
	require.NoError(t, h.seekerDB.Track(relabeled))

	bidding, err := h.furnisher.PlaceBid(h.ctx, posted, &Proposal{
		Amount:       3_000,
		TimeRequired: 50,
	})
	require.NoError(t, err)

	// The successor isn't indexed yet and nothing proves the spend, so
	// the posted contract stays tracked.
	finder := &fakeFinder{}
	obs := NewObserver(finder, h.seekerDB, h.seeker.Key())
	changed, err := obs.Refresh(h.ctx)
	require.NoError(t, err)
	require.Empty(t, changed)
	require.Len(t, h.tracked(), 1)
	require.Equal(t, posted.OutPoint, h.tracked()[0].OutPoint)

	obs.UseSpendSource(h.ledger)
	finder.instances = []*covenant.Instance{bidding}
	changed, err = obs.Refresh(h.ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)

	all := h.tracked()
	require.Len(t, all, 1)
	require.Equal(t, bidding.OutPoint, all[0].OutPoint)
	require.Equal(t, "rebrand", all[0].Label)
	require.Equal(t, covenant.RoleSeeker, all[0].Role)

	_, err = h.seekerDB.Get(posted.OutPoint)
	require.ErrorIs(t, err, contractdb.ErrNotTracked)
}

// fakeSpends maps outpoints to the transactions that spent them.
type fakeSpends map[wire.OutPoint]chainhash.Hash

func (f fakeSpends) SpentBy(op wire.OutPoint) (chainhash.Hash, bool) {
	hash, ok := f[op]

	return hash, ok
}

// TestObserverSpendProof checks which unindexed contracts are dropped.
func TestObserverSpendProof(t *testing.T) {
	t.Parallel()

	db, err := contractdb.Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	exited := wire.OutPoint{Hash: chainhash.Hash{1}}
	lagging := wire.OutPoint{Hash: chainhash.Hash{2}}
	for _, op := range []wire.OutPoint{exited, lagging} {
		require.NoError(t, db.Track(&contractdb.Contract{
			OutPoint: op,
			Role:     covenant.RoleFurnisher,
			Status:   covenant.StatusWorkStarted,
		}))
	}

	obs := NewObserver(&fakeFinder{}, db, covenant.PubKey{7})
	obs.UseSpendSource(fakeSpends{exited: chainhash.Hash{3}})

	changed, err := obs.Refresh(context.Background())
	require.NoError(t, err)
	require.Empty(t, changed)

	_, err = db.Get(exited)
	require.ErrorIs(t, err, contractdb.ErrNotTracked)
	_, err = db.Get(lagging)
	require.NoError(t, err)
}

// TestSeekerAdjustments covers the seeker's changes to an open bounty and
// reclaiming it when the furnisher never starts.
func TestSeekerAdjustments(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	o := h.bountyOffer()
	o.BountyIncreaseMode = covenant.BountyIncreaseAllowed
	inst, err := h.seeker.Post(h.ctx, o)
	require.NoError(t, err)

	inst, err = h.seeker.IncreaseBounty(h.ctx, inst, 500)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(10_500), inst.Value)

	deadline := uint32(startHeight + 2_000)
	inst, err = h.seeker.ExtendDeadline(h.ctx, inst, deadline)
	require.NoError(t, err)
	require.Equal(t, deadline, inst.Contract.WorkCompletionDeadline)

	prop := &Proposal{
		Plans:        "bisect the failures",
		Amount:       inst.Value,
		Bond:         300,
		TimeRequired: 50,
	}
	inst, err = h.furnisher.PlaceBid(h.ctx, inst, prop)
	require.NoError(t, err)
	inst, err = h.seeker.RejectBid(h.ctx, inst, 0)
	require.NoError(t, err)
	require.Equal(t, 0, inst.Contract.EmptySlot())

	inst, err = h.furnisher.PlaceBid(h.ctx, inst, prop)
	require.NoError(t, err)
	inst, err = h.seeker.AcceptBid(h.ctx, inst, 0)
	require.NoError(t, err)

	// The start window is still open.
	_, err = h.seeker.CancelAfterNoStart(h.ctx, inst)
	require.ErrorIs(t, err, covenant.ErrAssertion)

	h.ledger.Mine(11)
	before := h.seekerWallet.Balance()
	_, err = h.seeker.CancelAfterNoStart(h.ctx, inst)
	require.NoError(t, err)
	require.Greater(t, h.seekerWallet.Balance(), before+10_000)
}
