package roles

import (
	"context"
	"testing"
	"time"

	"github.com/Quaakee/paragon-escrow-sub000/contractdb"
	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/disputerecord"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet/memwallet"
	"github.com/Quaakee/paragon-escrow-sub000/invoker"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

const startHeight = 500

type harness struct {
	t      *testing.T
	ctx    context.Context
	ledger *memwallet.Ledger

	seeker    *Seeker
	furnisher *Furnisher
	platform  *Platform

	seekerWallet    *memwallet.Wallet
	furnisherWallet *memwallet.Wallet
	seekerDB        *contractdb.DB
}

func newConfig(t *testing.T, ledger *memwallet.Ledger, c clock.Clock,
	seed byte) *Config {

	t.Helper()

	var s [32]byte
	for i := range s {
		s[i] = seed
	}
	w := memwallet.New(ledger, s)
	_, err := w.Deposit(100_000)
	require.NoError(t, err)

	return &Config{
		Wallet: w,
		Engine: invoker.New(&invoker.Config{Wallet: w, Clock: c}),
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	testClock := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		ledger: memwallet.NewLedger(testClock, startHeight),
	}

	db, err := contractdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	h.seekerDB = db

	seekerCfg := newConfig(t, h.ledger, testClock, 1)
	seekerCfg.Tracker = db
	h.seekerWallet = seekerCfg.Wallet.(*memwallet.Wallet)
	h.seeker, err = NewSeeker(h.ctx, seekerCfg)
	require.NoError(t, err)

	furnisherCfg := newConfig(t, h.ledger, testClock, 2)
	h.furnisherWallet = furnisherCfg.Wallet.(*memwallet.Wallet)
	h.furnisher, err = NewFurnisher(h.ctx, furnisherCfg)
	require.NoError(t, err)

	platformCfg := newConfig(t, h.ledger, testClock, 3)
	h.platform, err = NewPlatform(
		h.ctx, platformCfg,
		disputerecord.NewStore(platformCfg.Wallet, ""),
	)
	require.NoError(t, err)

	return h
}

func (h *harness) bidOffer() *covenant.Offer {
	return &covenant.Offer{
		PlatformKey:                 h.platform.Key(),
		ContractType:                covenant.ContractBid,
		MinAllowableBid:             2_000,
		EscrowServiceFeeBasisPoints: 250,
		BondingMode:                 covenant.BondOptional,
		BountySolversNeedApproval:   true,
		ApprovalMode:                covenant.ApprovalEither,
		DelayUnit:                   covenant.DelayBlockHeight,
		WorkCompletionDeadline:      startHeight + 1_000,
		MaxWorkStartDelay:           10,
		MaxWorkApprovalDelay:        10,
		WorkDescription:             "design a logo",
	}
}

func (h *harness) bountyOffer() *covenant.Offer {
	return &covenant.Offer{
		PlatformKey:                 h.platform.Key(),
		ContractType:                covenant.ContractBounty,
		Bounty:                      10_000,
		EscrowServiceFeeBasisPoints: 250,
		BondingMode:                 covenant.BondRequired,
		RequiredBondAmount:          300,
		ApprovalMode:                covenant.ApprovalSeeker,
		DelayUnit:                   covenant.DelayBlockHeight,
		WorkCompletionDeadline:      startHeight + 1_000,
		MaxWorkStartDelay:           10,
		MaxWorkApprovalDelay:        10,
		WorkDescription:             "fix the flaky test",
	}
}

// tracked returns the seeker's tracked contracts.
func (h *harness) tracked() []*contractdb.Contract {
	h.t.Helper()

	all, err := h.seekerDB.List()
	require.NoError(h.t, err)

	return all
}
