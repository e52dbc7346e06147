package invoker

import (
	"context"
	"fmt"
	"math"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/lightningnetwork/lnd/clock"
)

// TimeSource returns the current time in one delay unit.
type TimeSource interface {
	// Now returns the current time.
	Now(ctx context.Context) (uint32, error)
}

// HeightSource reads the chain height from a wallet.
type HeightSource struct {
	Wallet escrowwallet.WalletController
}

// Now returns the best height.
func (h *HeightSource) Now(ctx context.Context) (uint32, error) {
	return h.Wallet.BestHeight(ctx)
}

// ClockSource reads unix seconds from a clock.
type ClockSource struct {
	Clock clock.Clock
}

// Now returns the current unix time.
func (c *ClockSource) Now(context.Context) (uint32, error) {
	now := c.Clock.Now().Unix()
	if now < 0 || now > math.MaxUint32 {
		return 0, fmt.Errorf("time %d out of locktime range", now)
	}

	return uint32(now), nil
}

// timeSource selects the source for a contract's delay unit.
func (e *Engine) timeSource(unit covenant.DelayUnit) (TimeSource, error) {
	switch unit {
	case covenant.DelayBlockHeight:
		return &HeightSource{Wallet: e.cfg.Wallet}, nil

	case covenant.DelayWallClock:
		return &ClockSource{Clock: e.cfg.Clock}, nil

	default:
		return nil, fmt.Errorf("unknown delay unit %v", unit)
	}
}

// Now returns the current time in unit, as the engine would use it for the
// locktime of a timed transition.
func (e *Engine) Now(ctx context.Context, unit covenant.DelayUnit) (uint32,
	error) {

	src, err := e.timeSource(unit)
	if err != nil {
		return 0, err
	}

	return src.Now(ctx)
}
