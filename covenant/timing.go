package covenant

import (
	"github.com/btcsuite/btcd/wire"
)

// LedgerContext is the part of the spending transaction a covenant can
// observe besides its outputs.
type LedgerContext struct {
	// LockTime is the spending transaction's nLockTime.
	LockTime uint32

	// Sequence is the covenant input's nSequence.
	Sequence uint32
}

// NewLedgerContext extracts the ledger context of input idx of tx.
func NewLedgerContext(tx *wire.MsgTx, idx int) LedgerContext {
	return LedgerContext{
		LockTime: tx.LockTime,
		Sequence: tx.TxIn[idx].Sequence,
	}
}

// checkLockTime asserts that the locktime is enforced and expressed in the
// contract's delay unit. It must pass before any deadline comparison, since
// comparing a height with a timestamp would let either side bypass a
// deadline.
func (c *Contract) checkLockTime(id TransitionID, lc LedgerContext) error {
	switch {
	case lc.Sequence == wire.MaxTxInSequenceNum:
		return assertionf(id, "final sequence disables locktime")

	case lc.LockTime == 0:
		return assertionf(id, "locktime not set")

	case !c.DelayUnit.Contains(lc.LockTime):
		return assertionf(id, "locktime %d is not a %v value",
			lc.LockTime, c.DelayUnit)
	}

	return nil
}

// after reports whether t is strictly later than base+delay without
// overflowing.
func after(t, base, delay uint32) bool {
	return uint64(t) > uint64(base)+uint64(delay)
}
