package covenant

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Verify evaluates the covenant locked in prevOut against input idx of tx,
// the way the network does when the transaction is submitted. It returns
// the decoded spend and the outcome it produced. Every failure is an
// *AssertionError, or wraps ErrAssertion when the unlocking script can't
// be decoded at all.
func Verify(prevOut *wire.TxOut, tx *wire.MsgTx, idx int) (*Spend,
	*Outcome, error) {

	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, nil, fmt.Errorf("%w: input %d out of range",
			ErrAssertion, idx)
	}

	c, err := DecodeLockingScript(prevOut.PkScript)
	if err != nil {
		return nil, nil, err
	}
	value := btcutil.Amount(prevOut.Value)

	spend, err := ParseSpend(tx.TxIn[idx].SignatureScript)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAssertion, err)
	}
	id := spend.Params.Transition()

	lc := NewLedgerContext(tx, idx)
	outcome, err := Validate(c, value, spend.Params, lc)
	if err != nil {
		return nil, nil, err
	}

	digest, err := Digest(tx, idx, prevOut.PkScript, value, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAssertion, err)
	}

	for _, role := range spend.Params.Signers(c) {
		if !hasSlot(id, role) {
			return nil, nil, assertionf(id, "%v has no signature "+
				"slot", role)
		}

		err := checkSignature(
			id, role, spend.Signatures[role], digest,
			keyFor(c, spend.Params, role),
		)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := checkOutputs(id, tx, idx, spend, outcome); err != nil {
		return nil, nil, err
	}

	log.Debugf("Verified %v of %v at input %d of %v", id, c.Status, idx,
		tx.TxHash())

	return spend, outcome, nil
}

func hasSlot(id TransitionID, role Role) bool {
	for _, r := range id.SignerSlots() {
		if r == role {
			return true
		}
	}

	return false
}

// checkOutputs asserts the transaction's outputs match the outcome within
// the transition's scope.
func checkOutputs(id TransitionID, tx *wire.MsgTx, idx int, spend *Spend,
	outcome *Outcome) error {

	if outcome.Unconstrained {
		return nil
	}

	expected, err := outcome.Outputs()
	if err != nil {
		return assertionf(id, "successor: %v", err)
	}

	if !id.coversAllOutputs() {
		if len(expected) != 1 {
			return assertionf(id, "scope covers a single output, "+
				"outcome has %d", len(expected))
		}
		if idx >= len(tx.TxOut) {
			return assertionf(id, "no output at index %d", idx)
		}
		if !sameOutput(tx.TxOut[idx], expected[0]) {
			return assertionf(id, "output %d doesn't match the "+
				"successor", idx)
		}

		return nil
	}

	expected = append(expected, spend.ExtraOutputs...)
	if len(tx.TxOut) != len(expected) {
		return assertionf(id, "transaction has %d outputs, want %d",
			len(tx.TxOut), len(expected))
	}
	for i := range expected {
		if !sameOutput(tx.TxOut[i], expected[i]) {
			return assertionf(id, "output %d doesn't match", i)
		}
	}

	return nil
}

func sameOutput(a, b *wire.TxOut) bool {
	return a.Value == b.Value && bytes.Equal(a.PkScript, b.PkScript)
}
