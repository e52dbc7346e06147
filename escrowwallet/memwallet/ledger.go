package memwallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrUnknownInput is returned for a transaction spending an output
	// the ledger never saw.
	ErrUnknownInput = errors.New("input not found")

	// ErrNotFinal is returned for a transaction whose locktime hasn't
	// been reached.
	ErrNotFinal = errors.New("transaction locktime not reached")

	// ErrValueOverflow is returned when outputs spend more than the
	// inputs provide.
	ErrValueOverflow = errors.New("outputs exceed inputs")
)

// Ledger is an in-memory UTXO set shared by every wallet in a test. It
// accepts a transaction only if all its inputs are unspent, its locktime is
// reached and every input script is satisfied, so concurrent spends of
// the same output resolve as first spend wins.
type Ledger struct {
	clock clock.Clock

	mu       sync.Mutex
	height   uint32
	utxos    map[wire.OutPoint]*wire.TxOut
	spentBy  map[wire.OutPoint]chainhash.Hash
	txs      map[chainhash.Hash]*wire.MsgTx
	watchers []func(*wire.MsgTx)
	funded   uint32
}

// NewLedger creates an empty ledger at the given height.
func NewLedger(c clock.Clock, height uint32) *Ledger {
	return &Ledger{
		clock:   c,
		height:  height,
		utxos:   make(map[wire.OutPoint]*wire.TxOut),
		spentBy: make(map[wire.OutPoint]chainhash.Hash),
		txs:     make(map[chainhash.Hash]*wire.MsgTx),
	}
}

// Height returns the current chain height.
func (l *Ledger) Height() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.height
}

// Mine advances the chain by n blocks.
func (l *Ledger) Mine(n uint32) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.height += n

	return l.height
}

// Watch registers fn to be called with every accepted transaction.
func (l *Ledger) Watch(fn func(*wire.MsgTx)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.watchers = append(l.watchers, fn)
}

// Fund creates an output out of thin air and returns its outpoint.
func (l *Ledger) Fund(txOut *wire.TxOut) wire.OutPoint {
	l.mu.Lock()
	l.funded++

	// Each funding transaction spends a unique null input so that its
	// hash is unique.
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: l.funded},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(txOut)

	hash := tx.TxHash()
	op := wire.OutPoint{Hash: hash, Index: 0}
	l.txs[hash] = tx
	l.utxos[op] = txOut
	watchers := l.watchers
	l.mu.Unlock()

	for _, w := range watchers {
		w(tx)
	}

	return op
}

// Output returns an unspent output.
func (l *Ledger) Output(op wire.OutPoint) (*wire.TxOut, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out, ok := l.utxos[op]

	return out, ok
}

// SpentBy returns the transaction that spent op.
func (l *Ledger) SpentBy(op wire.OutPoint) (chainhash.Hash, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash, ok := l.spentBy[op]

	return hash, ok
}

// Tx returns an accepted transaction.
func (l *Ledger) Tx(hash chainhash.Hash) (*wire.MsgTx, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[hash]

	return tx, ok
}

// Unspent returns every unspent output whose script satisfies match.
func (l *Ledger) Unspent(
	match func(*wire.TxOut) bool) map[wire.OutPoint]*wire.TxOut {

	l.mu.Lock()
	defer l.mu.Unlock()

	outs := make(map[wire.OutPoint]*wire.TxOut)
	for op, out := range l.utxos {
		if match(out) {
			outs[op] = out
		}
	}

	return outs
}

// Submit validates tx against the current UTXO set and applies it.
func (l *Ledger) Submit(tx *wire.MsgTx) error {
	l.mu.Lock()

	if err := l.validate(tx); err != nil {
		l.mu.Unlock()
		return err
	}

	hash := tx.TxHash()
	for _, txIn := range tx.TxIn {
		delete(l.utxos, txIn.PreviousOutPoint)
		l.spentBy[txIn.PreviousOutPoint] = hash
	}
	for i, txOut := range tx.TxOut {
		l.utxos[wire.OutPoint{Hash: hash, Index: uint32(i)}] = txOut
	}
	l.txs[hash] = tx
	watchers := l.watchers
	l.mu.Unlock()

	log.Debugf("Accepted tx %v spending %d inputs", hash, len(tx.TxIn))

	for _, w := range watchers {
		w(tx)
	}

	return nil
}

// validate must be called with the mutex held.
func (l *Ledger) validate(tx *wire.MsgTx) error {
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return errors.New("transaction has no inputs or outputs")
	}

	seen := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))

	var in int64
	for _, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint
		if _, ok := seen[op]; ok {
			return fmt.Errorf("duplicate input %v", op)
		}
		seen[op] = struct{}{}

		prev, ok := l.utxos[op]
		if !ok {
			if spender, ok := l.spentBy[op]; ok {
				return fmt.Errorf("%w: %v spent by %v",
					escrowwallet.ErrStaleReference, op,
					spender)
			}

			return fmt.Errorf("%w: %v", ErrUnknownInput, op)
		}
		prevOuts[op] = prev
		in += prev.Value
	}

	var out int64
	for _, txOut := range tx.TxOut {
		out += txOut.Value
	}
	if out > in {
		return fmt.Errorf("%w: %d > %d", ErrValueOverflow, out, in)
	}

	if err := l.checkFinal(tx); err != nil {
		return err
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	for i, txIn := range tx.TxIn {
		prev := prevOuts[txIn.PreviousOutPoint]

		if covenant.IsContractScript(prev.PkScript) {
			if _, _, err := covenant.Verify(prev, tx, i); err != nil {
				return err
			}
			continue
		}

		vm, err := txscript.NewEngine(
			prev.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, nil, prev.Value, fetcher,
		)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	return nil
}

// checkFinal applies the locktime rules. A locktime is only enforced when
// some input has a non-final sequence.
func (l *Ledger) checkFinal(tx *wire.MsgTx) error {
	if tx.LockTime == 0 {
		return nil
	}

	enforced := false
	for _, txIn := range tx.TxIn {
		if txIn.Sequence != wire.MaxTxInSequenceNum {
			enforced = true
		}
	}
	if !enforced {
		return nil
	}

	if tx.LockTime < txscript.LockTimeThreshold {
		if tx.LockTime > l.height {
			return fmt.Errorf("%w: height %d < %d", ErrNotFinal,
				l.height, tx.LockTime)
		}

		return nil
	}

	now := l.clock.Now().Unix()
	if int64(tx.LockTime) > now {
		return fmt.Errorf("%w: time %d < %d", ErrNotFinal, now,
			tx.LockTime)
	}

	return nil
}
