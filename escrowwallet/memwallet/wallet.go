package memwallet

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn"
)

const (
	// DefaultFeeRate is the fee rate in satoshis per byte.
	DefaultFeeRate btcutil.Amount = 1

	// DustLimit is the smallest change output the wallet creates.
	DustLimit btcutil.Amount = 546

	// p2pkhInputSize is the serialized size of a signed P2PKH input.
	p2pkhInputSize = 148

	// p2pkhOutputSize is the serialized size of a P2PKH output.
	p2pkhOutputSize = 34

	// fundingProtocol derives the keys holding the wallet's own coins.
	fundingProtocol = "wallet funding"
)

// trackedOutput is an output the wallet owns or follows.
type trackedOutput struct {
	txOut  *wire.TxOut
	basket string
	tags   []string

	// key is set for outputs the wallet can spend.
	key fn.Option[escrowwallet.KeyLocator]
}

// pendingDraft remembers the baskets of a drafted transaction until it is
// broadcast. Drafts are keyed by their first input, since the hash of the
// transaction changes once it is signed.
type pendingDraft struct {
	baskets map[int]escrowwallet.Output
}

// Wallet is an in-memory WalletController over a shared Ledger.
type Wallet struct {
	ledger  *Ledger
	root    *btcec.PrivateKey
	feeRate btcutil.Amount

	mu      sync.Mutex
	scripts map[string]escrowwallet.KeyLocator
	outputs map[wire.OutPoint]*trackedOutput
	drafts  map[wire.OutPoint]*pendingDraft
	offline bool
}

// A compile-time check to ensure Wallet implements the WalletController
// interface.
var _ escrowwallet.WalletController = (*Wallet)(nil)

// New creates a wallet with the given seed on the ledger.
func New(ledger *Ledger, seed [32]byte) *Wallet {
	root, _ := btcec.PrivKeyFromBytes(seed[:])

	w := &Wallet{
		ledger:  ledger,
		root:    root,
		feeRate: DefaultFeeRate,
		scripts: make(map[string]escrowwallet.KeyLocator),
		outputs: make(map[wire.OutPoint]*trackedOutput),
		drafts:  make(map[wire.OutPoint]*pendingDraft),
	}
	ledger.Watch(w.observe)

	return w
}

// SetFeeRate changes the fee rate used for drafts.
func (w *Wallet) SetFeeRate(rate btcutil.Amount) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.feeRate = rate
}

// SetOffline makes every call that reaches the network fail with
// ErrUnavailable.
func (w *Wallet) SetOffline(offline bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.offline = offline
}

func (w *Wallet) checkOnline() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.offline {
		return escrowwallet.ErrUnavailable
	}

	return nil
}

// child derives the private key for loc and remembers its P2PKH script so
// payments to it are recognized.
func (w *Wallet) child(loc escrowwallet.KeyLocator) (*btcec.PrivateKey,
	error) {

	priv := deriveChild(w.root, loc)
	script, err := covenant.PayToKeyScript(
		covenant.NewPubKey(priv.PubKey()),
	)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.scripts[string(script)] = loc
	w.mu.Unlock()

	return priv, nil
}

// DeriveKey returns the public key for a locator.
func (w *Wallet) DeriveKey(_ context.Context,
	loc escrowwallet.KeyLocator) (*btcec.PublicKey, error) {

	priv, err := w.child(loc)
	if err != nil {
		return nil, err
	}

	return priv.PubKey(), nil
}

// SignDigest signs digest with the key for loc.
func (w *Wallet) SignDigest(_ context.Context, loc escrowwallet.KeyLocator,
	digest []byte) (*ecdsa.Signature, error) {

	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d",
			len(digest))
	}

	priv, err := w.child(loc)
	if err != nil {
		return nil, err
	}

	return ecdsa.Sign(priv, digest), nil
}

// fundingLocator is the key receiving deposits and change.
func fundingLocator() escrowwallet.KeyLocator {
	return escrowwallet.KeyLocator{
		ProtocolID:   fundingProtocol,
		KeyID:        "1",
		Counterparty: fn.None[*btcec.PublicKey](),
	}
}

// FundingScript returns the script the wallet receives coins on.
func (w *Wallet) FundingScript() ([]byte, error) {
	priv, err := w.child(fundingLocator())
	if err != nil {
		return nil, err
	}

	return covenant.PayToKeyScript(covenant.NewPubKey(priv.PubKey()))
}

// Deposit funds the wallet with a new ledger output.
func (w *Wallet) Deposit(amt btcutil.Amount) (wire.OutPoint, error) {
	script, err := w.FundingScript()
	if err != nil {
		return wire.OutPoint{}, err
	}

	return w.ledger.Fund(wire.NewTxOut(int64(amt), script)), nil
}

// Balance returns the value of the spendable outputs.
func (w *Wallet) Balance() btcutil.Amount {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total btcutil.Amount
	for _, out := range w.outputs {
		if out.key.IsSome() {
			total += btcutil.Amount(out.txOut.Value)
		}
	}

	return total
}

// observe tracks the outputs of an accepted transaction that pay the
// wallet, and forgets the outputs it spent.
func (w *Wallet) observe(tx *wire.MsgTx) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, txIn := range tx.TxIn {
		delete(w.outputs, txIn.PreviousOutPoint)
	}

	var draft *pendingDraft
	if len(tx.TxIn) > 0 {
		first := tx.TxIn[0].PreviousOutPoint
		draft = w.drafts[first]
		delete(w.drafts, first)
	}

	hash := tx.TxHash()
	for i, txOut := range tx.TxOut {
		op := wire.OutPoint{Hash: hash, Index: uint32(i)}

		tracked := &trackedOutput{txOut: txOut}
		if loc, ok := w.scripts[string(txOut.PkScript)]; ok {
			tracked.key = fn.Some(loc)
		}
		if draft != nil {
			if out, ok := draft.baskets[i]; ok {
				tracked.basket = out.Basket
				tracked.tags = out.Tags
			}
		}

		if tracked.key.IsNone() && tracked.basket == "" {
			continue
		}
		w.outputs[op] = tracked
	}
}

type coin struct {
	op    wire.OutPoint
	txOut *wire.TxOut
	key   escrowwallet.KeyLocator
}

// spendable returns the wallet's P2PKH coins in a stable order.
func (w *Wallet) spendable(exclude map[wire.OutPoint]struct{}) []coin {
	w.mu.Lock()
	defer w.mu.Unlock()

	var coins []coin
	for op, out := range w.outputs {
		if _, ok := exclude[op]; ok {
			continue
		}
		out.key.WhenSome(func(loc escrowwallet.KeyLocator) {
			coins = append(coins, coin{
				op: op, txOut: out.txOut, key: loc,
			})
		})
	}

	sort.Slice(coins, func(i, j int) bool {
		if coins[i].txOut.Value != coins[j].txOut.Value {
			return coins[i].txOut.Value > coins[j].txOut.Value
		}
		a, b := coins[i].op, coins[j].op
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}

		return a.Index < b.Index
	})

	return coins
}

// DraftTransaction funds req from the wallet's coins and adds change.
func (w *Wallet) DraftTransaction(ctx context.Context,
	req *escrowwallet.DraftRequest) (*psbt.Packet, error) {

	if err := w.checkOnline(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	feeRate := w.feeRate
	w.mu.Unlock()

	var (
		inputs    []*wire.OutPoint
		sequences []uint32
		prevOuts  []*wire.TxOut
		outputs   []*wire.TxOut
		inValue   btcutil.Amount
		outValue  btcutil.Amount
		exclude   = make(map[wire.OutPoint]struct{})
	)

	// Version, counts and locktime.
	size := 4 + 1 + 1 + 4
	for i := range req.Inputs {
		in := &req.Inputs[i]
		op := in.OutPoint
		inputs = append(inputs, &op)
		sequences = append(sequences, in.Sequence)
		prevOuts = append(prevOuts, in.PrevOutput)
		inValue += btcutil.Amount(in.PrevOutput.Value)
		exclude[op] = struct{}{}

		size += 32 + 4 + 4 + wire.VarIntSerializeSize(
			uint64(in.UnlockingScriptLength),
		) + in.UnlockingScriptLength
	}
	for _, out := range req.Outputs {
		outputs = append(outputs, out.TxOut)
		outValue += btcutil.Amount(out.TxOut.Value)
		size += out.TxOut.SerializeSize()
	}

	// Any non-final sequence keeps the locktime enforced, so funding
	// inputs reuse the first requested sequence.
	fundingSequence := wire.MaxTxInSequenceNum
	if len(sequences) > 0 {
		fundingSequence = sequences[0]
	}

	fee := btcutil.Amount(size) * feeRate
	for _, c := range w.spendable(exclude) {
		if inValue >= outValue+fee {
			break
		}

		op := c.op
		inputs = append(inputs, &op)
		sequences = append(sequences, fundingSequence)
		prevOuts = append(prevOuts, c.txOut)
		inValue += btcutil.Amount(c.txOut.Value)
		size += p2pkhInputSize
		fee = btcutil.Amount(size) * feeRate
	}
	if len(inputs) == 0 || inValue < outValue+fee {
		return nil, fmt.Errorf("%w: need %v, have %v",
			escrowwallet.ErrInsufficientFunds, outValue+fee, inValue)
	}

	changeFee := btcutil.Amount(p2pkhOutputSize) * feeRate
	if change := inValue - outValue - fee - changeFee; change >= DustLimit {
		script, err := w.FundingScript()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, wire.NewTxOut(int64(change), script))
	}

	packet, err := psbt.New(
		inputs, outputs, wire.TxVersion, req.LockTime, sequences,
	)
	if err != nil {
		return nil, err
	}
	for i, prev := range prevOuts {
		packet.Inputs[i].WitnessUtxo = prev
	}

	baskets := make(map[int]escrowwallet.Output)
	for i, out := range req.Outputs {
		if out.Basket != "" {
			baskets[i] = out
		}
	}

	w.mu.Lock()
	w.drafts[*inputs[0]] = &pendingDraft{baskets: baskets}
	w.mu.Unlock()

	log.Debugf("Drafted %q: %d inputs, %d outputs, fee %v",
		req.Description, len(inputs), len(outputs), fee)

	return packet, nil
}

// FinalizeAndSign installs the given unlocking scripts and signs every
// input the wallet owns.
func (w *Wallet) FinalizeAndSign(_ context.Context, packet *psbt.Packet,
	unlocking map[int][]byte) (*wire.MsgTx, error) {

	tx := packet.UnsignedTx
	for i, txIn := range tx.TxIn {
		if script, ok := unlocking[i]; ok {
			packet.Inputs[i].FinalScriptSig = script
			continue
		}

		prev := packet.Inputs[i].WitnessUtxo
		if prev == nil {
			return nil, fmt.Errorf("input %d has no previous "+
				"output", i)
		}

		w.mu.Lock()
		loc, ok := w.scripts[string(prev.PkScript)]
		w.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: input %d spending %v",
				escrowwallet.ErrUnknownKey, i,
				txIn.PreviousOutPoint)
		}

		priv, err := w.child(loc)
		if err != nil {
			return nil, err
		}

		sigScript, err := txscript.SignatureScript(
			tx, i, prev.PkScript, txscript.SigHashAll, priv, true,
		)
		if err != nil {
			return nil, err
		}
		packet.Inputs[i].FinalScriptSig = sigScript
	}

	return psbt.Extract(packet)
}

// Broadcast submits tx to the ledger.
func (w *Wallet) Broadcast(_ context.Context, tx *wire.MsgTx) error {
	if err := w.checkOnline(); err != nil {
		return err
	}

	return w.ledger.Submit(tx)
}

// ListOutputs returns the unspent outputs of a basket carrying every tag.
func (w *Wallet) ListOutputs(_ context.Context, basket string,
	tags []string) ([]*escrowwallet.OwnedOutput, error) {

	if err := w.checkOnline(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var owned []*escrowwallet.OwnedOutput
	for op, out := range w.outputs {
		if out.basket != basket || !hasTags(out.tags, tags) {
			continue
		}
		owned = append(owned, &escrowwallet.OwnedOutput{
			OutPoint: op,
			TxOut:    out.txOut,
			Tags:     out.tags,
		})
	}

	sort.Slice(owned, func(i, j int) bool {
		a, b := owned[i].OutPoint, owned[j].OutPoint
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}

		return a.Index < b.Index
	})

	return owned, nil
}

func hasTags(have, want []string) bool {
	for _, t := range want {
		found := false
		for _, h := range have {
			if h == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// BestHeight returns the ledger height.
func (w *Wallet) BestHeight(context.Context) (uint32, error) {
	if err := w.checkOnline(); err != nil {
		return 0, err
	}

	return w.ledger.Height(), nil
}
