package escrowwallet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn"
)

var (
	// ErrStaleReference is returned when a transaction spends an output
	// that was already spent by another transaction. The caller must
	// fetch the current state and draft a new transaction.
	ErrStaleReference = errors.New("input already spent")

	// ErrUnavailable is returned when the wallet or the network behind
	// it can't be reached.
	ErrUnavailable = errors.New("wallet unavailable")

	// ErrInsufficientFunds is returned when the wallet can't fund a
	// draft.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownKey is returned when asked to sign with a key the wallet
	// can't derive.
	ErrUnknownKey = errors.New("unknown key")
)

// KeyLocator identifies a key derived for a protocol. The same locator
// always yields the same key.
type KeyLocator struct {
	// ProtocolID names the protocol the key is used for.
	ProtocolID string

	// KeyID distinguishes keys within the protocol.
	KeyID string

	// Counterparty is the other party the key is derived with. None
	// derives the key with the wallet itself as counterparty.
	Counterparty fn.Option[*btcec.PublicKey]
}

// Input is an input the caller requires a draft to spend, in addition to
// whatever inputs the wallet adds to fund it.
type Input struct {
	// OutPoint is the output being spent.
	OutPoint wire.OutPoint

	// PrevOutput is the output being spent.
	PrevOutput *wire.TxOut

	// UnlockingScriptLength is the size the unlocking script will have,
	// used to size the fee before the script exists.
	UnlockingScriptLength int

	// Sequence is the input's nSequence.
	Sequence uint32
}

// Output is an output the draft must create.
type Output struct {
	TxOut *wire.TxOut

	// Basket is the wallet basket the output is tracked in once the
	// transaction is broadcast. Empty for outputs the wallet doesn't
	// track.
	Basket string

	// Tags are attached to tracked outputs.
	Tags []string
}

// DraftRequest describes a transaction to draft.
type DraftRequest struct {
	// Inputs are spent first, in order.
	Inputs []Input

	// Outputs are created first, in order. Change follows them.
	Outputs []Output

	LockTime uint32

	// Description is a human readable label for the transaction.
	Description string
}

// OwnedOutput is an output tracked in a basket.
type OwnedOutput struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut
	Tags     []string
}

// WalletController is the wallet the escrow protocol drives. It owns every
// private key and is the only component that talks to the network.
type WalletController interface {
	// DeriveKey returns the public key for a locator.
	DeriveKey(ctx context.Context,
		loc KeyLocator) (*btcec.PublicKey, error)

	// SignDigest signs a digest with the private key for a locator.
	SignDigest(ctx context.Context, loc KeyLocator,
		digest []byte) (*ecdsa.Signature, error)

	// DraftTransaction funds the request and returns it as an unsigned
	// packet. The requested inputs and outputs come first, in order.
	DraftTransaction(ctx context.Context,
		req *DraftRequest) (*psbt.Packet, error)

	// FinalizeAndSign installs the given unlocking scripts, keyed by
	// input index, signs the wallet's own inputs and returns the final
	// transaction.
	FinalizeAndSign(ctx context.Context, packet *psbt.Packet,
		unlocking map[int][]byte) (*wire.MsgTx, error)

	// Broadcast submits a final transaction to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error

	// ListOutputs returns the unspent outputs of a basket carrying
	// every tag.
	ListOutputs(ctx context.Context, basket string,
		tags []string) ([]*OwnedOutput, error)

	// BestHeight returns the height of the chain tip.
	BestHeight(ctx context.Context) (uint32, error)
}
