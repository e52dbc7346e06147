package invoker

import (
	"context"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
)

// SignRequest is handed to a signer once the draft transaction exists.
type SignRequest struct {
	// Digest is the digest to sign.
	Digest []byte

	// Scope is the sighash type the signature is checked under.
	Scope txscript.SigHashType

	// Role is the signer's role in the contract.
	Role covenant.Role

	// Transition is the transition being invoked.
	Transition covenant.TransitionID
}

// SignFunc produces a signature for a request. It may block, for example
// while a remote party is asked to sign.
type SignFunc func(ctx context.Context,
	req *SignRequest) (*ecdsa.Signature, error)

// Slot is the value supplied for one signature slot of a transition. The
// set of implementations is closed: Literal, Request and NoSignature.
type Slot interface {
	isSlot()
}

// Literal is a signature that is already known, DER encoded with the
// sighash byte appended.
type Literal struct {
	Sig []byte
}

// Request asks Sign for the signature once the digest is known.
type Request struct {
	Sign SignFunc
}

// NoSignature fills a slot whose role doesn't sign this call.
type NoSignature struct{}

func (Literal) isSlot()     {}
func (Request) isSlot()     {}
func (NoSignature) isSlot() {}

// WalletSigner returns a SignFunc signing with the key for loc.
func WalletSigner(w escrowwallet.WalletController,
	loc escrowwallet.KeyLocator) SignFunc {

	return func(ctx context.Context,
		req *SignRequest) (*ecdsa.Signature, error) {

		log.Tracef("Signing %v as %v with %v", req.Transition, req.Role,
			loc)

		return w.SignDigest(ctx, loc, req.Digest)
	}
}

// SignWith is a Request slot signing with the wallet's contract key.
func SignWith(w escrowwallet.WalletController) Request {
	return Request{
		Sign: WalletSigner(w, escrowwallet.ContractKeyLocator()),
	}
}
