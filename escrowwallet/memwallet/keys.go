package memwallet

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/btcsuite/btcd/btcec/v2"
)

// deriveChild returns the private key for loc. The child is the root key
// tweaked by an HMAC of the locator's protocol and key id, keyed with the
// ECDH secret shared with the counterparty. A wallet talking to itself uses
// its own public key as counterparty.
func deriveChild(root *btcec.PrivateKey,
	loc escrowwallet.KeyLocator) *btcec.PrivateKey {

	counterparty := loc.Counterparty.UnwrapOr(root.PubKey())
	shared := btcec.GenerateSharedSecret(root, counterparty)

	mac := hmac.New(sha256.New, shared)
	mac.Write([]byte(loc.ProtocolID))
	mac.Write([]byte{0})
	mac.Write([]byte(loc.KeyID))

	var tweak btcec.ModNScalar
	tweak.SetByteSlice(mac.Sum(nil))

	child := root.Key
	child.Add(&tweak)
	b := child.Bytes()

	priv, _ := btcec.PrivKeyFromBytes(b[:])

	return priv
}
