package covenant

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Digest returns the digest a signer of transition id must sign for input
// idx of tx, which spends a covenant output locked by prevScript and
// carrying prevValue. The digest commits to the input's value and follows
// the fork-id algorithm, so it only depends on the parts of tx the
// transition's scope covers.
func Digest(tx *wire.MsgTx, idx int, prevScript []byte,
	prevValue btcutil.Amount, id TransitionID) ([]byte, error) {

	if !id.valid() {
		return nil, fmt.Errorf("unknown transition %d", id)
	}
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input %d out of range", idx)
	}

	fetcher := txscript.NewCannedPrevOutputFetcher(
		prevScript, int64(prevValue),
	)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	return txscript.CalcWitnessSigHash(
		prevScript, sigHashes, id.Scope(), tx, idx, int64(prevValue),
	)
}

// SerializeSignature returns sig in the form pushed by an unlocking script:
// DER followed by the transition's sighash byte.
func SerializeSignature(sig *ecdsa.Signature, id TransitionID) []byte {
	return append(sig.Serialize(), byte(id.Scope()))
}

// checkSignature asserts that raw is a signature of digest by key under
// the transition's scope.
func checkSignature(id TransitionID, role Role, raw, digest []byte,
	key PubKey) error {

	if len(raw) < 2 {
		return assertionf(id, "missing %v signature", role)
	}

	hashType := txscript.SigHashType(raw[len(raw)-1])
	if hashType != id.Scope() {
		return assertionf(id, "%v signature has sighash 0x%x, want "+
			"0x%x", role, hashType, id.Scope())
	}

	sig, err := ecdsa.ParseDERSignature(raw[:len(raw)-1])
	if err != nil {
		return assertionf(id, "malformed %v signature: %v", role, err)
	}

	pub, err := btcec.ParsePubKey(key[:])
	if err != nil {
		return assertionf(id, "invalid %v key: %v", role, err)
	}

	if !sig.Verify(digest, pub) {
		return assertionf(id, "invalid %v signature", role)
	}

	return nil
}
