package disputerecord

import (
	"bytes"
	"errors"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/btcsuite/btcd/txscript"
)

// LegacyTag prefixes the document of a legacy record.
var LegacyTag = []byte("paragon-dispute")

var (
	// ErrNotKeyed is returned when a script isn't a keyed record.
	ErrNotKeyed = errors.New("not a keyed dispute record")

	// ErrNotLegacy is returned when a script isn't a legacy record.
	ErrNotLegacy = errors.New("not a legacy dispute record")
)

// KeyedScript locks doc to key, tagging it with keyID:
//
//	<key> OP_CHECKSIG <keyID> <doc> OP_2DROP
func KeyedScript(key covenant.PubKey, keyID, doc []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(key[:]).
		AddOp(txscript.OP_CHECKSIG).
		AddFullData(keyID).
		AddFullData(doc).
		AddOp(txscript.OP_2DROP).
		Script()
}

// LegacyScript embeds doc in an unspendable output:
//
//	OP_FALSE OP_RETURN <"paragon-dispute"> <doc>
func LegacyScript(doc []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_FALSE).
		AddOp(txscript.OP_RETURN).
		AddData(LegacyTag).
		AddFullData(doc).
		Script()
}

// tokens returns the opcodes and pushed data of script.
func tokens(script []byte) ([]byte, [][]byte, error) {
	var (
		ops  []byte
		data [][]byte
	)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		ops = append(ops, tokenizer.Opcode())
		data = append(data, tokenizer.Data())
	}
	if err := tokenizer.Err(); err != nil {
		return nil, nil, err
	}

	return ops, data, nil
}

// isPush reports whether op pushes data.
func isPush(op byte) bool {
	return op <= txscript.OP_PUSHDATA4
}

// ParseKeyed splits a keyed record script into its key, key id and
// document.
func ParseKeyed(script []byte) (covenant.PubKey, []byte, []byte, error) {
	var key covenant.PubKey

	ops, data, err := tokens(script)
	if err != nil {
		return key, nil, nil, err
	}

	if len(ops) != 5 ||
		ops[0] != txscript.OP_DATA_33 ||
		ops[1] != txscript.OP_CHECKSIG ||
		!isPush(ops[2]) || !isPush(ops[3]) ||
		ops[4] != txscript.OP_2DROP {

		return key, nil, nil, ErrNotKeyed
	}

	copy(key[:], data[0])

	return key, data[2], data[3], nil
}

// ParseLegacy returns the document of a legacy record script.
func ParseLegacy(script []byte) ([]byte, error) {
	ops, data, err := tokens(script)
	if err != nil {
		return nil, err
	}

	if len(ops) != 4 ||
		ops[0] != txscript.OP_FALSE ||
		ops[1] != txscript.OP_RETURN ||
		!isPush(ops[2]) || !isPush(ops[3]) ||
		!bytes.Equal(data[2], LegacyTag) {

		return nil, ErrNotLegacy
	}

	return data[3], nil
}
