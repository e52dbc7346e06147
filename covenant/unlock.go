package covenant

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DummySignature stands in for a signature that isn't needed or isn't known
// yet. It has the length of the largest DER signature plus the sighash byte,
// so a draft built with it is never smaller than the final script.
var DummySignature = bytes.Repeat([]byte{0}, 73)

// maxScriptLen bounds a pushed output script when decoding extra outputs.
const maxScriptLen = 10_000

var errShortPush = errors.New("unexpected end of unlocking script")

// pushWriter appends fixed width parameter pushes to a script.
type pushWriter struct {
	b *txscript.ScriptBuilder
}

func (w *pushWriter) uint8(v uint8) {
	w.b.AddData([]byte{v})
}

func (w *pushWriter) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.b.AddData(b[:])
}

func (w *pushWriter) amount(v btcutil.Amount) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.b.AddData(b[:])
}

func (w *pushWriter) bool(v bool) {
	if v {
		w.uint8(1)
		return
	}
	w.uint8(0)
}

func (w *pushWriter) key(k PubKey) {
	w.b.AddData(k[:])
}

// text pushes s behind a two byte length so that short strings are never
// rewritten into small integer opcodes.
func (w *pushWriter) text(s string) {
	b := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	copy(b[2:], s)
	w.b.AddFullData(b)
}

func (w *pushWriter) bid(b *Bid) {
	w.key(b.FurnisherKey)
	w.text(b.Plans)
	w.amount(b.BidAmount)
	w.amount(b.Bond)
	w.uint32(b.TimeOfBid)
	w.uint32(b.TimeRequired)
}

// pushReader consumes the pushes of an unlocking script.
type pushReader struct {
	pushes [][]byte
	err    error
}

func (r *pushReader) next() []byte {
	if r.err != nil {
		return nil
	}
	if len(r.pushes) == 0 {
		r.err = errShortPush
		return nil
	}

	p := r.pushes[0]
	r.pushes = r.pushes[1:]

	return p
}

func (r *pushReader) fixed(n int, name string) []byte {
	p := r.next()
	if r.err == nil && len(p) != n {
		r.err = fmt.Errorf("%s: expected %d bytes, got %d", name, n,
			len(p))
	}

	return p
}

func (r *pushReader) uint8(name string) uint8 {
	p := r.next()
	switch {
	case r.err != nil:
		return 0
	case len(p) == 0:
		return 0
	case len(p) == 1:
		return p[0]
	}
	r.err = fmt.Errorf("%s: expected a single byte", name)

	return 0
}

func (r *pushReader) uint32(name string) uint32 {
	p := r.fixed(4, name)
	if r.err != nil {
		return 0
	}

	return binary.LittleEndian.Uint32(p)
}

func (r *pushReader) amount(name string) btcutil.Amount {
	p := r.fixed(8, name)
	if r.err != nil {
		return 0
	}

	return btcutil.Amount(binary.LittleEndian.Uint64(p))
}

func (r *pushReader) bool(name string) bool {
	return r.uint8(name) != 0
}

func (r *pushReader) key(name string) PubKey {
	var k PubKey
	p := r.fixed(len(k), name)
	if r.err == nil {
		copy(k[:], p)
	}

	return k
}

func (r *pushReader) text(name string) string {
	p := r.next()
	if r.err != nil {
		return ""
	}
	if len(p) < 2 || int(binary.BigEndian.Uint16(p)) != len(p)-2 {
		r.err = fmt.Errorf("%s: malformed text push", name)
		return ""
	}

	return string(p[2:])
}

func (r *pushReader) bid() Bid {
	return Bid{
		FurnisherKey: r.key("furnisher key"),
		Plans:        r.text("plans"),
		BidAmount:    r.amount("bid amount"),
		Bond:         r.amount("bond"),
		TimeOfBid:    r.uint32("time of bid"),
		TimeRequired: r.uint32("time required"),
	}
}

// parsePushes returns the data of every push in a push-only script. Small
// integer opcodes are returned as the single byte they push.
func parsePushes(script []byte) ([][]byte, error) {
	const scriptVersion = 0
	tokenizer := txscript.MakeScriptTokenizer(scriptVersion, script)

	var pushes [][]byte
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		switch {
		case op == txscript.OP_0:
			pushes = append(pushes, []byte{})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			pushes = append(pushes, []byte{op - txscript.OP_1 + 1})

		case op == txscript.OP_1NEGATE:
			pushes = append(pushes, []byte{0x81})

		case op <= txscript.OP_PUSHDATA4:
			pushes = append(pushes, tokenizer.Data())

		default:
			return nil, fmt.Errorf("unlocking script is not push "+
				"only: opcode 0x%x", op)
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}

	return pushes, nil
}

// Spend is the decoded unlocking script of a covenant input.
type Spend struct {
	// Params are the transition's non-signature arguments.
	Params Params

	// Signatures holds one DER signature with a trailing sighash byte per
	// signer slot of the transition. Missing slots are written as
	// DummySignature.
	Signatures map[Role][]byte

	// ExtraOutputs are the outputs following the covenant's own outputs,
	// only present for transitions that commit to every output.
	ExtraOutputs []*wire.TxOut
}

// Script assembles the unlocking script.
func (s *Spend) Script() ([]byte, error) {
	id := s.Params.Transition()
	if !id.valid() {
		return nil, fmt.Errorf("unknown transition %d", id)
	}

	b := txscript.NewScriptBuilder()
	b.AddInt64(int64(id))

	w := &pushWriter{b: b}
	s.Params.encode(w)

	for _, role := range id.SignerSlots() {
		sig, ok := s.Signatures[role]
		if !ok {
			sig = DummySignature
		}
		b.AddData(sig)
	}

	if id.coversAllOutputs() {
		extra, err := SerializeOutputs(s.ExtraOutputs)
		if err != nil {
			return nil, err
		}
		b.AddFullData(extra)
	}

	return b.Script()
}

// ParseSpend decodes a covenant unlocking script.
func ParseSpend(script []byte) (*Spend, error) {
	pushes, err := parsePushes(script)
	if err != nil {
		return nil, err
	}

	r := &pushReader{pushes: pushes}
	id := TransitionID(r.uint8("transition"))
	if r.err != nil {
		return nil, r.err
	}
	if !id.valid() {
		return nil, fmt.Errorf("unknown transition %d", id)
	}

	params, err := transitions[id].decode(r)
	if err != nil {
		return nil, fmt.Errorf("%v params: %w", id, err)
	}

	spend := &Spend{
		Params:     params,
		Signatures: make(map[Role][]byte),
	}
	for _, role := range id.SignerSlots() {
		sig := r.next()
		if r.err != nil {
			return nil, fmt.Errorf("%v signature: %w", role, r.err)
		}
		spend.Signatures[role] = sig
	}

	if id.coversAllOutputs() {
		raw := r.next()
		if r.err != nil {
			return nil, r.err
		}
		spend.ExtraOutputs, err = DeserializeOutputs(raw)
		if err != nil {
			return nil, err
		}
	}

	if len(r.pushes) != 0 {
		return nil, fmt.Errorf("%d unexpected trailing pushes",
			len(r.pushes))
	}

	return spend, nil
}

// SerializeOutputs writes outputs in the transaction output format, back to
// back.
func SerializeOutputs(outputs []*wire.TxOut) ([]byte, error) {
	var buf bytes.Buffer
	for _, out := range outputs {
		var value [8]byte
		binary.LittleEndian.PutUint64(value[:], uint64(out.Value))
		buf.Write(value[:])

		err := wire.WriteVarBytes(&buf, 0, out.PkScript)
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DeserializeOutputs reads outputs written by SerializeOutputs.
func DeserializeOutputs(raw []byte) ([]*wire.TxOut, error) {
	r := bytes.NewReader(raw)

	var outputs []*wire.TxOut
	for r.Len() > 0 {
		var value [8]byte
		if _, err := io.ReadFull(r, value[:]); err != nil {
			return nil, err
		}

		script, err := wire.ReadVarBytes(
			r, 0, maxScriptLen, "pkScript",
		)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, wire.NewTxOut(
			int64(binary.LittleEndian.Uint64(value[:])), script,
		))
	}

	return outputs, nil
}
