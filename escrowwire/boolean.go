package escrowwire

import (
	"errors"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// Boolean wraps a policy flag so it satisfies the tlv.RecordProducer
// interface. A flag that is set is written as a zero length value, a flag
// that is cleared is written explicitly as a single zero byte. Both forms
// are always present in a contract state so that two states with the same
// flags produce the same bytes.
type Boolean struct {
	B bool
}

// NewBoolean returns a Boolean holding b.
func NewBoolean(b bool) Boolean {
	return Boolean{B: b}
}

// Record returns the tlv record for the boolean entry.
func (b *Boolean) Record() tlv.Record {
	return tlv.MakeDynamicRecord(
		0, &b.B, b.size, booleanEncoder, booleanDecoder,
	)
}

// size returns the number of bytes required to encode the Boolean. A set
// flag has a zero length value, otherwise we will have a 1 byte value.
func (b *Boolean) size() uint64 {
	if b.B {
		return 0
	}

	return 1
}

func booleanEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(*bool); ok {
		if *v {
			return nil
		}

		buf[0] = 0
		_, err := w.Write(buf[:1])

		return err
	}

	return tlv.NewTypeForEncodingErr(val, "escrowwire.Boolean")
}

func booleanDecoder(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if v, ok := val.(*bool); ok && (l == 0 || l == 1) {
		if l == 0 {
			*v = true

			return nil
		}

		if _, err := io.ReadFull(r, buf[:1]); err != nil {
			return err
		}

		// Only the canonical false encoding is accepted. A set flag
		// must use the zero length form, otherwise the same state
		// could be written two ways.
		if buf[0] != 0 {
			return errors.New("non-canonical boolean encoding")
		}
		*v = false

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "escrowwire.Boolean", l, 1)
}
