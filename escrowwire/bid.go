package escrowwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// NumBidSlots is the fixed number of bid slots carried by every
	// contract state.
	NumBidSlots = 4

	// MaxPlansLen is the largest plans text a single bid may carry.
	MaxPlansLen = 1024

	// bidFixedSize is the size of the fixed width part of a bid: the
	// 33 byte furnisher key, two 8 byte amounts and two 4 byte times.
	bidFixedSize = 33 + 8 + 8 + 4 + 4
)

// Bid is the wire form of a single furnisher bid.
type Bid struct {
	// FurnisherKey is the compressed public key of the bidder. A slot
	// whose key equals the seeker key is empty.
	FurnisherKey [33]byte

	// Plans is free form text describing how the work will be done.
	Plans []byte

	// BidAmount is the amount in satoshis the furnisher asks for.
	BidAmount uint64

	// Bond is the collateral in satoshis the furnisher offers to post.
	Bond uint64

	// TimeOfBid is a block height or unix time, depending on the
	// contract's delay unit.
	TimeOfBid uint32

	// TimeRequired is the number of blocks or seconds the furnisher
	// needs to complete the work.
	TimeRequired uint32
}

// EncodedSize returns the number of bytes needed to encode the bid.
func (b *Bid) EncodedSize() uint64 {
	plansLen := uint64(len(b.Plans))

	return bidFixedSize + tlv.VarIntSize(plansLen) + plansLen
}

// Record returns a tlv record that can be used to encode/decode a Bid.
func (b *Bid) Record() tlv.Record {
	return tlv.MakeDynamicRecord(
		0, b, b.EncodedSize, bidEncoder, bidDecoder,
	)
}

// encodeBid writes the bid as the fixed width fields followed by the
// length prefixed plans.
func encodeBid(w io.Writer, b *Bid, buf *[8]byte) error {
	if len(b.Plans) > MaxPlansLen {
		return fmt.Errorf("bid plans (len=%d) exceed maximum of %d",
			len(b.Plans), MaxPlansLen)
	}

	if _, err := w.Write(b.FurnisherKey[:]); err != nil {
		return err
	}

	var fixed [8 + 8 + 4 + 4]byte
	binary.BigEndian.PutUint64(fixed[0:8], b.BidAmount)
	binary.BigEndian.PutUint64(fixed[8:16], b.Bond)
	binary.BigEndian.PutUint32(fixed[16:20], b.TimeOfBid)
	binary.BigEndian.PutUint32(fixed[20:24], b.TimeRequired)
	if _, err := w.Write(fixed[:]); err != nil {
		return err
	}

	err := tlv.WriteVarInt(w, uint64(len(b.Plans)), buf)
	if err != nil {
		return err
	}
	_, err = w.Write(b.Plans)

	return err
}

// decodeBid reads a bid written by encodeBid and returns the number of
// bytes consumed.
func decodeBid(r io.Reader, b *Bid, buf *[8]byte) (uint64, error) {
	if _, err := io.ReadFull(r, b.FurnisherKey[:]); err != nil {
		return 0, err
	}

	var fixed [8 + 8 + 4 + 4]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return 0, err
	}
	b.BidAmount = binary.BigEndian.Uint64(fixed[0:8])
	b.Bond = binary.BigEndian.Uint64(fixed[8:16])
	b.TimeOfBid = binary.BigEndian.Uint32(fixed[16:20])
	b.TimeRequired = binary.BigEndian.Uint32(fixed[20:24])

	plansLen, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return 0, err
	}
	if plansLen > MaxPlansLen {
		return 0, fmt.Errorf("%w: bid plans (len=%d) exceed maximum "+
			"of %d", ErrMalformedState, plansLen, MaxPlansLen)
	}

	// Keep the empty plans as a nil slice so that a decoded empty slot
	// compares equal to a freshly built one.
	b.Plans = nil
	if plansLen > 0 {
		b.Plans = make([]byte, plansLen)
		if _, err := io.ReadFull(r, b.Plans); err != nil {
			return 0, err
		}
	}

	return b.EncodedSize(), nil
}

func bidEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(*Bid); ok {
		return encodeBid(w, v, buf)
	}

	return tlv.NewTypeForEncodingErr(val, "escrowwire.Bid")
}

func bidDecoder(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if v, ok := val.(*Bid); ok {
		if l < bidFixedSize+1 {
			return tlv.NewTypeForDecodingErr(
				val, "escrowwire.Bid", l, bidFixedSize+1,
			)
		}

		n, err := decodeBid(r, v, buf)
		if err != nil {
			return err
		}
		if n != l {
			return fmt.Errorf("%w: bid record length %d, decoded %d",
				ErrMalformedState, l, n)
		}

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "escrowwire.Bid", l, l)
}

// BidSlots is the fixed array of bid slots. All four slots are always
// encoded, empty ones included.
type BidSlots [NumBidSlots]Bid

// EncodedSize returns the number of bytes needed to encode all slots.
func (s *BidSlots) EncodedSize() uint64 {
	var size uint64
	for i := range s {
		size += s[i].EncodedSize()
	}

	return size
}

// Record returns a tlv record that can be used to encode/decode BidSlots.
func (s *BidSlots) Record() tlv.Record {
	return tlv.MakeDynamicRecord(
		0, s, s.EncodedSize, bidSlotsEncoder, bidSlotsDecoder,
	)
}

func bidSlotsEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(*BidSlots); ok {
		for i := range v {
			if err := encodeBid(w, &v[i], buf); err != nil {
				return fmt.Errorf("slot %d: %w", i, err)
			}
		}

		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "escrowwire.BidSlots")
}

func bidSlotsDecoder(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if v, ok := val.(*BidSlots); ok {
		var total uint64
		for i := range v {
			n, err := decodeBid(r, &v[i], buf)
			if err != nil {
				return fmt.Errorf("slot %d: %w", i, err)
			}
			total += n
		}
		if total != l {
			return fmt.Errorf("%w: bid slots record length %d, "+
				"decoded %d", ErrMalformedState, l, total)
		}

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "escrowwire.BidSlots", l, l)
}
