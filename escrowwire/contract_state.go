package escrowwire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// MaxDescriptionLen is the largest free text description a contract state
// may carry in a single field.
const MaxDescriptionLen = 1024

// ErrMalformedState is returned when bytes can't be decoded into a
// ContractState.
var ErrMalformedState = errors.New("malformed contract state")

// ContractState is the serialized state carried after the OP_RETURN of an
// escrow covenant locking script. Every field is always present and the
// records are written in ascending type order, so the encoding is a pure
// function of the field values.
type ContractState struct {
	SeekerKey   tlv.RecordT[tlv.TlvType0, [33]byte]
	PlatformKey tlv.RecordT[tlv.TlvType1, [33]byte]
	AcceptedBid tlv.RecordT[tlv.TlvType2, Bid]
	Bids        tlv.RecordT[tlv.TlvType3, BidSlots]

	MinAllowableBid             tlv.RecordT[tlv.TlvType4, uint64]
	EscrowServiceFeeBasisPoints tlv.RecordT[tlv.TlvType5, uint16]
	BondingMode                 tlv.RecordT[tlv.TlvType6, uint8]
	RequiredBondAmount          tlv.RecordT[tlv.TlvType7, uint64]

	PlatformAuthorizationRequired     tlv.RecordT[tlv.TlvType8, Boolean]
	EscrowMustBeFullyDecisive         tlv.RecordT[tlv.TlvType9, Boolean]
	BountySolversNeedApproval         tlv.RecordT[tlv.TlvType10, Boolean]
	ApprovalMode                      tlv.RecordT[tlv.TlvType11, uint8]
	ContractType                      tlv.RecordT[tlv.TlvType12, uint8]
	ContractSurvivesAdverseResolution tlv.RecordT[tlv.TlvType13, Boolean]
	BountyIncreaseMode                tlv.RecordT[tlv.TlvType14, uint8]
	BountyIncreaseCutoff              tlv.RecordT[tlv.TlvType15, uint32]

	DelayUnit              tlv.RecordT[tlv.TlvType16, uint8]
	WorkCompletionDeadline tlv.RecordT[tlv.TlvType17, uint32]
	MaxWorkStartDelay      tlv.RecordT[tlv.TlvType18, uint32]
	MaxWorkApprovalDelay   tlv.RecordT[tlv.TlvType19, uint32]

	Status             tlv.RecordT[tlv.TlvType20, uint8]
	BidAcceptedBy      tlv.RecordT[tlv.TlvType21, uint8]
	BidAcceptedAt      tlv.RecordT[tlv.TlvType22, uint32]
	WorkCompletionTime tlv.RecordT[tlv.TlvType23, uint32]

	WorkDescription           tlv.RecordT[tlv.TlvType24, []byte]
	WorkCompletionDescription tlv.RecordT[tlv.TlvType25, []byte]
}

// NewContractState returns a ContractState with every record typed and
// zero valued.
func NewContractState() *ContractState {
	return &ContractState{
		SeekerKey:   tlv.ZeroRecordT[tlv.TlvType0, [33]byte](),
		PlatformKey: tlv.ZeroRecordT[tlv.TlvType1, [33]byte](),
		AcceptedBid: tlv.ZeroRecordT[tlv.TlvType2, Bid](),
		Bids:        tlv.ZeroRecordT[tlv.TlvType3, BidSlots](),

		MinAllowableBid: tlv.ZeroRecordT[tlv.TlvType4, uint64](),
		EscrowServiceFeeBasisPoints: tlv.ZeroRecordT[
			tlv.TlvType5, uint16,
		](),
		BondingMode:        tlv.ZeroRecordT[tlv.TlvType6, uint8](),
		RequiredBondAmount: tlv.ZeroRecordT[tlv.TlvType7, uint64](),

		PlatformAuthorizationRequired: tlv.ZeroRecordT[
			tlv.TlvType8, Boolean,
		](),
		EscrowMustBeFullyDecisive: tlv.ZeroRecordT[
			tlv.TlvType9, Boolean,
		](),
		BountySolversNeedApproval: tlv.ZeroRecordT[
			tlv.TlvType10, Boolean,
		](),
		ApprovalMode: tlv.ZeroRecordT[tlv.TlvType11, uint8](),
		ContractType: tlv.ZeroRecordT[tlv.TlvType12, uint8](),
		ContractSurvivesAdverseResolution: tlv.ZeroRecordT[
			tlv.TlvType13, Boolean,
		](),
		BountyIncreaseMode:   tlv.ZeroRecordT[tlv.TlvType14, uint8](),
		BountyIncreaseCutoff: tlv.ZeroRecordT[tlv.TlvType15, uint32](),

		DelayUnit: tlv.ZeroRecordT[tlv.TlvType16, uint8](),
		WorkCompletionDeadline: tlv.ZeroRecordT[
			tlv.TlvType17, uint32,
		](),
		MaxWorkStartDelay: tlv.ZeroRecordT[tlv.TlvType18, uint32](),
		MaxWorkApprovalDelay: tlv.ZeroRecordT[
			tlv.TlvType19, uint32,
		](),

		Status:             tlv.ZeroRecordT[tlv.TlvType20, uint8](),
		BidAcceptedBy:      tlv.ZeroRecordT[tlv.TlvType21, uint8](),
		BidAcceptedAt:      tlv.ZeroRecordT[tlv.TlvType22, uint32](),
		WorkCompletionTime: tlv.ZeroRecordT[tlv.TlvType23, uint32](),

		WorkDescription: tlv.ZeroRecordT[tlv.TlvType24, []byte](),
		WorkCompletionDescription: tlv.ZeroRecordT[
			tlv.TlvType25, []byte,
		](),
	}
}

// records returns the record producers of the state in ascending type
// order.
func (c *ContractState) records() []tlv.RecordProducer {
	return []tlv.RecordProducer{
		&c.SeekerKey, &c.PlatformKey, &c.AcceptedBid, &c.Bids,
		&c.MinAllowableBid, &c.EscrowServiceFeeBasisPoints,
		&c.BondingMode, &c.RequiredBondAmount,
		&c.PlatformAuthorizationRequired, &c.EscrowMustBeFullyDecisive,
		&c.BountySolversNeedApproval, &c.ApprovalMode, &c.ContractType,
		&c.ContractSurvivesAdverseResolution, &c.BountyIncreaseMode,
		&c.BountyIncreaseCutoff,
		&c.DelayUnit, &c.WorkCompletionDeadline, &c.MaxWorkStartDelay,
		&c.MaxWorkApprovalDelay,
		&c.Status, &c.BidAcceptedBy, &c.BidAcceptedAt,
		&c.WorkCompletionTime,
		&c.WorkDescription, &c.WorkCompletionDescription,
	}
}

func (c *ContractState) stream() (*tlv.Stream, error) {
	producers := c.records()
	records := make([]tlv.Record, 0, len(producers))
	for _, p := range producers {
		records = append(records, p.Record())
	}

	return tlv.NewStream(records...)
}

func (c *ContractState) checkLimits() error {
	if len(c.WorkDescription.Val) > MaxDescriptionLen {
		return fmt.Errorf("work description (len=%d) exceeds "+
			"maximum of %d", len(c.WorkDescription.Val),
			MaxDescriptionLen)
	}
	if len(c.WorkCompletionDescription.Val) > MaxDescriptionLen {
		return fmt.Errorf("work completion description (len=%d) "+
			"exceeds maximum of %d",
			len(c.WorkCompletionDescription.Val), MaxDescriptionLen)
	}

	return nil
}

// Encode serializes the state into the passed io.Writer.
func (c *ContractState) Encode(w io.Writer) error {
	if err := c.checkLimits(); err != nil {
		return err
	}

	stream, err := c.stream()
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Bytes returns the serialized state.
func (c *ContractState) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := c.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Decode deserializes a state from the passed io.Reader. Every record must
// be present and no unknown records are tolerated, otherwise
// ErrMalformedState is returned.
func (c *ContractState) Decode(r io.Reader) error {
	*c = *NewContractState()

	stream, err := c.stream()
	if err != nil {
		return err
	}

	typeMap, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	producers := c.records()
	if len(typeMap) != len(producers) {
		return fmt.Errorf("%w: expected %d records, found %d",
			ErrMalformedState, len(producers), len(typeMap))
	}
	for _, p := range producers {
		record := p.Record()
		typ := record.Type()
		if _, ok := typeMap[typ]; !ok {
			return fmt.Errorf("%w: missing record type %d",
				ErrMalformedState, typ)
		}
	}

	// Empty text is always decoded as nil so that decode(encode(s))
	// compares equal to s.
	if len(c.WorkDescription.Val) == 0 {
		c.WorkDescription.Val = nil
	}
	if len(c.WorkCompletionDescription.Val) == 0 {
		c.WorkCompletionDescription.Val = nil
	}

	return c.checkLimits()
}
