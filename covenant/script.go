package covenant

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/escrowwire"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// ScriptVersion is the version of the covenant template.
const ScriptVersion = 1

// contractTag marks the template prefix of every escrow locking script.
var contractTag = []byte("paragon-escrow")

// ErrNotContract is returned when a script is not an escrow covenant.
var ErrNotContract = errors.New("script is not an escrow covenant")

func toWireBid(b *Bid) escrowwire.Bid {
	var plans []byte
	if b.Plans != "" {
		plans = []byte(b.Plans)
	}

	return escrowwire.Bid{
		FurnisherKey: b.FurnisherKey,
		Plans:        plans,
		BidAmount:    uint64(b.BidAmount),
		Bond:         uint64(b.Bond),
		TimeOfBid:    b.TimeOfBid,
		TimeRequired: b.TimeRequired,
	}
}

func fromWireBid(b *escrowwire.Bid) Bid {
	return Bid{
		FurnisherKey: b.FurnisherKey,
		Plans:        string(b.Plans),
		BidAmount:    btcutil.Amount(b.BidAmount),
		Bond:         btcutil.Amount(b.Bond),
		TimeOfBid:    b.TimeOfBid,
		TimeRequired: b.TimeRequired,
	}
}

func optionalText(s string) []byte {
	if s == "" {
		return nil
	}

	return []byte(s)
}

// State returns the wire form of the contract.
func (c *Contract) State() *escrowwire.ContractState {
	s := escrowwire.NewContractState()

	s.SeekerKey.Val = c.SeekerKey
	s.PlatformKey.Val = c.PlatformKey
	s.AcceptedBid.Val = toWireBid(&c.AcceptedBid)
	for i := range c.Bids {
		s.Bids.Val[i] = toWireBid(&c.Bids[i])
	}

	s.MinAllowableBid.Val = uint64(c.MinAllowableBid)
	s.EscrowServiceFeeBasisPoints.Val = c.EscrowServiceFeeBasisPoints
	s.BondingMode.Val = uint8(c.BondingMode)
	s.RequiredBondAmount.Val = uint64(c.RequiredBondAmount)

	s.PlatformAuthorizationRequired.Val.B = c.PlatformAuthorizationRequired
	s.EscrowMustBeFullyDecisive.Val.B = c.EscrowMustBeFullyDecisive
	s.BountySolversNeedApproval.Val.B = c.BountySolversNeedApproval
	s.ApprovalMode.Val = uint8(c.ApprovalMode)
	s.ContractType.Val = uint8(c.ContractType)
	s.ContractSurvivesAdverseResolution.Val.B =
		c.ContractSurvivesAdverseResolution
	s.BountyIncreaseMode.Val = uint8(c.BountyIncreaseMode)
	s.BountyIncreaseCutoff.Val = c.BountyIncreaseCutoff

	s.DelayUnit.Val = uint8(c.DelayUnit)
	s.WorkCompletionDeadline.Val = c.WorkCompletionDeadline
	s.MaxWorkStartDelay.Val = c.MaxWorkStartDelay
	s.MaxWorkApprovalDelay.Val = c.MaxWorkApprovalDelay

	s.Status.Val = uint8(c.Status)
	s.BidAcceptedBy.Val = uint8(c.BidAcceptedBy)
	s.BidAcceptedAt.Val = c.BidAcceptedAt
	s.WorkCompletionTime.Val = c.WorkCompletionTime

	s.WorkDescription.Val = optionalText(c.WorkDescription)
	s.WorkCompletionDescription.Val = optionalText(
		c.WorkCompletionDescription,
	)

	return s
}

// ContractFromState converts a decoded wire state into a Contract.
func ContractFromState(s *escrowwire.ContractState) *Contract {
	c := &Contract{
		SeekerKey:   s.SeekerKey.Val,
		PlatformKey: s.PlatformKey.Val,
		AcceptedBid: fromWireBid(&s.AcceptedBid.Val),

		MinAllowableBid:             btcutil.Amount(s.MinAllowableBid.Val),
		EscrowServiceFeeBasisPoints: s.EscrowServiceFeeBasisPoints.Val,
		BondingMode:                 BondingMode(s.BondingMode.Val),
		RequiredBondAmount: btcutil.Amount(
			s.RequiredBondAmount.Val,
		),

		PlatformAuthorizationRequired: s.PlatformAuthorizationRequired.
			Val.B,
		EscrowMustBeFullyDecisive: s.EscrowMustBeFullyDecisive.Val.B,
		BountySolversNeedApproval: s.BountySolversNeedApproval.Val.B,
		ApprovalMode:              ApprovalMode(s.ApprovalMode.Val),
		ContractType:              ContractType(s.ContractType.Val),
		ContractSurvivesAdverseResolution: s.
			ContractSurvivesAdverseResolution.Val.B,
		BountyIncreaseMode: BountyIncreaseMode(
			s.BountyIncreaseMode.Val,
		),
		BountyIncreaseCutoff: s.BountyIncreaseCutoff.Val,

		DelayUnit:              DelayUnit(s.DelayUnit.Val),
		WorkCompletionDeadline: s.WorkCompletionDeadline.Val,
		MaxWorkStartDelay:      s.MaxWorkStartDelay.Val,
		MaxWorkApprovalDelay:   s.MaxWorkApprovalDelay.Val,

		Status:             Status(s.Status.Val),
		BidAcceptedBy:      BidAcceptedBy(s.BidAcceptedBy.Val),
		BidAcceptedAt:      s.BidAcceptedAt.Val,
		WorkCompletionTime: s.WorkCompletionTime.Val,

		WorkDescription:           string(s.WorkDescription.Val),
		WorkCompletionDescription: string(s.WorkCompletionDescription.Val),
	}
	for i := range s.Bids.Val {
		c.Bids[i] = fromWireBid(&s.Bids.Val[i])
	}

	return c
}

// LockingScript returns the covenant locking script for the contract. The
// script is the fixed template followed by OP_RETURN and the encoded state,
// so two contracts with identical fields encode identically.
func (c *Contract) LockingScript() ([]byte, error) {
	state, err := c.State().Bytes()
	if err != nil {
		return nil, err
	}

	// The state push routinely exceeds the standard element size, so it
	// is added with AddFullData after the template opcodes.
	return txscript.NewScriptBuilder().
		AddData(contractTag).
		AddInt64(ScriptVersion).
		AddOp(txscript.OP_2DROP).
		AddOp(txscript.OP_RETURN).
		AddFullData(state).
		Script()
}

// splitLockingScript checks the template prefix and returns the state push.
func splitLockingScript(script []byte) ([]byte, error) {
	const scriptVersion = 0
	tokenizer := txscript.MakeScriptTokenizer(scriptVersion, script)

	expect := func(op byte, data []byte) bool {
		if !tokenizer.Next() || tokenizer.Opcode() != op {
			return false
		}

		return data == nil || bytes.Equal(tokenizer.Data(), data)
	}

	switch {
	case !tokenizer.Next() || !bytes.Equal(tokenizer.Data(), contractTag):
		return nil, ErrNotContract
	case !expect(txscript.OP_1+ScriptVersion-1, nil):
		return nil, fmt.Errorf("%w: unsupported template version",
			ErrNotContract)
	case !expect(txscript.OP_2DROP, nil):
		return nil, ErrNotContract
	case !expect(txscript.OP_RETURN, nil):
		return nil, ErrNotContract
	}

	if !tokenizer.Next() {
		return nil, fmt.Errorf("%w: missing state", ErrNotContract)
	}
	state := tokenizer.Data()

	if !tokenizer.Done() || tokenizer.Err() != nil {
		return nil, fmt.Errorf("%w: trailing data after state",
			ErrNotContract)
	}

	return state, nil
}

// IsContractScript reports whether script carries an escrow covenant.
func IsContractScript(script []byte) bool {
	_, err := splitLockingScript(script)
	return err == nil
}

// DecodeLockingScript decodes the contract carried by a covenant locking
// script.
func DecodeLockingScript(script []byte) (*Contract, error) {
	raw, err := splitLockingScript(script)
	if err != nil {
		return nil, err
	}

	state := escrowwire.NewContractState()
	if err := state.Decode(bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	return ContractFromState(state), nil
}

// PayToKeyScript returns a pay-to-pubkey-hash script for key.
func PayToKeyScript(key PubKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(key[:])).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}
