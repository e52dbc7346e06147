package escrowwallet

import (
	"context"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/fn"
)

const (
	// ContractProtocol is the protocol id of the keys parties use in
	// escrow contracts.
	ContractProtocol = "paragon escrow"

	// DisputeRecordProtocol is the protocol id of the keys locking
	// dispute records.
	DisputeRecordProtocol = "paragon dispute record"
)

// ContractKeyLocator returns the locator of the key a party uses in every
// contract it joins.
func ContractKeyLocator() KeyLocator {
	return KeyLocator{
		ProtocolID:   ContractProtocol,
		KeyID:        "1",
		Counterparty: fn.None[*btcec.PublicKey](),
	}
}

// DeriveContractKey derives the contract key of a wallet.
func DeriveContractKey(ctx context.Context,
	w WalletController) (covenant.PubKey, error) {

	pub, err := w.DeriveKey(ctx, ContractKeyLocator())
	if err != nil {
		return covenant.PubKey{}, fmt.Errorf("unable to derive "+
			"contract key: %w", err)
	}

	return covenant.NewPubKey(pub), nil
}

// String returns the locator in protocol-key-counterparty form.
func (l KeyLocator) String() string {
	counterparty := "self"
	l.Counterparty.WhenSome(func(k *btcec.PublicKey) {
		counterparty = covenant.NewPubKey(k).String()
	})

	return fmt.Sprintf("%s/%s/%s", l.ProtocolID, l.KeyID, counterparty)
}
