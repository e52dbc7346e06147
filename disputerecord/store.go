package disputerecord

import (
	"context"
	"errors"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn"
)

const (
	// DefaultBasket is the wallet basket records are kept in.
	DefaultBasket = "escrow disputes"

	// RecordValue is the amount locked in a keyed record output.
	RecordValue = 1
)

// KeyLocator returns the locator of the key locking the record of a
// dispute over the contract created by contractTxID.
func KeyLocator(contractTxID string) escrowwallet.KeyLocator {
	return escrowwallet.KeyLocator{
		ProtocolID:   escrowwallet.DisputeRecordProtocol,
		KeyID:        contractTxID,
		Counterparty: fn.None[*btcec.PublicKey](),
	}
}

// Store writes and reads the dispute records a party keeps in its wallet.
type Store struct {
	wallet escrowwallet.WalletController
	basket string
}

// NewStore creates a store over the given wallet basket.
func NewStore(w escrowwallet.WalletController, basket string) *Store {
	if basket == "" {
		basket = DefaultBasket
	}

	return &Store{wallet: w, basket: basket}
}

// Write publishes rec as a keyed record and returns the transaction that
// carries it.
func (s *Store) Write(ctx context.Context, rec *Record) (*wire.MsgTx,
	error) {

	doc, err := rec.Encode()
	if err != nil {
		return nil, err
	}

	pub, err := s.wallet.DeriveKey(ctx, KeyLocator(rec.ContractTxID))
	if err != nil {
		return nil, fmt.Errorf("unable to derive record key: %w", err)
	}

	script, err := KeyedScript(
		covenant.NewPubKey(pub), []byte(rec.ContractTxID), doc,
	)
	if err != nil {
		return nil, err
	}

	return s.publish(ctx, wire.NewTxOut(RecordValue, script), rec)
}

// WriteLegacy publishes rec in the legacy unspendable format.
func (s *Store) WriteLegacy(ctx context.Context, rec *Record) (*wire.MsgTx,
	error) {

	doc, err := rec.Encode()
	if err != nil {
		return nil, err
	}

	script, err := LegacyScript(doc)
	if err != nil {
		return nil, err
	}

	return s.publish(ctx, wire.NewTxOut(0, script), rec)
}

func (s *Store) publish(ctx context.Context, txOut *wire.TxOut,
	rec *Record) (*wire.MsgTx, error) {

	packet, err := s.wallet.DraftTransaction(
		ctx, &escrowwallet.DraftRequest{
			Outputs: []escrowwallet.Output{{
				TxOut:  txOut,
				Basket: s.basket,
			}},
			Description: "record dispute over " +
				rec.ContractTxID,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to draft record: %w", err)
	}

	tx, err := s.wallet.FinalizeAndSign(ctx, packet, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to sign record: %w", err)
	}

	if err := s.wallet.Broadcast(ctx, tx); err != nil {
		return nil, fmt.Errorf("unable to broadcast record: %w", err)
	}

	log.Infof("Recorded dispute over contract %v in tx %v",
		rec.ContractTxID, tx.TxHash())

	return tx, nil
}

// Records returns every record in the basket involving owner. Keyed
// records must be locked to the key the wallet derives for them. Legacy
// records carry no key and are filtered by the parties they name. Outputs
// that fail to decode are skipped, and a wallet that can't list the basket
// yields no records.
func (s *Store) Records(ctx context.Context,
	owner covenant.PubKey) ([]*Record, error) {

	outputs, err := s.wallet.ListOutputs(ctx, s.basket, nil)
	if err != nil {
		log.Warnf("Unable to list basket %q, treating as empty: %v",
			s.basket, err)

		return nil, nil
	}

	var records []*Record
	for _, out := range outputs {
		rec, err := s.decode(ctx, out.TxOut.PkScript, owner)
		if err != nil {
			log.Debugf("Skipping output %v: %v", out.OutPoint, err)
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

func (s *Store) decode(ctx context.Context, script []byte,
	owner covenant.PubKey) (*Record, error) {

	key, keyID, doc, err := ParseKeyed(script)
	if err == nil {
		rec, err := Decode(doc)
		if err != nil {
			return nil, err
		}
		if rec.ContractTxID != string(keyID) {
			return nil, fmt.Errorf("record keyed to %q describes "+
				"contract %v", keyID, rec.ContractTxID)
		}

		pub, err := s.wallet.DeriveKey(ctx, KeyLocator(string(keyID)))
		if err != nil {
			return nil, err
		}
		if covenant.NewPubKey(pub) != key {
			return nil, errors.New("record not locked to our key")
		}

		return rec, nil
	}

	doc, err = ParseLegacy(script)
	if err != nil {
		return nil, err
	}

	rec, err := Decode(doc)
	if err != nil {
		return nil, err
	}
	if !rec.Involves(owner) {
		return nil, fmt.Errorf("legacy record doesn't involve %v",
			owner)
	}

	return rec, nil
}
