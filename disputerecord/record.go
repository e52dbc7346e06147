package disputerecord

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrMalformedRecord is returned when a document can't be decoded into a
// record.
var ErrMalformedRecord = errors.New("malformed dispute record")

// Record documents how a dispute over a contract was resolved.
type Record struct {
	// ContractTxID is the transaction that created the disputed
	// contract output.
	ContractTxID string `json:"contractTxid"`

	// ResolutionTxID is the transaction that resolved the dispute.
	ResolutionTxID string `json:"resolutionTxid"`

	SeekerKey    string `json:"seekerKey"`
	FurnisherKey string `json:"furnisherKey"`
	PlatformKey  string `json:"platformKey"`

	WorkDescription       string `json:"workDescription"`
	CompletionDescription string `json:"completionDescription,omitempty"`

	// DisputedBy is the role that raised the dispute.
	DisputedBy string `json:"disputedBy"`

	// ResolvedAt is the locktime of the resolution.
	ResolvedAt uint32 `json:"resolvedAt"`

	AmountForSeeker    int64 `json:"amountForSeeker"`
	AmountForFurnisher int64 `json:"amountForFurnisher"`
}

// NewRecord documents the resolution tx of the disputed contract inst.
func NewRecord(inst *covenant.Instance, tx *wire.MsgTx,
	p *covenant.ResolveDisputeParams) *Record {

	c := inst.Contract

	disputedBy := covenant.RoleSeeker
	if c.Status == covenant.StatusDisputedByFurnisher {
		disputedBy = covenant.RoleFurnisher
	}

	return &Record{
		ContractTxID:          inst.OutPoint.Hash.String(),
		ResolutionTxID:        tx.TxHash().String(),
		SeekerKey:             c.SeekerKey.String(),
		FurnisherKey:          c.AcceptedBid.FurnisherKey.String(),
		PlatformKey:           c.PlatformKey.String(),
		WorkDescription:       c.WorkDescription,
		CompletionDescription: c.WorkCompletionDescription,
		DisputedBy:            disputedBy.String(),
		ResolvedAt:            tx.LockTime,
		AmountForSeeker:       int64(p.AmountForSeeker),
		AmountForFurnisher:    int64(p.AmountForFurnisher),
	}
}

// Encode serializes the record as a JSON document.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Decode parses a JSON document into a record.
func Decode(doc []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	if _, err := chainhash.NewHashFromStr(r.ContractTxID); err != nil {
		return nil, fmt.Errorf("%w: contract txid: %v",
			ErrMalformedRecord, err)
	}
	for _, key := range []string{r.SeekerKey, r.PlatformKey} {
		if len(key) != 2*len(covenant.PubKey{}) {
			return nil, fmt.Errorf("%w: bad key %q",
				ErrMalformedRecord, key)
		}
		if _, err := hex.DecodeString(key); err != nil {
			return nil, fmt.Errorf("%w: bad key %q",
				ErrMalformedRecord, key)
		}
	}
	if r.AmountForSeeker < 0 || r.AmountForFurnisher < 0 {
		return nil, fmt.Errorf("%w: negative amount",
			ErrMalformedRecord)
	}

	return &r, nil
}

// Involves reports whether key is one of the record's parties.
func (r *Record) Involves(key covenant.PubKey) bool {
	k := key.String()

	return k == r.SeekerKey || k == r.FurnisherKey || k == r.PlatformKey
}

// Total returns the amount the resolution paid out.
func (r *Record) Total() btcutil.Amount {
	return btcutil.Amount(r.AmountForSeeker + r.AmountForFurnisher)
}
