package contractdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// DefaultFileName is the name of the database file.
	DefaultFileName = "contracts.db"

	// outPointLen is the length of a serialized outpoint key.
	outPointLen = chainhash.HashSize + 4
)

var (
	// trackedBucket holds every tracked contract keyed by its current
	// outpoint.
	trackedBucket = []byte("tracked-contracts")

	// ErrNotTracked is returned when a contract isn't in the database.
	ErrNotTracked = errors.New("contract not tracked")
)

// Contract is a contract output a party follows.
type Contract struct {
	// OutPoint is the output currently carrying the contract.
	OutPoint wire.OutPoint

	// Role is the part the party plays in the contract.
	Role covenant.Role

	// Status is the last status seen for the contract.
	Status covenant.Status

	// Value is the amount the output carries.
	Value btcutil.Amount

	// Label is a free text note for the party's own use.
	Label string
}

// Terminal reports whether the contract reached a state it can't leave.
func (c *Contract) Terminal() bool {
	return c.Status == covenant.StatusResolved
}

func (c *Contract) encode() ([]byte, error) {
	var (
		role   = uint8(c.Role)
		status = uint8(c.Status)
		value  = uint64(c.Value)
		label  = []byte(c.Label)
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(0, &role),
		tlv.MakePrimitiveRecord(1, &status),
		tlv.MakePrimitiveRecord(2, &value),
		tlv.MakePrimitiveRecord(3, &label),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func decodeContract(k, v []byte) (*Contract, error) {
	if len(k) != outPointLen {
		return nil, fmt.Errorf("invalid key length %d", len(k))
	}

	var (
		c      Contract
		role   uint8
		status uint8
		value  uint64
		label  []byte
	)
	copy(c.OutPoint.Hash[:], k[:chainhash.HashSize])
	c.OutPoint.Index = binary.BigEndian.Uint32(k[chainhash.HashSize:])

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(0, &role),
		tlv.MakePrimitiveRecord(1, &status),
		tlv.MakePrimitiveRecord(2, &value),
		tlv.MakePrimitiveRecord(3, &label),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, err
	}

	c.Role = covenant.Role(role)
	c.Status = covenant.Status(status)
	c.Value = btcutil.Amount(value)
	c.Label = string(label)

	return &c, nil
}

func outPointKey(op wire.OutPoint) []byte {
	var k [outPointLen]byte
	copy(k[:], op.Hash[:])
	binary.BigEndian.PutUint32(k[chainhash.HashSize:], op.Index)

	return k[:]
}

// DB persists the contracts a party tracks.
type DB struct {
	backend kvdb.Backend
}

// Open opens or creates the database in dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	backend, err := kvdb.Create(
		kvdb.BoltBackendName, filepath.Join(dir, DefaultFileName),
		true, kvdb.DefaultDBTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open contract db: %w", err)
	}

	err = kvdb.Update(backend, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(trackedBucket)
		return err
	}, func() {})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return &DB{backend: backend}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.backend.Close()
}

// Track starts following c, replacing any entry for the same outpoint.
func (d *DB) Track(c *Contract) error {
	return kvdb.Update(d.backend, func(tx kvdb.RwTx) error {
		return put(tx, c)
	}, func() {})
}

func put(tx kvdb.RwTx, c *Contract) error {
	v, err := c.encode()
	if err != nil {
		return err
	}

	bucket := tx.ReadWriteBucket(trackedBucket)
	if bucket == nil {
		return kvdb.ErrBucketNotFound
	}

	return bucket.Put(outPointKey(c.OutPoint), v)
}

// Advance records that the contract at prev moved to next. A terminal
// next contract is dropped instead.
func (d *DB) Advance(prev wire.OutPoint, next *Contract) error {
	return kvdb.Update(d.backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(trackedBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		k := outPointKey(prev)
		if bucket.Get(k) == nil {
			return fmt.Errorf("%w: %v", ErrNotTracked, prev)
		}
		if err := bucket.Delete(k); err != nil {
			return err
		}

		if next.Terminal() {
			log.Debugf("Contract %v resolved, no longer tracked",
				prev)

			return nil
		}

		return put(tx, next)
	}, func() {})
}

// Untrack stops following the contract at op.
func (d *DB) Untrack(op wire.OutPoint) error {
	return kvdb.Update(d.backend, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(trackedBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		k := outPointKey(op)
		if bucket.Get(k) == nil {
			return fmt.Errorf("%w: %v", ErrNotTracked, op)
		}

		return bucket.Delete(k)
	}, func() {})
}

// Get returns the contract tracked at op.
func (d *DB) Get(op wire.OutPoint) (*Contract, error) {
	var c *Contract
	err := kvdb.View(d.backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(trackedBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		v := bucket.Get(outPointKey(op))
		if v == nil {
			return fmt.Errorf("%w: %v", ErrNotTracked, op)
		}

		var err error
		c, err = decodeContract(outPointKey(op), v)

		return err
	}, func() {
		c = nil
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// List returns every tracked contract ordered by outpoint.
func (d *DB) List() ([]*Contract, error) {
	var contracts []*Contract
	err := kvdb.View(d.backend, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(trackedBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		return bucket.ForEach(func(k, v []byte) error {
			c, err := decodeContract(k, v)
			if err != nil {
				return err
			}
			contracts = append(contracts, c)

			return nil
		})
	}, func() {
		contracts = nil
	})
	if err != nil {
		return nil, err
	}

	return contracts, nil
}
