// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package bolt is an embedded archivist backed by a bbolt database file.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"decred.org/nftdex/dex"
	"decred.org/nftdex/dex/order"
	"decred.org/nftdex/server/db"
	"go.etcd.io/bbolt"
)

// DriverName is the name the driver is registered under.
const DriverName = "bolt"

// Bolt works on []byte keys and values. These are some commonly used key and
// value encodings.
var (
	appBucket         = []byte("appBucket")
	activeBucket      = []byte("active")
	archivedBucket    = []byte("archived")
	settlementsBucket = []byte("settlements")
	accrualsBucket    = []byte("accruals")
	versionKey        = []byte("version")
	nonceKey          = []byte("nonce")
	seqKey            = []byte("seq")
	orderKey          = []byte("order")
)

const dbVersion = 1

// Driver implements db.Driver.
type Driver struct{}

// Open creates the BoltDB. cfg must be a *Config or Config.
func (d *Driver) Open(_ context.Context, cfg interface{}) (db.Archivist, error) {
	switch c := cfg.(type) {
	case *Config:
		return NewDB(c.Path)
	case Config:
		return NewDB(c.Path)
	default:
		return nil, fmt.Errorf("invalid config type %T", cfg)
	}
}

// UseLogger sets the package logger.
func (d *Driver) UseLogger(logger dex.Logger) {
	UseLogger(logger)
}

func init() {
	db.Register(DriverName, &Driver{})
}

// Config is the BoltDB configuration.
type Config struct {
	Path string
}

// BoltDB is a bbolt-based archivist.
type BoltDB struct {
	*bbolt.DB
}

var _ db.Archivist = (*BoltDB)(nil)

// NewDB is a constructor for a *BoltDB.
func NewDB(dbPath string) (*BoltDB, error) {
	bdb, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	boltDB := &BoltDB{
		DB: bdb,
	}
	err = boltDB.makeTopLevelBuckets([][]byte{appBucket, activeBucket,
		archivedBucket, settlementsBucket, accrualsBucket})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	if err = boltDB.checkVersion(); err != nil {
		bdb.Close()
		return nil, err
	}
	return boltDB, nil
}

func (bdb *BoltDB) checkVersion() error {
	return bdb.Update(func(tx *bbolt.Tx) error {
		app := tx.Bucket(appBucket)
		v := app.Get(versionKey)
		if v == nil {
			log.Infof("Initializing archive at version %d", dbVersion)
			return app.Put(versionKey, uint32Bytes(dbVersion))
		}
		if ver := binary.BigEndian.Uint32(v); ver != dbVersion {
			return fmt.Errorf("unknown archive version %d, expected %d", ver, dbVersion)
		}
		return nil
	})
}

// Apply stores the batch in a single bbolt transaction.
func (bdb *BoltDB) Apply(_ context.Context, b *db.Batch) error {
	return bdb.Update(func(tx *bbolt.Tx) error {
		active, archived := tx.Bucket(activeBucket), tx.Bucket(archivedBucket)
		for _, rec := range b.Orders {
			if err := storeOrder(active, archived, rec); err != nil {
				return err
			}
		}
		sets := tx.Bucket(settlementsBucket)
		for _, s := range b.Settlements {
			v, err := json.Marshal(s)
			if err != nil {
				return err
			}
			if err = sets.Put(settlementKey(s), v); err != nil {
				return err
			}
		}
		accruals := tx.Bucket(accrualsBucket)
		for currency, amt := range b.Accruals {
			if err := accruals.Put(currency[:], uint64Bytes(amt)); err != nil {
				return err
			}
		}
		app := tx.Bucket(appBucket)
		if cur := app.Get(nonceKey); cur == nil || binary.BigEndian.Uint64(cur) < b.Nonce {
			return app.Put(nonceKey, uint64Bytes(b.Nonce))
		}
		return nil
	})
}

// storeOrder writes the record to the active bucket, or moves it to the
// archived bucket if its status is terminal.
func storeOrder(active, archived *bbolt.Bucket, rec *db.OrderRecord) error {
	if _, err := rec.Order(); err != nil {
		return err
	}
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	oid := rec.ID
	if rec.Status != order.OrderStatusActive {
		if active.Bucket(oid[:]) != nil {
			if err = active.DeleteBucket(oid[:]); err != nil {
				return fmt.Errorf("error deleting active order %s: %w", oid, err)
			}
		}
		return archived.Put(oid[:], v)
	}
	oBkt := active.Bucket(oid[:])
	if oBkt == nil {
		if oBkt, err = active.CreateBucket(oid[:]); err != nil {
			return fmt.Errorf("order bucket error: %w", err)
		}
		seq, err := active.NextSequence()
		if err != nil {
			return err
		}
		if err = oBkt.Put(seqKey, uint64Bytes(seq)); err != nil {
			return err
		}
	}
	return oBkt.Put(orderKey, v)
}

// LoadState retrieves the active orders in insertion order, the accruals and
// the nonce.
func (bdb *BoltDB) LoadState(_ context.Context) (*db.State, error) {
	st := &db.State{
		Accruals: make(map[dex.Address]uint64),
	}
	return st, bdb.View(func(tx *bbolt.Tx) error {
		type seqOrder struct {
			seq uint64
			ord order.Order
		}
		var ords []*seqOrder
		err := tx.Bucket(activeBucket).ForEachBucket(func(k []byte) error {
			oBkt := tx.Bucket(activeBucket).Bucket(k)
			var rec db.OrderRecord
			if err := json.Unmarshal(oBkt.Get(orderKey), &rec); err != nil {
				return db.ArchiveError{Code: db.ErrInvalidOrder, Detail: fmt.Sprintf("%x: %v", k, err)}
			}
			ord, err := rec.Order()
			if err != nil {
				return err
			}
			ords = append(ords, &seqOrder{binary.BigEndian.Uint64(oBkt.Get(seqKey)), ord})
			return nil
		})
		if err != nil {
			return err
		}
		sort.Slice(ords, func(i, j int) bool { return ords[i].seq < ords[j].seq })
		for _, so := range ords {
			db.AddToState(st, so.ord)
		}

		err = tx.Bucket(accrualsBucket).ForEach(func(k, v []byte) error {
			var currency dex.Address
			copy(currency[:], k)
			st.Accruals[currency] = binary.BigEndian.Uint64(v)
			return nil
		})
		if err != nil {
			return err
		}

		if v := tx.Bucket(appBucket).Get(nonceKey); v != nil {
			st.Nonce = binary.BigEndian.Uint64(v)
		}
		return nil
	})
}

// Settlements retrieves settlement records, newest first.
func (bdb *BoltDB) Settlements(_ context.Context, filter *db.SettlementFilter) ([]*db.Settlement, error) {
	var sets []*db.Settlement
	err := bdb.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(settlementsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if filter != nil && filter.Limit > 0 && len(sets) >= filter.Limit {
				break
			}
			var s db.Settlement
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("error decoding settlement %x: %w", k, err)
			}
			if filter != nil && filter.OrderID != nil && s.OrderID != *filter.OrderID {
				continue
			}
			sets = append(sets, &s)
		}
		return nil
	})
	return sets, err
}

// OrderStatus retrieves the status of an active or archived order.
func (bdb *BoltDB) OrderStatus(oid order.OrderID) (order.OrderStatus, error) {
	status := order.OrderStatusUnknown
	err := bdb.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(activeBucket).Bucket(oid[:]) != nil {
			status = order.OrderStatusActive
			return nil
		}
		v := tx.Bucket(archivedBucket).Get(oid[:])
		if v == nil {
			return db.ArchiveError{Code: db.ErrUnknownOrder, Detail: oid.String()}
		}
		var rec db.OrderRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		status = rec.Status
		return nil
	})
	return status, err
}

// settlementKey sorts settlements by time.
func settlementKey(s *db.Settlement) []byte {
	k := make([]byte, 8+16)
	binary.BigEndian.PutUint64(k, uint64(s.Stamp.UnixNano()))
	copy(k[8:], s.ID[:])
	return k
}

// makeTopLevelBuckets creates a top-level bucket for each of the provided keys,
// if the bucket doesn't already exist.
func (bdb *BoltDB) makeTopLevelBuckets(buckets [][]byte) error {
	return bdb.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func uint32Bytes(i uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, i)
	return b
}

func uint64Bytes(i uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, i)
	return b
}
