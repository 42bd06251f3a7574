package serverdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	bolt "go.etcd.io/bbolt"
)

var (
	agentsBucket   = []byte("agents")
	receiptsBucket = []byte("receipts")
)

// BoltDB is the bbolt-backed ServerDB. Agents are keyed by their raw
// 32-byte uid, receipts by big-endian tournament id.
type BoltDB struct {
	db *bolt.DB
}

var _ ServerDB = (*BoltDB)(nil)

// NewBoltDB opens (creating if needed) the database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(agentsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(receiptsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) SaveAgent(_ context.Context, rec *AgentRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal agent record: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(agentsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		return bkt.Put(rec.UID, blob)
	})
}

func (b *BoltDB) FetchAgent(_ context.Context, uid zkidentity.ShortID) (*AgentRecord, error) {
	var rec *AgentRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(agentsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		blob := bkt.Get(uid[:])
		if blob == nil {
			return ErrAgentNotFound
		}
		rec = new(AgentRecord)
		return json.Unmarshal(blob, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *BoltDB) FetchAllAgents(_ context.Context) ([]*AgentRecord, error) {
	var out []*AgentRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(agentsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		return bkt.ForEach(func(_, blob []byte) error {
			rec := new(AgentRecord)
			if err := json.Unmarshal(blob, rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func receiptKey(tournamentID uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], tournamentID)
	return key[:]
}

func (b *BoltDB) SaveReceipt(_ context.Context, rec *SettlementReceipt) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(receiptsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		key := receiptKey(rec.TournamentID)
		if bkt.Get(key) != nil {
			return ErrDuplicateReceipt
		}
		return bkt.Put(key, blob)
	})
}

func (b *BoltDB) FetchReceipt(_ context.Context, tournamentID uint64) (*SettlementReceipt, error) {
	var rec *SettlementReceipt
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(receiptsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		blob := bkt.Get(receiptKey(tournamentID))
		if blob == nil {
			return ErrReceiptNotFound
		}
		rec = new(SettlementReceipt)
		return json.Unmarshal(blob, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *BoltDB) FetchAllReceipts(_ context.Context) ([]*SettlementReceipt, error) {
	var out []*SettlementReceipt
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(receiptsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		return bkt.ForEach(func(_, blob []byte) error {
			rec := new(SettlementReceipt)
			if err := json.Unmarshal(blob, rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
