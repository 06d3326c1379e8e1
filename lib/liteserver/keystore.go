package liteserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/xssnick/tonutils-go/ton"
	bolt "go.etcd.io/bbolt"

	apperrors "github.com/tonpool/tonpool/lib/errors"
	"github.com/tonpool/tonpool/lib/netconfig"
)

// StateFile is the name of the database kept in each slot's keystore.
const StateFile = "state.db"

var (
	bucketState  = []byte("state")
	keyClientKey = []byte("client_key")
	keyLastBlock = []byte("last_block")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BlockRecord is a verified masterchain block remembered across restarts.
type BlockRecord struct {
	Workchain int32     `json:"workchain"`
	Shard     int64     `json:"shard"`
	Seqno     uint32    `json:"seqno"`
	RootHash  []byte    `json:"root_hash"`
	FileHash  []byte    `json:"file_hash"`
	Server    string    `json:"server"`
	SavedAt   time.Time `json:"saved_at"`
}

func recordOf(b *ton.BlockIDExt, server string, at time.Time) BlockRecord {
	return BlockRecord{
		Workchain: b.Workchain,
		Shard:     b.Shard,
		Seqno:     b.SeqNo,
		RootHash:  b.RootHash,
		FileHash:  b.FileHash,
		Server:    server,
		SavedAt:   at,
	}
}

// BlockID converts the record back to a block id.
func (r BlockRecord) BlockID() *ton.BlockIDExt {
	return &ton.BlockIDExt{
		Workchain: r.Workchain,
		Shard:     r.Shard,
		SeqNo:     r.Seqno,
		RootHash:  r.RootHash,
		FileHash:  r.FileHash,
	}
}

// Checkpoint converts the record to the config's checkpoint form.
func (r BlockRecord) Checkpoint() netconfig.Checkpoint {
	return netconfig.Checkpoint{
		Workchain: r.Workchain,
		Shard:     r.Shard,
		Seqno:     r.Seqno,
		RootHash:  base64.StdEncoding.EncodeToString(r.RootHash),
		FileHash:  base64.StdEncoding.EncodeToString(r.FileHash),
	}
}

// Keystore is the on-disk state of one slot.
type Keystore struct {
	db   *bolt.DB
	path string
}

// OpenKeystore opens or creates the state database in dir.
func OpenKeystore(dir string) (*Keystore, error) {
	path := filepath.Join(dir, StateFile)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apperrors.Filesystem(fmt.Sprintf("fail to open keystore %s", path), err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, apperrors.Filesystem(fmt.Sprintf("fail to initialize keystore %s", path), err)
	}

	log.WithField("path", path).Debug("keystore opened")
	return &Keystore{db: db, path: path}, nil
}

// Path returns the database file path.
func (k *Keystore) Path() string {
	return k.path
}

// ClientKey returns the slot's ADNL client key, generating and storing one
// on first use.
func (k *Keystore) ClientKey() (ed25519.PrivateKey, error) {
	var key ed25519.PrivateKey
	err := k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if seed := b.Get(keyClientKey); len(seed) == ed25519.SeedSize {
			key = ed25519.NewKeyFromSeed(seed)
			return nil
		}

		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		key = priv
		return b.Put(keyClientKey, priv.Seed())
	})
	if err != nil {
		return nil, apperrors.Filesystem("fail to load client key", err)
	}
	return key, nil
}

// LastBlock returns the remembered block, or nil if none was saved.
func (k *Keystore) LastBlock() (*BlockRecord, error) {
	var rec *BlockRecord
	err := k.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get(keyLastBlock)
		if data == nil {
			return nil
		}
		rec = &BlockRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, apperrors.Filesystem("fail to read last block", err)
	}
	return rec, nil
}

// SaveBlock remembers rec unless a block with a higher or equal seqno is
// already stored. It reports whether rec was written.
func (k *Keystore) SaveBlock(rec BlockRecord) (bool, error) {
	saved := false
	err := k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if data := b.Get(keyLastBlock); data != nil {
			var prev BlockRecord
			if err := json.Unmarshal(data, &prev); err == nil && prev.Seqno >= rec.Seqno {
				return nil
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		saved = true
		return b.Put(keyLastBlock, data)
	})
	if err != nil {
		return false, apperrors.Filesystem("fail to save last block", err)
	}
	return saved, nil
}

// Close closes the database.
func (k *Keystore) Close() error {
	return k.db.Close()
}
