// Package netconfig reads and patches TON global network config documents.
//
// A document is kept in two forms: a generic tree that is written back on
// Serialize, so fields this package does not know about survive a round trip,
// and a typed liteclient.GlobalConfig view used to read lite-servers and the
// validator init block.
package netconfig

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/xssnick/tonutils-go/liteclient"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

// UseNumber keeps 64-bit shard ids exact through the generic tree.
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Checkpoint is a trusted block used to bootstrap trust in the network
// without replaying its history. Hashes are base64, as in the config file.
type Checkpoint struct {
	Workchain int32  `json:"workchain"`
	Shard     int64  `json:"shard"`
	Seqno     uint32 `json:"seqno"`
	RootHash  string `json:"root_hash"`
	FileHash  string `json:"file_hash"`
}

// String formats the checkpoint the way lite-client tools print block ids.
func (c Checkpoint) String() string {
	return fmt.Sprintf("(%d,%x,%d):%s:%s", c.Workchain, uint64(c.Shard), c.Seqno, c.RootHash, c.FileHash)
}

// Liteserver is a bootstrap node entry from the config.
type Liteserver struct {
	// Addr is host:port
	Addr string
	// Key is the server's base64 ed25519 public key
	Key string
}

// Config is a parsed network config document.
type Config struct {
	doc    map[string]any
	global liteclient.GlobalConfig
}

// Parse parses a network config document.
func Parse(document string) (*Config, error) {
	var doc map[string]any
	if err := json.UnmarshalFromString(document, &doc); err != nil {
		return nil, apperrors.Configuration("fail to parse config", err)
	}
	if doc == nil {
		return nil, apperrors.Configuration("fail to parse config", fmt.Errorf("document is not a JSON object"))
	}

	c := &Config{doc: doc}
	if err := json.UnmarshalFromString(document, &c.global); err != nil {
		return nil, apperrors.Configuration("fail to parse config", err)
	}

	log.WithField("liteservers", len(c.global.Liteservers)).
		WithField("init_block_seqno", c.global.Validator.InitBlock.SeqNo).
		Debug("parsed network config")
	return c, nil
}

// Global returns the typed view of the document.
func (c *Config) Global() *liteclient.GlobalConfig {
	return &c.global
}

// Checkpoint returns the validator init block embedded in the document.
// A document without one yields the zero checkpoint.
func (c *Config) Checkpoint() Checkpoint {
	ib := c.global.Validator.InitBlock
	return Checkpoint{
		Workchain: ib.Workchain,
		Shard:     ib.Shard,
		Seqno:     ib.SeqNo,
		RootHash:  base64.StdEncoding.EncodeToString(ib.RootHash),
		FileHash:  base64.StdEncoding.EncodeToString(ib.FileHash),
	}
}

// SetCheckpoint replaces the validator init block. The document is left
// untouched when a hash is not valid base64.
func (c *Config) SetCheckpoint(cp Checkpoint) error {
	rootHash, err := base64.StdEncoding.DecodeString(cp.RootHash)
	if err != nil {
		return apperrors.Configuration("invalid checkpoint root hash", err)
	}
	fileHash, err := base64.StdEncoding.DecodeString(cp.FileHash)
	if err != nil {
		return apperrors.Configuration("invalid checkpoint file hash", err)
	}

	// Parse rejects non-object validators, so a miss here means absent.
	validator, ok := c.doc["validator"].(map[string]any)
	if !ok {
		validator = map[string]any{"@type": "validator.config.global"}
		c.doc["validator"] = validator
	}

	validator["init_block"] = map[string]any{
		"workchain": jsoniter.Number(strconv.FormatInt(int64(cp.Workchain), 10)),
		"shard":     jsoniter.Number(strconv.FormatInt(cp.Shard, 10)),
		"seqno":     jsoniter.Number(strconv.FormatUint(uint64(cp.Seqno), 10)),
		"root_hash": cp.RootHash,
		"file_hash": cp.FileHash,
	}

	c.global.Validator.InitBlock = liteclient.ConfigBlock{
		Workchain: cp.Workchain,
		Shard:     cp.Shard,
		SeqNo:     cp.Seqno,
		RootHash:  rootHash,
		FileHash:  fileHash,
	}
	return nil
}

// Serialize renders the document, including any patched fields.
func (c *Config) Serialize() (string, error) {
	out, err := json.MarshalToString(c.doc)
	if err != nil {
		return "", apperrors.Configuration("fail to serialize config", err)
	}
	return out, nil
}

// Liteservers returns the bootstrap node list.
func (c *Config) Liteservers() []Liteserver {
	servers := make([]Liteserver, 0, len(c.global.Liteservers))
	for _, ls := range c.global.Liteservers {
		servers = append(servers, Liteserver{
			Addr: net.JoinHostPort(ipString(ls.IP), strconv.Itoa(ls.Port)),
			Key:  ls.ID.Key,
		})
	}
	return servers
}

// ipString converts the signed 32-bit integer form used by TON configs.
func ipString(ip int64) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(ip))
	return net.IP(b[:]).String()
}
