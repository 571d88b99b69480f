// Package rawdb implements the on-disk key/value schema backing the Block
// Index Store (spec §4.1, §6.2): every BlockIndex record plus the active
// chain tip hash, so a restart can repopulate the in-memory arena without
// re-syncing headers from peers.
//
// Grounded on the teacher's core/rawdb/accessors_chain.go key-prefix
// convention (short ASCII prefix + raw key, rlp-encoded values) and its use
// of github.com/ethereum/go-ethereum/ethdb as the storage interface.
package rawdb

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/alpha-project/alphad/core/types"
)

var (
	blockIndexPrefix = []byte("b") // blockIndexPrefix + hash -> rlp(blockIndexRecord)
	activeTipKey     = []byte("alpha-active-tip")
	cleanShutdownKey = []byte("alpha-shutdown-marker")
)

func blockIndexKey(hash common.Hash) []byte {
	return append(append([]byte{}, blockIndexPrefix...), hash.Bytes()...)
}

// blockIndexRecord is the RLP-encodable persisted form of a types.BlockIndex.
// The Header is stored via its canonical 100-byte wire encoding rather than
// as separate RLP fields, so the on-disk format matches the wire format
// byte-for-byte (spec §6.2 "round-trip invariant").
type blockIndexRecord struct {
	HeaderBytes []byte
	ParentHash  common.Hash
	Height      int32
	ChainWork   *uint256.Int
	Status      uint8
	SequenceID  uint32
}

// WriteBlockIndex persists a single BlockIndex record, keyed by its hash.
func WriteBlockIndex(db ethdb.KeyValueWriter, bi *types.BlockIndex) error {
	var parentHash common.Hash
	if bi.Parent != nil {
		parentHash = bi.Parent.Hash
	}
	rec := blockIndexRecord{
		HeaderBytes: bi.Header.Bytes(),
		ParentHash:  parentHash,
		Height:      bi.Height,
		ChainWork:   bi.ChainWork,
		Status:      uint8(bi.Status),
		SequenceID:  bi.SequenceID,
	}
	data, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	return db.Put(blockIndexKey(bi.Hash), data)
}

// DecodedBlockIndex is a flattened, not-yet-linked BlockIndex record read
// back from disk: Parent is nil here because parent pointers are re-derived
// by height order at load time (spec §4.1's arena has no stable on-disk
// pointer representation; only hashes are persisted).
type DecodedBlockIndex struct {
	Hash       common.Hash
	ParentHash common.Hash
	Header     *types.Header
	Height     int32
	ChainWork  *uint256.Int
	Status     types.BlockStatus
	SequenceID uint32
}

// ReadAllBlockIndexes iterates every persisted BlockIndex record. The caller
// is responsible for re-linking Parent pointers (by ParentHash) and for
// rebuilding the height-indexed active chain, since neither survives RLP
// encoding directly.
func ReadAllBlockIndexes(db ethdb.Iteratee) ([]*DecodedBlockIndex, error) {
	it := db.NewIterator(blockIndexPrefix, nil)
	defer it.Release()

	var out []*DecodedBlockIndex
	for it.Next() {
		hash := common.BytesToHash(it.Key()[len(blockIndexPrefix):])
		var rec blockIndexRecord
		if err := rlp.DecodeBytes(it.Value(), &rec); err != nil {
			return nil, err
		}
		header, err := types.DecodeHeader(rec.HeaderBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, &DecodedBlockIndex{
			Hash:       hash,
			ParentHash: rec.ParentHash,
			Header:     header,
			Height:     rec.Height,
			ChainWork:  rec.ChainWork,
			Status:     types.BlockStatus(rec.Status),
			SequenceID: rec.SequenceID,
		})
	}
	return out, it.Error()
}

// WriteActiveTip records the active-chain tip's hash, so a restart knows
// which persisted BlockIndex to reconstruct the ActiveChain vector from.
func WriteActiveTip(db ethdb.KeyValueWriter, hash common.Hash) error {
	return db.Put(activeTipKey, hash.Bytes())
}

// ReadActiveTip returns the persisted active-chain tip hash, if any.
func ReadActiveTip(db ethdb.KeyValueReader) (common.Hash, bool) {
	data, err := db.Get(activeTipKey)
	if err != nil || len(data) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(data), true
}

// WriteCleanShutdownMarker and DeleteCleanShutdownMarker bracket an orderly
// shutdown: the marker is deleted at startup and rewritten just before the
// process exits, so a missing marker at the next startup indicates a prior
// crash (spec §6.2 "shutdown tracker").
func WriteCleanShutdownMarker(db ethdb.KeyValueWriter) {
	if err := db.Put(cleanShutdownKey, []byte{1}); err != nil {
		log.Warn("failed to write clean-shutdown marker", "err", err)
	}
}

func DeleteCleanShutdownMarker(db ethdb.KeyValueWriter) {
	if err := db.Delete(cleanShutdownKey); err != nil {
		log.Warn("failed to clear clean-shutdown marker", "err", err)
	}
}

// HadCleanShutdown reports whether the marker written by
// WriteCleanShutdownMarker was present, meaning the previous process exited
// normally rather than crashing mid-write.
func HadCleanShutdown(db ethdb.KeyValueReader) bool {
	ok, _ := db.Has(cleanShutdownKey)
	return ok
}
