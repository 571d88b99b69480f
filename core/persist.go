package core

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/alpha-project/alphad/core/rawdb"
	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/params"
)

// Persist writes every known BlockIndex plus the active tip hash to db
// (spec §6.2). Called periodically and at shutdown.
func (s *Store) Persist(db ethdb.KeyValueWriter) error {
	s.mu.RLock()
	records := make([]*types.BlockIndex, 0, len(s.byHash))
	for _, bi := range s.byHash {
		records = append(records, bi)
	}
	tip := s.activeChain[len(s.activeChain)-1]
	s.mu.RUnlock()

	for _, bi := range records {
		if err := rawdb.WriteBlockIndex(db, bi); err != nil {
			return fmt.Errorf("persist block index %s: %w", bi.Hash, err)
		}
	}
	return rawdb.WriteActiveTip(db, tip.Hash)
}

// LoadStore reconstructs a Store from persisted records, re-linking Parent
// pointers by processing records in height order (parents always precede
// children once sorted, since height is monotonic along any chain) and
// rebuilding the ActiveChain vector from the persisted tip hash. If db has
// no persisted records, it returns a fresh genesis-only Store.
func LoadStore(p *params.ConsensusParams, db ethdb.Database) (*Store, error) {
	s := NewStore(p)

	records, err := rawdb.ReadAllBlockIndexes(db)
	if err != nil {
		return nil, fmt.Errorf("read block indexes: %w", err)
	}
	if len(records) == 0 {
		return s, nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Height < records[j].Height })

	s.mu.Lock()
	byHash := make(map[common.Hash]*types.BlockIndex, len(records)+1)
	byHash[s.genesis.Hash] = s.genesis
	maxSeq := s.nextSequenceID
	for _, rec := range records {
		if rec.Hash == s.genesis.Hash {
			continue // genesis is synthesized fresh, not re-linked from disk
		}
		parent := byHash[rec.ParentHash]
		bi := &types.BlockIndex{
			Header:     rec.Header,
			Hash:       rec.Hash,
			Parent:     parent,
			Height:     rec.Height,
			ChainWork:  orZero(rec.ChainWork),
			Status:     rec.Status,
			SequenceID: rec.SequenceID,
		}
		byHash[rec.Hash] = bi
		if rec.SequenceID >= maxSeq {
			maxSeq = rec.SequenceID + 1
		}
	}
	s.byHash = byHash
	s.nextSequenceID = maxSeq
	s.mu.Unlock()

	tipHash, ok := rawdb.ReadActiveTip(db)
	if !ok {
		log.Warn("no persisted active tip found, starting from genesis")
		return s, nil
	}
	tip, ok := s.Lookup(tipHash)
	if !ok {
		return nil, fmt.Errorf("persisted active tip %s not found among loaded block indexes", tipHash)
	}
	s.SetTip(tip)
	return s, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
