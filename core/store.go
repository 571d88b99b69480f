// Package core implements the Block Index Store (spec §4.1): the owner of
// every known BlockIndex record and the height-indexed ActiveChain view.
package core

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/params"
)

const (
	headerCacheLimit = 4096
	lookupCacheLimit = 8192
)

// Store owns the set of all known BlockIndex records and their parent links.
// It is not itself safe for concurrent mutation: the Chainstate Manager
// serializes all writes under its validation_mutex (spec §4.1, §5), but
// lookups are safe to call concurrently with other lookups.
type Store struct {
	params *params.ConsensusParams

	mu      sync.RWMutex
	byHash  map[common.Hash]*types.BlockIndex
	genesis *types.BlockIndex

	// activeChain is a dense height-indexed vector [genesis, h1, ..., tip].
	activeChain []*types.BlockIndex

	nextSequenceID uint32

	// recent-header LRU purely for O(1)-ish repeated lookups; byHash remains
	// the authoritative map (matches the teacher's headerCache-over-rawdb
	// caching pattern in core/headerchain.go, here over an in-memory map
	// instead of a disk-backed database).
	recentHeaders *lru.Cache[common.Hash, *types.BlockIndex]
}

// NewStore creates a Store seeded with the network's genesis header.
func NewStore(p *params.ConsensusParams) *Store {
	s := &Store{
		params:        p,
		byHash:        make(map[common.Hash]*types.BlockIndex, 1<<16),
		recentHeaders: lru.NewCache[common.Hash, *types.BlockIndex](headerCacheLimit),
	}
	genesisHeader, err := types.DecodeHeader(p.GenesisHeaderBytes[:])
	if err != nil {
		log.Crit("invalid genesis header bytes", "err", err)
	}
	gi := &types.BlockIndex{
		Header:     genesisHeader,
		Hash:       genesisHeader.Hash(),
		Parent:     nil,
		Height:     0,
		ChainWork:  params.Work(genesisHeader.Bits),
		Status:     types.StatusValidTree,
		SequenceID: 0,
	}
	s.nextSequenceID = 1
	s.byHash[gi.Hash] = gi
	s.genesis = gi
	s.activeChain = []*types.BlockIndex{gi}
	return s
}

// Genesis returns the network's genesis BlockIndex.
func (s *Store) Genesis() *types.BlockIndex {
	return s.genesis
}

// Lookup returns the BlockIndex for a hash, if known.
func (s *Store) Lookup(hash common.Hash) (*types.BlockIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bi, ok := s.recentHeaders.Get(hash); ok {
		return bi, true
	}
	bi, ok := s.byHash[hash]
	return bi, ok
}

// InsertOrGet creates a new BlockIndex record for header if one is not
// already known for its hash, linking it to parent. It is idempotent: a
// second call for an already-known hash returns the existing handle
// unchanged (spec §4.1).
func (s *Store) InsertOrGet(header *types.Header, parent *types.BlockIndex) *types.BlockIndex {
	hash := header.Hash()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byHash[hash]; ok {
		return existing
	}

	var (
		height    int32
		chainWork *uint256.Int
	)
	if parent == nil {
		height = 0
		chainWork = params.Work(header.Bits)
	} else {
		height = parent.Height + 1
		chainWork = new(uint256.Int).Add(parent.ChainWork, params.Work(header.Bits))
	}

	bi := &types.BlockIndex{
		Header:     header.Copy(),
		Hash:       hash,
		Parent:     parent,
		Height:     height,
		ChainWork:  chainWork,
		Status:     types.StatusValidUnknown,
		SequenceID: s.nextSequenceID,
	}
	s.nextSequenceID++
	s.byHash[hash] = bi
	s.recentHeaders.Add(hash, bi)
	return bi
}

// MarkStatus sets bi's status bits (additively merging, since FAILED_* must
// be permanent and never cleared, spec §3 invariants).
func (s *Store) MarkStatus(bi *types.BlockIndex, status types.BlockStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bi.Status |= status
}

// ActiveChainTip returns the current best-chain tip.
func (s *Store) ActiveChainTip() *types.BlockIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.activeChain) == 0 {
		return nil
	}
	return s.activeChain[len(s.activeChain)-1]
}

// ActiveChainAt returns the active-chain entry at the given height, if any.
func (s *Store) ActiveChainAt(height int32) (*types.BlockIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if height < 0 || int(height) >= len(s.activeChain) {
		return nil, false
	}
	return s.activeChain[height], true
}

// ActiveChainContains reports whether bi is on the currently active chain.
func (s *Store) ActiveChainContains(bi *types.BlockIndex) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bi == nil || int(bi.Height) >= len(s.activeChain) || bi.Height < 0 {
		return false
	}
	return s.activeChain[bi.Height].Hash == bi.Hash
}

// DisconnectDepth returns how many blocks would be disconnected from the
// current tip if the chain were reorganized onto newTip, without mutating
// any state. Callers use this to apply the suspicious-reorg-depth safety
// policy (spec §4.3) before committing to SetTip.
func (s *Store) DisconnectDepth(newTip *types.BlockIndex) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	oldTip := s.activeChain[len(s.activeChain)-1]
	a, b := oldTip, newTip
	depth := 0
	for a.Height > b.Height {
		depth++
		a = a.Parent
	}
	for b.Height > a.Height {
		b = b.Parent
	}
	for a.Hash != b.Hash {
		depth++
		a = a.Parent
		b = b.Parent
	}
	return depth
}

// SetTip rebuilds the height-indexed ActiveChain vector by walking back from
// newTip to the last common ancestor with the previous active chain, and
// forward again to newTip. It does not mutate any status bits (spec §4.1).
// Returns the list of disconnected and connected indexes, in the order a
// caller should emit block_disconnected / block_connected notifications
// (disconnected highest-to-lowest, then connected lowest-to-highest).
func (s *Store) SetTip(newTip *types.BlockIndex) (disconnected, connected []*types.BlockIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTip := s.activeChain[len(s.activeChain)-1]

	// Walk both chains up to a common height, then back together to the
	// fork point, collecting the sides that leave/enter the active chain.
	a, b := oldTip, newTip
	for a.Height > b.Height {
		disconnected = append(disconnected, a)
		a = a.Parent
	}
	var forwardRev []*types.BlockIndex
	for b.Height > a.Height {
		forwardRev = append(forwardRev, b)
		b = b.Parent
	}
	for a.Hash != b.Hash {
		disconnected = append(disconnected, a)
		forwardRev = append(forwardRev, b)
		a = a.Parent
		b = b.Parent
	}
	for i := len(forwardRev) - 1; i >= 0; i-- {
		connected = append(connected, forwardRev[i])
	}

	fork := a // common ancestor
	chain := make([]*types.BlockIndex, fork.Height+1, newTip.Height+1)
	cursor := fork
	for h := fork.Height; h >= 0; h-- {
		chain[h] = cursor
		if cursor.Parent == nil {
			break
		}
		cursor = cursor.Parent
	}
	chain = append(chain, forwardRevOrdered(forwardRev)...)
	s.activeChain = chain
	return disconnected, connected
}

func forwardRevOrdered(forwardRev []*types.BlockIndex) []*types.BlockIndex {
	out := make([]*types.BlockIndex, len(forwardRev))
	for i, bi := range forwardRev {
		out[len(forwardRev)-1-i] = bi
	}
	return out
}

// Len returns the number of known BlockIndex records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}
