package chainstate

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alpha-project/alphad/core/types"
)

// candidateTipSet tracks BlockIndex handles that are leaves (no valid child)
// at VALID_TREE or better (spec §3 "Candidate tip set"). Selection orders by
// (chain_work desc, sequence_id asc) for a deterministic total order
// (spec §4.3 "best-chain selection").
//
// A priority queue keyed purely by chain_work cannot represent this set
// faithfully because membership changes are two-sided: a tip is removed the
// moment any other header names it as a parent (spec §3's "no forward
// pointers" invariant means that removal can't be discovered by peeking the
// queue head). The set is kept as a plain map instead and decided by a
// linear best-of scan, which is the same complexity profile Bitcoin Core's
// own std::set<CBlockIndex*, CBlockIndexWorkComparator> walk has for the
// number of live tips actually seen in practice (a handful, even under
// adversarial forking, since forks cost real PoW to grow).
type candidateTipSet struct {
	tips map[common.Hash]*types.BlockIndex
}

func newCandidateTipSet() *candidateTipSet {
	return &candidateTipSet{tips: make(map[common.Hash]*types.BlockIndex)}
}

func (c *candidateTipSet) add(bi *types.BlockIndex) {
	c.tips[bi.Hash] = bi
}

func (c *candidateTipSet) remove(bi *types.BlockIndex) {
	delete(c.tips, bi.Hash)
}

func (c *candidateTipSet) contains(hash common.Hash) bool {
	_, ok := c.tips[hash]
	return ok
}

// best returns the candidate with the greatest chain_work, breaking ties by
// smallest sequence_id (spec §3, §4.3).
func (c *candidateTipSet) best() *types.BlockIndex {
	var winner *types.BlockIndex
	for _, bi := range c.tips {
		if winner == nil || isBetterTip(bi, winner) {
			winner = bi
		}
	}
	return winner
}

func isBetterTip(a, b *types.BlockIndex) bool {
	cmp := a.ChainWork.Cmp(b.ChainWork)
	if cmp != 0 {
		return cmp > 0
	}
	return a.SequenceID < b.SequenceID
}
