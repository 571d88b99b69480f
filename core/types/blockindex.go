package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BlockStatus is a bitfield describing how far a BlockIndex has progressed
// through validation (spec §3).
type BlockStatus uint8

const (
	StatusValidUnknown BlockStatus = 0
	StatusValidHeader   BlockStatus = 1 << 0 // PoW-checked
	StatusValidTree     BlockStatus = 1 << 1 // parent linked, contextual checks passed
	StatusFailedValid   BlockStatus = 1 << 2 // failed contextual/PoW
	StatusFailedChild   BlockStatus = 1 << 3 // descends from a failed block
)

// Failed reports whether this status is permanently disqualifying
// (FAILED_VALID or FAILED_CHILD, spec §3 invariants).
func (s BlockStatus) Failed() bool {
	return s&(StatusFailedValid|StatusFailedChild) != 0
}

// AtLeastTree reports whether the status has reached VALID_TREE or better.
func (s BlockStatus) AtLeastTree() bool {
	return s&StatusValidTree != 0 && !s.Failed()
}

// BlockIndex is the in-memory record associated with every known header
// (spec §3). Parent is a back-edge only; there are deliberately no forward
// (child) pointers. BlockIndex values are owned by the Block Index Store's
// arena for the lifetime of the process and are never freed, so a *BlockIndex
// handle stays valid as long as the store itself is alive (spec §4.1, §9).
type BlockIndex struct {
	Header     *Header
	Hash       common.Hash
	Parent     *BlockIndex
	Height     int32
	ChainWork  *uint256.Int
	Status     BlockStatus
	SequenceID uint32
}

// IsGenesis reports whether this index has no parent.
func (b *BlockIndex) IsGenesis() bool {
	return b.Parent == nil
}

// OrphanEntry is a header whose parent is not yet known to the Block Index
// Store (spec §3).
type OrphanEntry struct {
	Header       *Header
	Hash         common.Hash
	PeerID       uint64
	TimeReceived int64
}
