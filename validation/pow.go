package validation

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/params"
)

// PowMode selects how much of the two-tier PoW check to run (spec §4.2).
type PowMode int

const (
	// CommitmentOnly checks only the cheap commitment hash against target.
	CommitmentOnly PowMode = iota
	// Full additionally invokes the RandomX VM and checks randomx_hash.
	Full
	// Mining computes both, for an external miner building a candidate.
	Mining
)

var (
	ErrBadTargetEncoding = errors.New("alpha: bad difficulty target encoding")
	ErrZeroRandomXHash   = errors.New("alpha: randomx_hash must be non-zero")
	ErrHighHash          = errors.New("alpha: commitment does not satisfy target")
	ErrBadRandomXHash    = errors.New("alpha: randomx hash mismatch")
)

// Engine bundles a RandomXEngine and the network's consensus parameters to
// provide the context-free and contextual checks of spec §4.2.
type Engine struct {
	Params   *params.ConsensusParams
	RandomX  RandomXEngine
}

// NewEngine builds a validation Engine for the given network.
func NewEngine(p *params.ConsensusParams, rx RandomXEngine) *Engine {
	return &Engine{Params: p, RandomX: rx}
}

// validTargetEncoding checks that bits decodes to a non-negative, non-zero
// target within the network's PoW limit (spec §4.2 check #1).
func (e *Engine) validTargetEncoding(bits uint32) bool {
	if bits&0x00800000 != 0 { // negative flag set
		return false
	}
	target := params.CompactToTarget(bits)
	if target.IsZero() {
		return false
	}
	limit := params.CompactToTarget(e.Params.PowLimitBits)
	return target.Cmp(limit) <= 0
}

// CheckBlockHeader runs the context-free checks of spec §4.2 step list,
// running RandomX FULL verification only when mode is Full or Mining.
func (e *Engine) CheckBlockHeader(h *types.Header, mode PowMode) error {
	if !e.validTargetEncoding(h.Bits) {
		return ErrBadTargetEncoding
	}
	if h.RandomXHash == (common.Hash{}) {
		return ErrZeroRandomXHash
	}
	if err := e.checkCommitment(h); err != nil {
		return err
	}
	if mode == Full || mode == Mining {
		if err := e.checkFullRandomX(h); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkCommitment(h *types.Header) error {
	target := params.CompactToTarget(h.Bits)
	vm := e.vmFor(h)
	commitment := vm.Commitment(h.BytesWithRandomXHashZeroed(), h.RandomXHash)
	commitmentInt := new(uint256.Int).SetBytes(commitment[:])
	if commitmentInt.Cmp(target) > 0 {
		return ErrHighHash
	}
	return nil
}

func (e *Engine) checkFullRandomX(h *types.Header) error {
	vm := e.vmFor(h)
	computed := vm.Hash(h.BytesWithRandomXHashZeroed())
	if computed != h.RandomXHash {
		return ErrBadRandomXHash
	}
	return nil
}

func (e *Engine) vmFor(h *types.Header) RandomXVM {
	epochIndex := h.EpochIndex(e.Params.RandomXEpochDuration)
	seed := params.EpochSeed(epochIndex)
	cache := e.RandomX.Cache(seed)
	return cache.VM()
}

// MakeCommitmentAndHash computes both the commitment and the full RandomX
// hash for a candidate header under construction (spec §4.2 MINING mode),
// used by an external miner before submitting a header through
// submit_header.
func (e *Engine) MakeCommitmentAndHash(h *types.Header) (randomXHash, commitment common.Hash) {
	epochIndex := h.EpochIndex(e.Params.RandomXEpochDuration)
	seed := params.EpochSeed(epochIndex)
	vm := e.RandomX.Cache(seed).VM()
	input := h.BytesWithRandomXHashZeroed()
	randomXHash = vm.Hash(input)
	commitment = vm.Commitment(input, randomXHash)
	return randomXHash, commitment
}

// CheckHeadersPoW runs COMMITMENT_ONLY on every element, failing fast on the
// first rejection (spec §4.2 batch helper; used for fast pre-filtering of
// peer batches before any expensive work is done).
func (e *Engine) CheckHeadersPoW(headers []*types.Header) error {
	for i, h := range headers {
		if err := e.CheckBlockHeader(h, CommitmentOnly); err != nil {
			return fmt.Errorf("header %d: %w", i, err)
		}
	}
	return nil
}

// CheckHeadersAreContinuous verifies headers[i].PrevHash == hash(headers[i-1])
// for all i>0 (spec §4.2 batch helper).
func CheckHeadersAreContinuous(headers []*types.Header) error {
	for i := 1; i < len(headers); i++ {
		if headers[i].PrevHash != headers[i-1].Hash() {
			return fmt.Errorf("alpha: non-continuous headers at index %d", i)
		}
	}
	return nil
}

// CalculateHeadersWork sums work(bits) across the batch (spec §4.2 batch
// helper).
func CalculateHeadersWork(headers []*types.Header) *uint256.Int {
	total := uint256.NewInt(0)
	for _, h := range headers {
		total.Add(total, params.Work(h.Bits))
	}
	return total
}

// GetAntiDoSWorkThreshold implements the CVE-2019-25220 protection of
// spec §4.2: during IBD any connecting header is accepted (threshold zero);
// otherwise headers must demonstrate work within AntiDoSBufferBlocks of the
// tip before the node commits memory to them.
func GetAntiDoSWorkThreshold(tip *types.BlockIndex, p *params.ConsensusParams, isIBD bool) *uint256.Int {
	if isIBD {
		return uint256.NewInt(0)
	}
	buffer := new(uint256.Int).Mul(params.Work(tip.Header.Bits), uint256.NewInt(p.AntiDoSBufferBlocks))
	threshold := new(uint256.Int)
	if tip.ChainWork.Cmp(buffer) > 0 {
		threshold.Sub(tip.ChainWork, buffer)
	} else {
		threshold.Clear()
	}
	if threshold.Cmp(p.MinChainWork) < 0 {
		return new(uint256.Int).Set(p.MinChainWork)
	}
	return threshold
}
