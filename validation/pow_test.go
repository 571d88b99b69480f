package validation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/params"
)

func testParams() *params.ConsensusParams {
	return &params.ConsensusParams{
		NetworkName:          "regtest",
		PowLimitBits:         0x207fffff,
		RandomXEpochDuration: 1000,
		MinChainWork:         uint256.NewInt(0),
		MedianTimeSpan:       11,
		MinHeaderVersion:     1,
	}
}

func newEngine() *Engine {
	return NewEngine(testParams(), NewLRUCachingEngine(ReferenceEngine{}))
}

// mineValid brute-forces a nonce so the header satisfies its own target
// under the reference engine, for use as fixture data in other tests.
func mineValid(t *testing.T, e *Engine, h *types.Header) {
	t.Helper()
	target := params.CompactToTarget(h.Bits)
	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		hash, commitment := e.MakeCommitmentAndHash(h)
		if new(uint256.Int).SetBytes(commitment[:]).Cmp(target) <= 0 {
			h.RandomXHash = hash
			return
		}
		require.Less(t, nonce, uint32(1_000_000), "failed to mine a fixture header")
	}
}

func TestCheckBlockHeaderCommitmentOnly(t *testing.T) {
	e := newEngine()
	h := &types.Header{Version: 1, Bits: 0x207fffff, Time: 1}
	mineValid(t, e, h)

	require.NoError(t, e.CheckBlockHeader(h, CommitmentOnly))
	require.NoError(t, e.CheckBlockHeader(h, Full))
}

func TestCheckBlockHeaderRejectsZeroRandomXHash(t *testing.T) {
	e := newEngine()
	h := &types.Header{Version: 1, Bits: 0x207fffff, Time: 1}
	err := e.CheckBlockHeader(h, CommitmentOnly)
	require.ErrorIs(t, err, ErrZeroRandomXHash)
}

func TestCheckBlockHeaderRejectsBadTargetEncoding(t *testing.T) {
	e := newEngine()
	h := &types.Header{Version: 1, Bits: 0x01800000, RandomXHash: common.HexToHash("0x1")}
	err := e.CheckBlockHeader(h, CommitmentOnly)
	require.ErrorIs(t, err, ErrBadTargetEncoding)
}

func TestCheckBlockHeaderRejectsHighHash(t *testing.T) {
	e := newEngine()
	// An impossibly hard target virtually never satisfied by nonce 0.
	h := &types.Header{Version: 1, Bits: 0x03000001, Time: 1, RandomXHash: common.HexToHash("0x1")}
	err := e.CheckBlockHeader(h, CommitmentOnly)
	require.ErrorIs(t, err, ErrHighHash)
}

func TestCheckHeadersAreContinuous(t *testing.T) {
	e := newEngine()
	h0 := &types.Header{Version: 1, Bits: 0x207fffff, Time: 1}
	mineValid(t, e, h0)
	h1 := &types.Header{Version: 1, Bits: 0x207fffff, Time: 2, PrevHash: h0.Hash()}
	mineValid(t, e, h1)

	require.NoError(t, CheckHeadersAreContinuous([]*types.Header{h0, h1}))

	h1.PrevHash = common.Hash{}
	require.Error(t, CheckHeadersAreContinuous([]*types.Header{h0, h1}))
}

func TestCalculateHeadersWork(t *testing.T) {
	h0 := &types.Header{Bits: 0x207fffff}
	h1 := &types.Header{Bits: 0x207fffff}
	total := CalculateHeadersWork([]*types.Header{h0, h1})
	single := params.Work(0x207fffff)
	want := new(uint256.Int).Mul(single, uint256.NewInt(2))
	require.Equal(t, want.String(), total.String())
}

func TestGetAntiDoSWorkThresholdZeroDuringIBD(t *testing.T) {
	tip := &types.BlockIndex{ChainWork: uint256.NewInt(1_000_000)}
	p := testParams()
	p.AntiDoSBufferBlocks = 10
	threshold := GetAntiDoSWorkThreshold(tip, p, true)
	require.True(t, threshold.IsZero())
}

func TestGetAntiDoSWorkThresholdFloorsAtMinChainWork(t *testing.T) {
	tip := &types.BlockIndex{ChainWork: uint256.NewInt(5), Header: &types.Header{Bits: 0x207fffff}}
	p := testParams()
	p.AntiDoSBufferBlocks = 1000
	p.MinChainWork = uint256.NewInt(3)
	threshold := GetAntiDoSWorkThreshold(tip, p, false)
	require.Equal(t, p.MinChainWork.String(), threshold.String())
}

// Regression for the CVE-2019-25220 buffer sizing: the per-block work
// subtracted from the tip's chain_work must come from the tip's own
// difficulty, not the network's easiest-possible-difficulty PowLimitBits.
// On a chain running above minimum difficulty the two differ enormously,
// and using PowLimitBits would make the anti-DoS buffer far smaller than
// the documented "AntiDoSBufferBlocks worth of work" (params/config.go).
func TestGetAntiDoSWorkThresholdUsesTipDifficultyNotPowLimit(t *testing.T) {
	p := testParams()
	p.AntiDoSBufferBlocks = 10
	p.PowLimitBits = 0x207fffff // easiest possible target

	// A tip mining at a much harder difficulty than PowLimitBits.
	hardBits := uint32(0x1e00ffff)
	tip := &types.BlockIndex{
		Header:    &types.Header{Bits: hardBits},
		ChainWork: uint256.NewInt(1_000_000_000_000),
	}

	got := GetAntiDoSWorkThreshold(tip, p, false)

	wantBuffer := new(uint256.Int).Mul(params.Work(hardBits), uint256.NewInt(p.AntiDoSBufferBlocks))
	want := new(uint256.Int).Sub(tip.ChainWork, wantBuffer)
	require.Equal(t, want.String(), got.String())

	// The buffer computed from the tip's real difficulty must be far larger
	// than one computed from PowLimitBits would have been, since PowLimitBits
	// represents much less work per block.
	limitBuffer := new(uint256.Int).Mul(params.Work(p.PowLimitBits), uint256.NewInt(p.AntiDoSBufferBlocks))
	require.Equal(t, 1, wantBuffer.Cmp(limitBuffer), "tip-difficulty buffer should exceed a PowLimitBits-based buffer")
}
