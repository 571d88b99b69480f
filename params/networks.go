package params

import (
	"time"

	"github.com/holiman/uint256"
)

// RegtestGenesisBits is the minimum-difficulty target used on regtest,
// matching Bitcoin's customary 0x207fffff (spec §8 scenario 1).
const RegtestGenesisBits = 0x207fffff

// MainnetParams are the consensus parameters for the main Alpha network.
//
// GenesisHeaderBytes is left zeroed here beyond the bits/time fields that
// matter for work calculations in tests; a production deployment stamps the
// network's real genesis bytes in at build time.
var MainnetParams = &ConsensusParams{
	NetworkName:           "mainnet",
	Magic:                 [4]byte{0xa1, 0x70, 0x68, 0x61}, // "Alpha" flavored magic
	PowLimitBits:          0x1e0fffff,
	PowTargetSpacing:      2 * time.Minute,
	AsertHalfLife:         172800, // 2 days
	RandomXEpochDuration:  2 * 24 * 60 * 60,
	MinChainWork:          uint256.NewInt(0),
	MaxTipAge:             24 * time.Hour,
	AntiDoSBufferBlocks:   144, // ~1 day at 10-minute spacing equivalent buffer
	SuspiciousReorgDepth:  24,
	MedianTimeSpan:        11,
	MinHeaderVersion:      1,
	MaxOrphanCascadeDepth: 10_000,
}

// TestnetParams mirror mainnet but with a faster target spacing and shorter
// half-life, as is customary for low-stakes public test networks.
var TestnetParams = &ConsensusParams{
	NetworkName:           "testnet",
	Magic:                 [4]byte{0xa1, 0x70, 0x68, 0x74},
	PowLimitBits:          0x1f0fffff,
	PowTargetSpacing:      1 * time.Minute,
	AsertHalfLife:         3600,
	RandomXEpochDuration:  60 * 60,
	MinChainWork:          uint256.NewInt(0),
	MaxTipAge:             2 * time.Hour,
	AntiDoSBufferBlocks:   144,
	SuspiciousReorgDepth:  100,
	MedianTimeSpan:        11,
	MinHeaderVersion:      1,
	MaxOrphanCascadeDepth: 10_000,
}

// RegtestParams are tuned for deterministic, fast local testing: minimum
// difficulty, short half-life, tiny anti-DoS buffer, no tip-age IBD exit
// requirement (MaxTipAge effectively infinite for harness convenience).
var RegtestParams = &ConsensusParams{
	NetworkName:           "regtest",
	Magic:                 [4]byte{0xfa, 0xbf, 0xb5, 0xda},
	PowLimitBits:          RegtestGenesisBits,
	PowTargetSpacing:      10 * time.Second,
	AsertHalfLife:         600,
	RandomXEpochDuration:  600,
	MinChainWork:          uint256.NewInt(0),
	MaxTipAge:             365 * 24 * time.Hour,
	AntiDoSBufferBlocks:   6,
	SuspiciousReorgDepth:  6,
	MedianTimeSpan:        11,
	MinHeaderVersion:      1,
	MaxOrphanCascadeDepth: 10_000,
}
