// Package params defines the consensus parameters of the Alpha network: the
// genesis header, difficulty-adjustment constants, anti-DoS thresholds, and
// protocol-level size limits referenced throughout core, validation,
// chainstate, p2p and sync.
package params

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Protocol-wide wire limits (spec §6.1, §4.4, §4.5).
const (
	MaxProtocolMessageLength = 4_000_000
	DefaultRecvFloodSize     = 5_000_000
	MinCompactionBytes       = 64 * 1024
	MaxHeadersSize           = 2000
	MaxInvSize               = 50_000
	MaxAddrSize               = 1000
	MaxLocatorSize            = 101
	MaxVectorAllocate         = 5_000_000
	MaxAddrPayloadSize        = 32_000_000

	VersionHandshakeTimeout = 60 * time.Second
	PingInterval            = 120 * time.Second
	PingTimeout             = 20 * time.Minute
	InactivityTimeout       = 20 * time.Minute

	MaxFutureBlockTime = 2 * time.Hour
	MaxPeerTimeOffset  = 70 * time.Minute

	MinProtocolVersion = 1

	DefaultMaxOutbound = 8
	DefaultMaxInbound  = 125

	OrphanGlobalLimit   = 1000
	OrphanPerPeerLimit  = 50
	OrphanExpireTime    = 10 * time.Minute

	AddressManagerMaxFailures = 10
	AddressStaleAfter         = 30 * 24 * time.Hour

	DefaultDiscourageDuration = 24 * time.Hour
)

// HeaderSize is the fixed wire size of an Alpha block header (spec §3).
const HeaderSize = 4 + 32 + 20 + 4 + 4 + 4 + 32 // 100 bytes

// ConsensusParams bundles the network-configuration constants a single Alpha
// network is parameterized by. Distinct *ConsensusParams values describe
// distinct networks (mainnet, testnet, regtest) the same way go-ethereum's
// *params.ChainConfig values describe distinct EVM networks.
type ConsensusParams struct {
	// NetworkName identifies the network for logging and the RandomX epoch
	// seed domain separator.
	NetworkName string

	// Magic is the 4-byte wire-protocol magic value (spec §4.4).
	Magic [4]byte

	// GenesisHeader is byte-identical across all nodes on this network.
	GenesisHeaderBytes [HeaderSize]byte

	// PowLimit is the easiest allowed compact-encoded target (bits).
	PowLimitBits uint32

	// PowTargetSpacing is the intended seconds between headers.
	PowTargetSpacing time.Duration

	// AsertHalfLife is the aserti3-2d exponential half-life, in seconds.
	AsertHalfLife int64

	// RandomXEpochDuration is the number of seconds per RandomX epoch.
	RandomXEpochDuration int64

	// MinChainWork is the anti-DoS floor chain_work (spec §4.2).
	MinChainWork *uint256.Int

	// MaxTipAge bounds how stale the tip's timestamp may be before the node
	// considers itself still in IBD (spec §4.3).
	MaxTipAge time.Duration

	// AntiDoSBufferBlocks is the number of blocks' worth of work subtracted
	// from the tip's chain_work to compute the anti-DoS work threshold
	// (spec §4.2, CVE-2019-25220 mitigation).
	AntiDoSBufferBlocks uint64

	// SuspiciousReorgDepth caps how deep a reorg may disconnect before it is
	// refused outright as a safety policy (spec §4.3, open question).
	SuspiciousReorgDepth uint64

	// MedianTimeSpan is "N" in median-time-past (spec §4.2); 11 is customary.
	MedianTimeSpan int

	// MinHeaderVersion is the version floor (spec §4.2 contextual check #4).
	MinHeaderVersion uint32

	// MaxOrphanCascadeDepth bounds the orphan-promotion BFS (spec §4.3,
	// §9 "deeply nested orphan processing").
	MaxOrphanCascadeDepth int
}

// Work returns the amount of work represented by a compact difficulty target
// encoding: work(bits) = 2^256 / (target(bits) + 1), the same formula
// Bitcoin-lineage chains use for GetBlockProof.
func Work(bits uint32) *uint256.Int {
	target := CompactToTarget(bits)
	if target.IsZero() {
		return uint256.NewInt(0)
	}
	// work = (2^256 - 1 - target) / (target + 1) + 1, computed without
	// overflow using big.Int and converting back.
	maxU256 := new(big.Int).Lsh(big.NewInt(1), 256)
	t := target.ToBig()
	denom := new(big.Int).Add(t, big.NewInt(1))
	work := new(big.Int).Div(maxU256, denom)
	w, _ := uint256.FromBig(work)
	return w
}

// CompactToTarget decodes a compact ("bits") difficulty encoding into a full
// 256-bit target, mirroring Bitcoin's nBits format: the top byte is an
// exponent, the remaining three bytes are the mantissa.
func CompactToTarget(bits uint32) *uint256.Int {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff
	negative := bits&0x00800000 != 0
	if negative || mantissa == 0 {
		return uint256.NewInt(0)
	}
	m := uint256.NewInt(uint64(mantissa))
	if exponent <= 3 {
		shift := 8 * (3 - exponent)
		return new(uint256.Int).Rsh(m, uint(shift))
	}
	shift := 8 * (exponent - 3)
	if shift > 256 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Lsh(m, uint(shift))
}

// TargetToCompact re-encodes a full target back into compact "bits" form.
func TargetToCompact(target *uint256.Int) uint32 {
	if target.IsZero() {
		return 0
	}
	bitLen := target.BitLen()
	exponent := uint32((bitLen + 7) / 8)
	var mantissa uint64
	if exponent <= 3 {
		mantissa = target.Uint64() << (8 * (3 - exponent))
	} else {
		shifted := new(uint256.Int).Rsh(target, uint(8*(exponent-3)))
		mantissa = shifted.Uint64()
	}
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}
	return uint32(mantissa) | exponent<<24
}

// GenesisHash returns the double-SHA-256 identity of the network's genesis
// header, computed lazily from GenesisHeaderBytes.
func (p *ConsensusParams) GenesisHash() common.Hash {
	return DoubleSHA256(p.GenesisHeaderBytes[:])
}
