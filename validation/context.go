package validation

import (
	"errors"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/params"
)

var (
	ErrBadDiffBits = errors.New("alpha: bad-diffbits")
	ErrTimeTooOld  = errors.New("alpha: time-too-old")
	ErrTimeTooNew  = errors.New("alpha: time-too-new")
	ErrBadVersion  = errors.New("alpha: bad-version")
)

// MedianTimePast computes the median of the last N ancestor timestamps of
// bi (inclusive of bi itself), N given by span (spec §4.2, GLOSSARY "MTP";
// 11 is customary).
func MedianTimePast(bi *types.BlockIndex, span int) uint32 {
	times := make([]uint32, 0, span)
	cursor := bi
	for i := 0; i < span && cursor != nil; i++ {
		times = append(times, cursor.Header.Time)
		cursor = cursor.Parent
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times[len(times)/2]
}

// ExpectedBits computes the difficulty target the network's ASERT
// (aserti3-2d) algorithm expects for a header at parent.Height+1, given the
// parent's timestamp and the network's anchor (genesis) parameters
// (spec §4.2 check #1).
//
// aserti3-2d: target = anchor_target * 2^((time_delta - ideal_time_delta) / half_life)
// where time_delta is measured from the genesis anchor block. The exponent
// is evaluated with the reference aserti3-2d fixed-point approximation:
// 2^x is split into an integer shift plus a cubic-polynomial approximation
// of the fractional part, carried in Q16.16.
func ExpectedBits(parent *types.BlockIndex, p *params.ConsensusParams, genesisBits uint32, genesisTime uint32) uint32 {
	anchorTarget := params.CompactToTarget(genesisBits)
	if anchorTarget.IsZero() {
		return genesisBits
	}
	heightAfterAnchor := int64(parent.Height + 1)
	timeDelta := int64(parent.Header.Time) - int64(genesisTime)
	idealTimeDelta := heightAfterAnchor * int64(p.PowTargetSpacing.Seconds())

	exponent := ((timeDelta - idealTimeDelta) << 16) / p.AsertHalfLife

	shifts := exponent >> 16
	frac := exponent - (shifts << 16)

	// 2^(frac/65536) for frac in [0,65536), reference aserti3-2d polynomial,
	// evaluated in uint64: for large frac the sum exceeds the int64 range.
	f := uint64(frac)
	factor := int64(65536 +
		(195766423245049*f+
			971821376*f*f+
			5127*f*f*f+
			(1<<47))>>48)

	targetBig := anchorTarget.ToBig()
	targetBig.Mul(targetBig, big.NewInt(factor))
	if shifts < 0 {
		targetBig.Rsh(targetBig, uint(-shifts))
	} else if shifts > 0 {
		targetBig.Lsh(targetBig, uint(shifts))
	}
	targetBig.Rsh(targetBig, 16)

	target, overflow := uint256.FromBig(targetBig)
	powLimit := params.CompactToTarget(p.PowLimitBits)
	if overflow || target.IsZero() || target.Cmp(powLimit) > 0 {
		target = powLimit
	}
	return params.TargetToCompact(target)
}

// ContextualCheckBlockHeader runs the contextual checks of spec §4.2:
// difficulty, MTP, future-time bound, and version floor.
func (e *Engine) ContextualCheckBlockHeader(h *types.Header, parent *types.BlockIndex, now int64) error {
	genesisHeader, _ := types.DecodeHeader(e.Params.GenesisHeaderBytes[:])

	expected := ExpectedBits(parent, e.Params, genesisHeader.Bits, genesisHeader.Time)
	if h.Bits != expected {
		return ErrBadDiffBits
	}

	mtp := MedianTimePast(parent, e.Params.MedianTimeSpan)
	if h.Time <= mtp {
		return ErrTimeTooOld
	}

	if int64(h.Time) > now+int64(params.MaxFutureBlockTime.Seconds()) {
		return ErrTimeTooNew
	}

	if h.Version < e.Params.MinHeaderVersion {
		return ErrBadVersion
	}
	return nil
}
