package params

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// TestCompactTargetRoundTrip checks that the canonical compact encoding of a
// target is a fixed point of CompactToTarget/TargetToCompact: re-encoding a
// decoded target always reproduces the same bits that produced it. Compact
// encodings are not unique in general (several (exponent, mantissa) pairs
// can denote the same target), so the property under test is idempotence of
// the canonical round trip, not that arbitrary bit patterns survive it.
func TestCompactTargetRoundTrip(t *testing.T) {
	raw := []uint64{0xffff, 0x7fffff, 0x1, 0xabcdef, 0x800000}
	shifts := []uint{0, 8, 64, 200}

	for _, r := range raw {
		for _, s := range shifts {
			target := new(uint256.Int).Lsh(uint256.NewInt(r), s)
			if target.IsZero() {
				continue
			}
			bits := TargetToCompact(target)
			decoded := CompactToTarget(bits)
			require.Equal(t, bits, TargetToCompact(decoded))
		}
	}
}

func TestCompactToTargetNegativeIsZero(t *testing.T) {
	require.True(t, CompactToTarget(0x01800000).IsZero())
}

func TestCompactToTargetZeroMantissaIsZero(t *testing.T) {
	require.True(t, CompactToTarget(0x04000000).IsZero())
}

func TestWorkIsMonotonicWithDifficulty(t *testing.T) {
	easy := Work(0x207fffff)
	harder := Work(0x1d00ffff)
	require.Equal(t, 1, harder.Cmp(easy), "a smaller target must represent more work")
}

func TestWorkOfZeroTargetIsZero(t *testing.T) {
	require.True(t, Work(0x04000000).Cmp(uint256.NewInt(0)) == 0)
}

func TestGenesisHash(t *testing.T) {
	p := &ConsensusParams{}
	h1 := p.GenesisHash()
	h2 := p.GenesisHash()
	require.Equal(t, h1, h2)
}
