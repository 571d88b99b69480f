package sync

import (
	"net"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alpha-project/alphad/addrmgr"
	"github.com/alpha-project/alphad/banman"
	"github.com/alpha-project/alphad/chainstate"
	"github.com/alpha-project/alphad/core"
	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/notify"
	"github.com/alpha-project/alphad/params"
	"github.com/alpha-project/alphad/validation"
)

func testNetworkParams() *params.ConsensusParams {
	p := &params.ConsensusParams{
		NetworkName:          "regtest",
		PowLimitBits:         0x207fffff,
		PowTargetSpacing:     600_000_000_000,
		AsertHalfLife:        172800,
		RandomXEpochDuration: 1000,
		MinChainWork:         uint256.NewInt(0),
		MedianTimeSpan:       11,
		MinHeaderVersion:     1,
	}
	genesis := &types.Header{Version: 1, Bits: p.PowLimitBits, Time: 1_600_000_000}
	copy(p.GenesisHeaderBytes[:], genesis.Bytes())
	return p
}

func newTestCoordinator(t *testing.T, maxOutbound, maxInbound int) *Coordinator {
	t.Helper()
	p := testNetworkParams()
	engine := validation.NewEngine(p, validation.NewLRUCachingEngine(validation.ReferenceEngine{}))
	store := core.NewStore(p)
	chainMgr := chainstate.NewManager(p, store, engine, notify.NewRegistry())
	addrMgr := addrmgr.NewManager("")
	banMgr := banman.NewManager("")
	return New(p, chainMgr, addrMgr, banMgr, notify.NewRegistry(), maxOutbound, maxInbound)
}

// Comment 4 / SPEC_FULL.md §4.5 "Peer Manager": a zero override must fall
// back to the network defaults rather than silently permitting zero peers.
func TestNewFallsBackToDefaultCapsWhenZero(t *testing.T) {
	c := newTestCoordinator(t, 0, 0)
	require.Equal(t, params.DefaultMaxOutbound, c.maxOutbound)
	require.Equal(t, params.DefaultMaxInbound, c.maxInbound)
}

func TestNewHonorsNonZeroCapOverrides(t *testing.T) {
	c := newTestCoordinator(t, 3, 7)
	require.Equal(t, 3, c.maxOutbound)
	require.Equal(t, 7, c.maxInbound)
}

// AcceptConnection must enforce the threaded-through inbound cap, not the
// package-level params.DefaultMaxInbound constant (Comment 4 regression):
// an operator-configured --maxpeers.in must actually take effect.
func TestAcceptConnectionEnforcesConfiguredInboundCap(t *testing.T) {
	c := newTestCoordinator(t, params.DefaultMaxOutbound, 1)

	conn1, remote1 := net.Pipe()
	defer conn1.Close()
	defer remote1.Close()
	_, err := c.AcceptConnection(conn1, false, UserAgent)
	require.NoError(t, err)

	conn2, remote2 := net.Pipe()
	defer conn2.Close()
	defer remote2.Close()
	_, err = c.AcceptConnection(conn2, false, UserAgent)
	require.Error(t, err, "inbound cap of 1 should reject a second inbound peer with no eviction candidate")
}
