package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alpha-project/alphad/p2p/wire"
	"github.com/alpha-project/alphad/params"
)

func newTestPeerPair(t *testing.T) (*Peer, *Peer, func()) {
	t.Helper()
	client, server := net.Pipe()
	magic := [4]byte{0xf1, 0xf2, 0xf3, 0xf4}
	a := NewPeer(1, client, true, magic, 0, "/alphad:test/", func(*Peer, string, []byte) {}, func(*Peer, error) {})
	b := NewPeer(2, server, false, magic, 0, "/alphad:test/", func(*Peer, string, []byte) {}, func(*Peer, error) {})
	return a, b, func() {
		client.Close()
		server.Close()
	}
}

func versionPayload(nonce uint64, version int32) []byte {
	m := &wire.VersionMsg{
		Version:   version,
		Timestamp: time.Now().Unix(),
		Nonce:     nonce,
		UserAgent: "/peer/",
	}
	return m.Encode()
}

// Scenario 5 (SPEC_FULL.md §8): a node that dials itself must recognize its
// own locally-generated nonce reflected back and refuse the connection.
func TestHandleVersionRejectsSelfConnection(t *testing.T) {
	a, b, closeConns := newTestPeerPair(t)
	defer closeConns()
	_ = b

	err := a.handleVersion(versionPayload(a.localNonce, params.MinProtocolVersion))
	require.ErrorIs(t, err, errSelfConnect)
}

// Scenario 6 (SPEC_FULL.md §8): a second VERSION after the handshake has
// already completed is ignored rather than treated as an error or a reset
// of the negotiated fields.
func TestHandleVersionDuplicateAfterHandshakeIgnored(t *testing.T) {
	a, b, closeConns := newTestPeerPair(t)
	defer closeConns()
	_ = b

	require.NoError(t, a.handleVersion(versionPayload(999, params.MinProtocolVersion)))
	require.NoError(t, a.handleVerAck(nil))
	require.True(t, a.successfullyConnected.Load())
	require.Equal(t, int32(999), int32(a.peerNonce.Load()))

	// A replayed version with different fields must not perturb the
	// already-negotiated state (spec §4.4 step 2: "ignored").
	err := a.handleVersion(versionPayload(111, params.MinProtocolVersion))
	require.NoError(t, err)
	require.Equal(t, uint64(999), a.peerNonce.Load())
}

func TestHandleVersionRejectsTooOldProtocol(t *testing.T) {
	a, b, closeConns := newTestPeerPair(t)
	defer closeConns()
	_ = b

	err := a.handleVersion(versionPayload(42, 0))
	require.ErrorIs(t, err, errProtocolTooOld)
}

// Comment 2 / SPEC_FULL.md §8 Scenario 4 regression: non-continuous headers
// must disconnect on the first offense, exactly like invalid PoW.
func TestMisbehavePenaltiesThatMustBanImmediately(t *testing.T) {
	require.Equal(t, DisconnectScore, PenaltyInvalidPoW)
	require.Equal(t, DisconnectScore, PenaltyNonContinuousHeads)
}

func TestMisbehaveDisconnectsOnceScoreReachesThreshold(t *testing.T) {
	a, b, closeConns := newTestPeerPair(t)
	defer closeConns()
	_ = b

	var disconnected bool
	a.onDisconnect = func(p *Peer, reason error) { disconnected = true }

	require.False(t, a.Misbehave("low-work", PenaltyLowWorkHeaders))
	require.False(t, disconnected)

	require.True(t, a.Misbehave("non-continuous-headers", PenaltyNonContinuousHeads))
	require.True(t, disconnected)
}
