// Package p2p implements the Peer Engine (spec §4.4): per-connection
// message framing, the version/verack handshake, liveness pings, and the
// misbehavior-scoring state machine that drives disconnection/discouragement.
package p2p

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/alpha-project/alphad/p2p/wire"
	"github.com/alpha-project/alphad/params"
)

// State is a Peer's position in the connection lifecycle (spec §4.4).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateVersionSent
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateVersionSent:
		return "version_sent"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Misbehavior penalty points (spec §4.4 "Misbehaving" penalty framework).
const (
	// PenaltyInvalidPoW and PenaltyNonContinuousHeads both equal
	// DisconnectScore: a peer whose headers fail PoW or continuity is
	// banned on the first offense (SPEC_FULL.md §8 Scenario 4), unlike the
	// other penalties here, which accumulate across repeated offenses.
	PenaltyInvalidPoW          = 100
	PenaltyOversizedMessage    = 20
	PenaltyNonContinuousHeads  = 100
	PenaltyLowWorkHeaders      = 20
	PenaltyUnconnectingHeaders = 1
	PenaltyBadChecksum         = 100
	PenaltyBadMagic            = 100

	DisconnectScore = 100
)

var (
	errSelfConnect     = errors.New("alpha: self-connection detected")
	errProtocolTooOld  = errors.New("alpha: peer protocol version too old")
	errBeforeHandshake = errors.New("alpha: message received before handshake completed")
	errVerAckNoVersion = errors.New("alpha: verack before version")
)

// MisbehaviorError is the disconnect reason used when a peer's cumulative
// misbehavior score reaches DisconnectScore (spec §4.4). The Sync
// Coordinator checks for this type to route the peer into BanMan's
// discourage path, as opposed to an ordinary disconnect which is not a ban
// (spec §4.5 "Peer Manager").
type MisbehaviorError struct {
	Reason string
	Score  int
}

func (e *MisbehaviorError) Error() string {
	return fmt.Sprintf("alpha: misbehavior score %d (%s)", e.Score, e.Reason)
}

// Disconnecter is the callback a Peer invokes, exactly once, when it decides
// it must tear itself down — the Sync Coordinator supplies this to remove
// the peer from its address/ban bookkeeping (spec §4.5).
type Disconnecter func(p *Peer, reason error)

// Peer is the Peer Engine's per-connection actor (spec §4.4). All counters
// are atomics so the command surface may read them without synchronizing
// with the I/O goroutine; mutating operations happen only on that goroutine.
type Peer struct {
	ID          uint64
	Outbound    bool
	Addr        net.Addr
	ConnectedAt time.Time

	conn    net.Conn
	recvBuf *bufio.Reader
	magic   [4]byte

	state atomic.Int32

	localNonce uint64
	localUA    string
	startHeight int32

	peerVersion   atomic.Int32
	peerServices  atomic.Uint64
	peerNonce     atomic.Uint64
	peerUserAgent atomic.Value // string
	peerTimeOffset atomic.Int64

	successfullyConnected atomic.Bool
	versionSent           atomic.Bool

	misbehaviorMu sync.Mutex
	misbehavior   int

	unconnectingHeaders atomic.Int32

	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64
	lastSend  atomic.Int64
	lastRecv  atomic.Int64

	pingMu       sync.Mutex
	pingNonce    uint64
	pingPending  bool
	pingSentAt   time.Time
	pingTimeMs   atomic.Int64

	sendCh chan *wire.Frame
	quit   chan struct{}
	once   sync.Once

	onDisconnect Disconnecter
	onMessage    func(p *Peer, cmd string, payload []byte)
}

// NewPeer wraps conn as a not-yet-handshaked Peer. onMessage is invoked for
// every successfully-framed message (including handshake messages); onDisc
// is invoked exactly once, after teardown, regardless of which goroutine
// triggered disconnection (spec §4.4 "Disconnect discipline").
func NewPeer(id uint64, conn net.Conn, outbound bool, magic [4]byte, startHeight int32, userAgent string, onMessage func(*Peer, string, []byte), onDisc Disconnecter) *Peer {
	p := &Peer{
		ID:          id,
		Outbound:    outbound,
		Addr:        conn.RemoteAddr(),
		ConnectedAt: time.Now(),
		conn:        conn,
		recvBuf:     bufio.NewReaderSize(conn, params.DefaultRecvFloodSize),
		magic:       magic,
		localNonce:  randomNonce(),
		localUA:     userAgent,
		startHeight: startHeight,
		sendCh:      make(chan *wire.Frame, 256),
		quit:        make(chan struct{}),
		onMessage:   onMessage,
		onDisconnect: onDisc,
	}
	p.peerUserAgent.Store("")
	p.state.Store(int32(StateConnecting))
	return p
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is a fatal environment error the caller cannot
		// route around; fall back to a time-derived value rather than panic.
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// State returns the Peer's current lifecycle state.
func (p *Peer) State() State { return State(p.state.Load()) }

// Run drives the Peer's I/O: it starts the writer goroutine and then reads
// frames until the connection closes or disconnect() is called. Run blocks
// until the peer has fully torn down.
func (p *Peer) Run() {
	go p.writeLoop()

	if p.Outbound {
		p.sendVersion()
	}

	handshakeTimer := time.AfterFunc(params.VersionHandshakeTimeout, func() {
		if !p.successfullyConnected.Load() {
			p.postDisconnect(errors.New("alpha: version handshake timeout"))
		}
	})
	defer handshakeTimer.Stop()

	p.readLoop()
}

func (p *Peer) readLoop() {
	for {
		frame, err := wire.ReadFrame(p.recvBuf, p.magic)
		if err != nil {
			p.postDisconnect(fmt.Errorf("alpha: frame read: %w", err))
			return
		}
		p.lastRecv.Store(time.Now().Unix())
		p.bytesRecv.Add(uint64(wire.FrameHeaderSize + len(frame.Payload)))

		if p.State() == StateDisconnected {
			// spec §4.4: safe to keep processing bytes after teardown has
			// begun, since the send path is state-gated and drops outgoing
			// traffic; we simply stop dispatching to handlers.
			continue
		}

		if err := p.dispatch(frame.Command, frame.Payload); err != nil {
			p.postDisconnect(err)
			return
		}
	}
}

// dispatch handles the handshake messages locally and forwards everything
// else to onMessage once the peer is READY (spec §4.4 step 4: any
// non-handshake message before successfully_connected is a disconnect).
func (p *Peer) dispatch(cmd string, payload []byte) error {
	switch cmd {
	case wire.CmdVersion:
		return p.handleVersion(payload)
	case wire.CmdVerAck:
		return p.handleVerAck(payload)
	}

	if !p.successfullyConnected.Load() {
		return errBeforeHandshake
	}

	switch cmd {
	case wire.CmdPing:
		return p.handlePing(payload)
	case wire.CmdPong:
		return p.handlePong(payload)
	default:
		if p.onMessage != nil {
			p.onMessage(p, cmd, payload)
		}
		return nil
	}
}

func (p *Peer) handleVersion(payload []byte) error {
	if p.successfullyConnected.Load() {
		// Version replay after handshake: ignored silently (spec §4.4 step 2).
		return nil
	}
	msg, err := wire.DecodeVersionMsg(payload)
	if err != nil {
		return err
	}
	if msg.Nonce == p.localNonce {
		return errSelfConnect
	}
	if msg.Version < params.MinProtocolVersion {
		return errProtocolTooOld
	}

	p.peerVersion.Store(msg.Version)
	p.peerServices.Store(msg.Services)
	p.peerNonce.Store(msg.Nonce)
	p.peerUserAgent.Store(capUserAgent(msg.UserAgent))

	offset := msg.Timestamp - time.Now().Unix()
	maxOffset := int64(params.MaxPeerTimeOffset.Seconds())
	if offset > maxOffset {
		offset = maxOffset
	} else if offset < -maxOffset {
		offset = -maxOffset
	}
	p.peerTimeOffset.Store(offset)

	if !p.versionSent.Load() {
		p.sendVersion()
	}
	p.send(wire.CmdVerAck, nil)
	return nil
}

func capUserAgent(ua string) string {
	const maxUserAgentLen = 256
	if len(ua) > maxUserAgentLen {
		return ua[:maxUserAgentLen]
	}
	return ua
}

func (p *Peer) handleVerAck(payload []byte) error {
	if p.successfullyConnected.Load() {
		return nil // duplicate verack, ignored (spec §4.4 step 3)
	}
	if err := wire.DecodeVerAckStrict(payload); err != nil {
		return err
	}
	if p.peerVersion.Load() == 0 {
		return errVerAckNoVersion
	}
	p.successfullyConnected.Store(true)
	p.state.Store(int32(StateReady))
	log.Debug("peer handshake complete", "id", p.ID, "addr", p.Addr, "ua", p.peerUserAgent.Load())
	return nil
}

func (p *Peer) sendVersion() {
	msg := &VersionTemplate{
		Nonce:       p.localNonce,
		UserAgent:   p.localUA,
		StartHeight: p.startHeight,
	}
	p.send(wire.CmdVersion, msg.Encode())
	p.versionSent.Store(true)
	p.state.Store(int32(StateVersionSent))
}

// VersionTemplate is the local node's outgoing version fields; AddrRecv and
// AddrFrom are intentionally left zero (this chain does not track per-peer
// advertised addresses beyond what the Address Manager records separately).
type VersionTemplate struct {
	Nonce       uint64
	UserAgent   string
	StartHeight int32
}

func (t *VersionTemplate) Encode() []byte {
	m := &wire.VersionMsg{
		Version:     params.MinProtocolVersion,
		Services:    0,
		Timestamp:   time.Now().Unix(),
		Nonce:       t.Nonce,
		UserAgent:   t.UserAgent,
		StartHeight: t.StartHeight,
	}
	return m.Encode()
}

// SendPing issues a liveness ping if none is currently outstanding
// (spec §4.4 "Liveness").
func (p *Peer) SendPing() {
	p.pingMu.Lock()
	if p.pingPending {
		p.pingMu.Unlock()
		return
	}
	nonce := randomNonce()
	p.pingNonce = nonce
	p.pingPending = true
	p.pingSentAt = time.Now()
	p.pingMu.Unlock()

	msg := &wire.PingMsg{Nonce: nonce}
	p.send(wire.CmdPing, msg.Encode())
}

func (p *Peer) handlePing(payload []byte) error {
	msg, err := wire.DecodePingMsg(payload)
	if err != nil {
		return err
	}
	pong := &wire.PongMsg{Nonce: msg.Nonce}
	p.send(wire.CmdPong, pong.Encode())
	return nil
}

func (p *Peer) handlePong(payload []byte) error {
	msg, err := wire.DecodePongMsg(payload)
	if err != nil {
		return err
	}
	p.pingMu.Lock()
	defer p.pingMu.Unlock()
	if !p.pingPending || msg.Nonce != p.pingNonce {
		// Nonce mismatch is lenient, not an error (spec §4.4 "Liveness").
		return nil
	}
	p.pingTimeMs.Store(time.Since(p.pingSentAt).Milliseconds())
	p.pingPending = false
	return nil
}

// CheckLiveness disconnects the peer if it has gone quiet or left a ping
// outstanding too long; the Sync Coordinator calls this on a periodic timer
// per connected peer (spec §4.4 "Liveness").
func (p *Peer) CheckLiveness(now time.Time) {
	if now.Unix()-p.lastRecv.Load() > int64(params.InactivityTimeout.Seconds()) {
		p.postDisconnect(errors.New("alpha: inactivity timeout"))
		return
	}
	p.pingMu.Lock()
	pending, sentAt := p.pingPending, p.pingSentAt
	p.pingMu.Unlock()
	if pending && now.Sub(sentAt) > params.PingTimeout {
		p.postDisconnect(errors.New("alpha: ping timeout"))
	}
}

// Misbehave applies a penalty and disconnects (with discouragement left to
// the caller, since only the Sync Coordinator owns the BanMan) once the
// cumulative score reaches DisconnectScore (spec §4.4 "Misbehaving").
func (p *Peer) Misbehave(reason string, points int) (disconnect bool) {
	p.misbehaviorMu.Lock()
	p.misbehavior += points
	score := p.misbehavior
	p.misbehaviorMu.Unlock()

	log.Debug("peer misbehavior", "id", p.ID, "reason", reason, "points", points, "score", score)
	if score >= DisconnectScore {
		p.postDisconnect(&MisbehaviorError{Reason: reason, Score: score})
		return true
	}
	return false
}

// RecordUnconnectingHeaders implements the cumulative +1-per-batch counter
// (spec §4.4) and misbehaves once it has happened often enough to look
// adversarial rather than merely unlucky.
func (p *Peer) RecordUnconnectingHeaders() {
	const maxTolerance = PenaltyLowWorkHeaders // same budget as one LOW_WORK_HEADERS strike
	n := p.unconnectingHeaders.Add(1)
	if int(n) >= maxTolerance {
		p.Misbehave("unconnecting_headers", int(n))
	}
}

func (p *Peer) writeLoop() {
	for {
		select {
		case frame, ok := <-p.sendCh:
			if !ok {
				return
			}
			if err := wire.WriteFrame(p.conn, p.magic, frame.Command, frame.Payload); err != nil {
				p.postDisconnect(fmt.Errorf("alpha: frame write: %w", err))
				return
			}
			p.bytesSent.Add(uint64(wire.FrameHeaderSize + len(frame.Payload)))
			p.lastSend.Store(time.Now().Unix())
		case <-p.quit:
			return
		}
	}
}

// send enqueues a message for the writer goroutine. Sends are dropped
// silently once the peer has begun disconnecting (spec §4.4 "the receive
// callback processes bytes even if the peer has already transitioned to
// DISCONNECTED... outgoing messages are dropped").
func (p *Peer) send(command string, payload []byte) {
	if p.State() == StateDisconnected || p.State() == StateDisconnecting {
		return
	}
	select {
	case p.sendCh <- &wire.Frame{Command: command, Payload: payload}:
	case <-p.quit:
	}
}

// postDisconnect schedules teardown and is safe to call from any goroutine,
// including from within onMessage while it holds the last strong reference
// to p (spec §4.4 "Disconnect discipline"). It is idempotent.
func (p *Peer) postDisconnect(reason error) {
	p.once.Do(func() {
		p.state.Store(int32(StateDisconnecting))
		close(p.quit)
		p.conn.Close()
		p.state.Store(int32(StateDisconnected))
		log.Debug("peer disconnected", "id", p.ID, "addr", p.Addr, "reason", reason)
		if p.onDisconnect != nil {
			p.onDisconnect(p, reason)
		}
	})
}

// Disconnect requests teardown for an external reason (e.g. eviction, ban).
func (p *Peer) Disconnect(reason error) { p.postDisconnect(reason) }

// SendGetHeaders requests headers starting from locator, stopping at
// hashStop (zero hash means "as many as the peer will give", spec §4.5).
func (p *Peer) SendGetHeaders(locator []common.Hash, hashStop common.Hash) error {
	msg := &wire.GetHeadersMsg{Version: params.MinProtocolVersion, Locator: locator, HashStop: hashStop}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	p.send(wire.CmdGetHeaders, payload)
	return nil
}

// SendHeaders replies to a getheaders request (spec §4.5).
func (p *Peer) SendHeaders(msg *wire.HeadersMsg) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	p.send(wire.CmdHeaders, payload)
	return nil
}

// SendInv announces new tips to the peer (spec §4.5 "Block-announcement relay").
func (p *Peer) SendInv(invs []wire.InventoryVector) error {
	payload, err := wire.EncodeInv(invs)
	if err != nil {
		return err
	}
	p.send(wire.CmdInv, payload)
	return nil
}

// SendGetAddr solicits the peer's known-address table (spec §4.5).
func (p *Peer) SendGetAddr() { p.send(wire.CmdGetAddr, nil) }

// SendAddr gossips known addresses to the peer (spec §4.5).
func (p *Peer) SendAddr(msg *wire.AddrMsg) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	p.send(wire.CmdAddr, payload)
	return nil
}

// PingTimeMs returns the most recently measured round-trip time.
func (p *Peer) PingTimeMs() int64 { return p.pingTimeMs.Load() }

// Stats returns a read-only snapshot for the control surface (spec §6.3 "get_peer_info").
func (p *Peer) Stats() PeerStats {
	ua, _ := p.peerUserAgent.Load().(string)
	return PeerStats{
		ID:          p.ID,
		Addr:        p.Addr.String(),
		Outbound:    p.Outbound,
		State:       p.State().String(),
		Version:     p.peerVersion.Load(),
		Services:    p.peerServices.Load(),
		UserAgent:   ua,
		StartHeight: p.startHeight,
		BytesSent:   p.bytesSent.Load(),
		BytesRecv:   p.bytesRecv.Load(),
		PingTimeMs:  p.pingTimeMs.Load(),
		TimeOffset:  p.peerTimeOffset.Load(),
	}
}

// PeerStats is the RPC-facing snapshot of a Peer's public state.
type PeerStats struct {
	ID          uint64
	Addr        string
	Outbound    bool
	State       string
	Version     int32
	Services    uint64
	UserAgent   string
	StartHeight int32
	BytesSent   uint64
	BytesRecv   uint64
	PingTimeMs  int64
	TimeOffset  int64
}
