// Package sync implements the Sync Coordinator (spec §4.5): the Peer
// Manager, the header-sync protocol driving chainstate acceptance, the
// block-announcement relay, and the outbound connection driver. Message
// handlers run directly on each peer's read goroutine, with shared state
// guarded by mutexes and atomics, rather than through the command channel
// and single goroutine of the teacher pack's btcd-lineage blockManager.
package sync

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/alpha-project/alphad/addrmgr"
	"github.com/alpha-project/alphad/banman"
	"github.com/alpha-project/alphad/chainstate"
	"github.com/alpha-project/alphad/notify"
	"github.com/alpha-project/alphad/p2p"
	"github.com/alpha-project/alphad/p2p/wire"
	"github.com/alpha-project/alphad/params"
	"github.com/alpha-project/alphad/validation"
)

var (
	headersRecvMeter = metrics.NewRegisteredMeter("sync/headers/received", nil)
	peersGauge       = metrics.NewRegisteredGauge("sync/peers", nil)
	banMeter         = metrics.NewRegisteredMeter("sync/misbehavior/bans", nil)
)

// Coordinator owns every live Peer and drives header sync, peer-manager
// accounting, and relay against a Chainstate Manager (spec §4.5).
type Coordinator struct {
	params  *params.ConsensusParams
	chain   *chainstate.Manager
	addrMgr *addrmgr.Manager
	banMgr  *banman.Manager
	notify  *notify.Registry

	// maxOutbound and maxInbound are the peer-cap overrides threaded in from
	// alphaconfig.Config (falling back to params.DefaultMaxOutbound/
	// DefaultMaxInbound when the operator leaves them at zero).
	maxOutbound int
	maxInbound  int

	mu          sync.Mutex
	peers       map[uint64]*Peer
	outboundCnt int
	inboundCnt  int

	syncPeerID atomic.Uint64 // 0 means "none"
	nextPeerID atomic.Uint64

	lastBatchSize atomic.Int32

	// announced tracks, per peer, the last tip hash pushed via inv,
	// to avoid re-announcing the same tip repeatedly (spec §4.5
	// "Block-announcement relay").
	announcedMu sync.Mutex
	announced   map[uint64]common.Hash

	quit chan struct{}
}

// Peer bundles the wire-level p2p.Peer with sync-specific bookkeeping
// (unconnecting-header counters live on p2p.Peer itself; this wraps it with
// the fields only the Sync Coordinator needs).
type Peer struct {
	*p2p.Peer
	Addr addrmgr.NetAddr
}

// New constructs a Sync Coordinator. userAgent/startHeight feed outgoing
// version messages for every Peer this Coordinator creates. maxOutbound and
// maxInbound override params.DefaultMaxOutbound/DefaultMaxInbound when
// non-zero (alphaconfig.Config.MaxOutboundPeers/MaxInboundPeers); pass 0 for
// either to keep the network default.
func New(p *params.ConsensusParams, chain *chainstate.Manager, addrMgr *addrmgr.Manager, banMgr *banman.Manager, reg *notify.Registry, maxOutbound, maxInbound int) *Coordinator {
	if maxOutbound <= 0 {
		maxOutbound = params.DefaultMaxOutbound
	}
	if maxInbound <= 0 {
		maxInbound = params.DefaultMaxInbound
	}
	c := &Coordinator{
		params:      p,
		chain:       chain,
		addrMgr:     addrMgr,
		banMgr:      banMgr,
		notify:      reg,
		maxOutbound: maxOutbound,
		maxInbound:  maxInbound,
		peers:       make(map[uint64]*Peer),
		announced:   make(map[uint64]common.Hash),
		quit:        make(chan struct{}),
	}
	c.nextPeerID.Store(1)
	return c
}

// AcceptConnection wraps an already-established net.Conn into a tracked Peer
// (spec §4.5 "Peer Manager" capacity enforcement + eviction policy).
func (c *Coordinator) AcceptConnection(conn net.Conn, outbound bool, userAgent string) (*Peer, error) {
	addr := conn.RemoteAddr().String()
	if c.banMgr.IsBanned(addr) {
		conn.Close()
		return nil, errBanned
	}

	c.mu.Lock()
	if outbound {
		if c.outboundCnt >= c.maxOutbound {
			c.mu.Unlock()
			conn.Close()
			return nil, errCapacity
		}
	} else {
		if c.inboundCnt >= c.maxInbound {
			victim := c.evictionVictimLocked()
			if victim == nil {
				c.mu.Unlock()
				conn.Close()
				return nil, errCapacity
			}
			c.mu.Unlock()
			victim.Disconnect(errEvicted)
			c.mu.Lock()
		}
	}
	id := c.nextPeerID.Add(1)
	c.mu.Unlock()

	wp := p2p.NewPeer(id, conn, outbound, c.params.Magic, int32(c.chain.Store().ActiveChainTip().Height), userAgent,
		c.onMessage, c.onDisconnect)
	sp := &Peer{Peer: wp, Addr: addrmgr.NetAddr(addr)}

	c.mu.Lock()
	c.peers[id] = sp
	if outbound {
		c.outboundCnt++
	} else {
		c.inboundCnt++
	}
	c.mu.Unlock()
	peersGauge.Update(int64(len(c.peers)))

	c.notify.EmitPeerConnected(id, addr)
	go wp.Run()
	return sp, nil
}

var (
	errBanned   = netErr("alpha: address is banned")
	errCapacity = netErr("alpha: peer capacity reached")
	errEvicted  = netErr("alpha: evicted to make room for new inbound peer")
)

type netErr string

func (e netErr) Error() string { return string(e) }

// evictionVictimLocked implements the inbound eviction priority order (spec
// §4.5 "Peer Manager"): protect recent connections, then prefer evicting
// overrepresented netgroups, then worst ping time among the rest. Caller
// must hold c.mu.
func (c *Coordinator) evictionVictimLocked() *p2p.Peer {
	now := time.Now()
	netgroupCount := make(map[string]int)
	for _, sp := range c.peers {
		if !sp.Outbound {
			netgroupCount[hostNetgroup(sp.Addr)]++
		}
	}

	var candidates []*Peer
	for _, sp := range c.peers {
		if sp.Outbound {
			continue
		}
		if now.Sub(sp.ConnectedAt) < 10*time.Second {
			continue // protect recently-connected peers
		}
		candidates = append(candidates, sp)
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	bestNG := netgroupCount[hostNetgroup(best.Addr)]
	for _, sp := range candidates[1:] {
		ng := netgroupCount[hostNetgroup(sp.Addr)]
		switch {
		case ng > bestNG:
			best, bestNG = sp, ng
		case ng == bestNG && sp.PingTimeMs() > best.PingTimeMs():
			best, bestNG = sp, ng
		}
	}
	return best.Peer
}

func hostNetgroup(a addrmgr.NetAddr) string {
	host, _, err := net.SplitHostPort(string(a))
	if err != nil {
		return string(a)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(16, 32)).String()
	}
	return ip.Mask(net.CIDRMask(32, 128)).String()
}

func (c *Coordinator) onDisconnect(p *p2p.Peer, reason error) {
	c.mu.Lock()
	sp, ok := c.peers[p.ID]
	if ok {
		delete(c.peers, p.ID)
		if sp.Outbound {
			c.outboundCnt--
		} else {
			c.inboundCnt--
		}
	}
	if c.syncPeerID.Load() == p.ID {
		c.syncPeerID.Store(0)
	}
	c.mu.Unlock()
	peersGauge.Update(int64(len(c.peers)))

	c.announcedMu.Lock()
	delete(c.announced, p.ID)
	c.announcedMu.Unlock()

	var misbehavior *p2p.MisbehaviorError
	if errors.As(reason, &misbehavior) && ok {
		c.banMgr.Discourage(string(sp.Addr), misbehavior.Reason)
		banMeter.Mark(1)
	}

	c.notify.EmitPeerDisconnected(p.ID, reason.Error())

	if ok {
		c.maybeStartSync()
	}
}

// onMessage is the Peer Engine's post-handshake dispatch target.
func (c *Coordinator) onMessage(p *p2p.Peer, cmd string, payload []byte) {
	switch cmd {
	case wire.CmdHeaders:
		c.handleHeaders(p, payload)
	case wire.CmdGetHeaders:
		c.handleGetHeaders(p, payload)
	case wire.CmdInv:
		c.handleInv(p, payload)
	case wire.CmdGetAddr:
		c.handleGetAddr(p)
	case wire.CmdAddr:
		c.handleAddr(p, payload)
	case wire.CmdGetData, wire.CmdNotFound:
		// headers-first design: no block bodies exist, so getdata/notfound
		// carry no payload this node needs to act on (spec §4.5).
	default:
		log.Debug("unknown command, ignoring", "peer", p.ID, "cmd", cmd)
	}
}

// Peers returns a snapshot of connected peers for the control surface
// (spec §6.3 "get_peer_info", "get_connection_count").
func (c *Coordinator) Peers() []p2p.PeerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]p2p.PeerStats, 0, len(c.peers))
	for _, sp := range c.peers {
		out = append(out, sp.Stats())
	}
	return out
}

// ConnectionCount returns the total number of live peers.
func (c *Coordinator) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// Validation engine exposure for header-sync's PoW pre-checks.
func (c *Coordinator) engine() *validation.Engine { return c.chain.Engine() }
