package sync

import (
	"net"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/alpha-project/alphad/addrmgr"
	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/p2p"
	"github.com/alpha-project/alphad/p2p/wire"
	"github.com/alpha-project/alphad/params"
	"github.com/alpha-project/alphad/validation"
)

// buildLocator constructs a geometric block locator from tip back to
// genesis, capped at MaxLocatorSize (spec §4.5 "Build a block locator").
func (c *Coordinator) buildLocator(tip *types.BlockIndex) []common.Hash {
	var locator []common.Hash
	step := int32(1)
	height := tip.Height
	cur := tip
	for {
		locator = append(locator, cur.Hash)
		if len(locator) >= params.MaxLocatorSize || height == 0 {
			break
		}
		next := height - step
		if next < 0 {
			next = 0
		}
		for cur.Height > next {
			if cur.Parent == nil {
				break
			}
			cur = cur.Parent
		}
		height = next
		if len(locator) >= 10 {
			step *= 2
		}
	}
	return locator
}

// maybeStartSync picks a sync peer if none is set, matching btcd's
// startSync candidate selection (spec §4.5 "Request... sent to sync_peer_id
// when empty").
func (c *Coordinator) maybeStartSync() {
	if c.syncPeerID.Load() != 0 {
		return
	}
	c.mu.Lock()
	var candidate *Peer
	for _, sp := range c.peers {
		if sp.State() == p2p.StateReady {
			candidate = sp
			break
		}
	}
	c.mu.Unlock()
	if candidate == nil {
		return
	}
	c.requestHeadersFrom(candidate, c.chain.Store().ActiveChainTip())
}

func (c *Coordinator) requestHeadersFrom(sp *Peer, from *types.BlockIndex) {
	locator := c.buildLocator(from)
	c.sendGetHeaders(sp, locator, common.Hash{})
}

// requestMoreFromHash is used when the branch being synced is not yet
// indexed (the anti-DoS "batch full" re-request and the step-9 follow-up
// both key off the last received header's hash rather than a BlockIndex,
// spec §4.5 steps 6 and 9).
func (c *Coordinator) requestMoreFromHash(sp *Peer, lastHash common.Hash) {
	c.sendGetHeaders(sp, []common.Hash{lastHash}, common.Hash{})
}

func (c *Coordinator) sendGetHeaders(sp *Peer, locator []common.Hash, hashStop common.Hash) {
	if err := sp.SendGetHeaders(locator, hashStop); err != nil {
		log.Warn("failed to send getheaders", "peer", sp.ID, "err", err)
		return
	}
	c.syncPeerID.Store(sp.ID)
}

// handleHeaders implements spec §4.5's ten-step "Response handling for
// headers(H[])".
func (c *Coordinator) handleHeaders(p *p2p.Peer, payload []byte) {
	msg, err := wire.DecodeHeadersMsg(payload)
	if err != nil {
		p.Misbehave("bad-headers-decode", p2p.PenaltyOversizedMessage)
		return
	}
	headersRecvMeter.Mark(int64(len(msg.Headers)))

	// Step 2: empty batch means the peer has nothing more to offer.
	if len(msg.Headers) == 0 {
		if c.syncPeerID.Load() == p.ID {
			c.syncPeerID.Store(0)
		}
		return
	}

	sp := c.wrapPeerLookup(p.ID)
	if sp == nil {
		return
	}

	store := c.chain.Store()
	first := msg.Headers[0]

	// Step 3: connecting check.
	startChain, ok := store.Lookup(first.PrevHash)
	if !ok {
		p.RecordUnconnectingHeaders()
		return
	}

	// Step 4: COMMITMENT_ONLY PoW on every element.
	if err := c.engine().CheckHeadersPoW(msg.Headers); err != nil {
		p.Misbehave("high-hash", p2p.PenaltyInvalidPoW)
		return
	}

	// Step 5: continuity.
	if err := validation.CheckHeadersAreContinuous(msg.Headers); err != nil {
		p.Misbehave("non-continuous-headers", p2p.PenaltyNonContinuousHeads)
		return
	}

	// Step 6: anti-DoS work threshold, post-IBD only.
	isIBD := c.chain.IsInitialBlockDownload()
	if !isIBD {
		lastHash := msg.Headers[len(msg.Headers)-1].Hash()
		skip := false
		if last, ok := store.Lookup(lastHash); ok && !last.ChainWork.IsZero() {
			skip = true // "skip" optimization: batch already fully indexed
		}
		if !skip {
			tip := store.ActiveChainTip()
			batchWork := validation.CalculateHeadersWork(msg.Headers)
			total := new(uint256.Int).Add(startChain.ChainWork, batchWork)
			threshold := validation.GetAntiDoSWorkThreshold(tip, c.params, false)
			if total.Cmp(threshold) < 0 {
				if len(msg.Headers) < params.MaxHeadersSize {
					// Peer has no more to offer on this branch; wait rather
					// than reject (spec §4.5 step 6).
					return
				}
				c.requestMoreFromHash(sp, lastHash)
				return
			}
		}
	}

	// Step 7: feed each header through chainstate.accept_block_header.
	for _, h := range msg.Headers {
		_, reject := c.chain.AcceptBlockHeader(h, p.ID)
		if reject == nil || reject.Soft {
			continue
		}
		switch reject.Code {
		case "high-hash", "bad-prev", "bad-diffbits", "time-too-old", "time-too-new", "bad-version":
			p.Misbehave(reject.Code, p2p.PenaltyInvalidPoW)
			return
		}
	}

	// Step 8: activate once per batch, not per header.
	c.chain.ActivateBestChain()
	c.lastBatchSize.Store(int32(len(msg.Headers)))

	c.relayNewTip()

	// Steps 9-10: request more iff the batch was full and we're still the
	// sync peer; clear sync_peer_id otherwise once past IBD.
	stillSyncPeer := c.syncPeerID.Load() == p.ID
	if len(msg.Headers) == params.MaxHeadersSize && stillSyncPeer {
		c.requestMoreFromHash(sp, msg.Headers[len(msg.Headers)-1].Hash())
		return
	}
	if !c.chain.IsInitialBlockDownload() && stillSyncPeer {
		c.syncPeerID.Store(0)
	}
}

func (c *Coordinator) wrapPeerLookup(id uint64) *Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[id]
}

// handleGetHeaders builds a headers response from the caller's locator
// (spec §4.5 "On receiving getheaders").
func (c *Coordinator) handleGetHeaders(p *p2p.Peer, payload []byte) {
	msg, err := wire.DecodeGetHeadersMsg(payload)
	if err != nil {
		p.Misbehave("oversized-locator", p2p.PenaltyOversizedMessage)
		return
	}
	store := c.chain.Store()

	fork := store.Genesis()
	for _, h := range msg.Locator {
		if bi, ok := store.Lookup(h); ok && store.ActiveChainContains(bi) {
			fork = bi
			break
		}
	}

	var headers []*types.Header
	for height := fork.Height + 1; len(headers) < params.MaxHeadersSize; height++ {
		bi, ok := store.ActiveChainAt(height)
		if !ok {
			break
		}
		headers = append(headers, bi.Header)
		if bi.Hash == msg.HashStop {
			break
		}
	}

	sp := c.wrapPeerLookup(p.ID)
	if sp == nil {
		return
	}
	if err := sp.SendHeaders(&wire.HeadersMsg{Headers: headers}); err != nil {
		log.Warn("failed to send headers", "peer", p.ID, "err", err)
	}
}

// handleInv implements the headers-first inventory path: any unknown
// announced hash triggers a getheaders round-trip (spec §4.5
// "Block-announcement relay").
func (c *Coordinator) handleInv(p *p2p.Peer, payload []byte) {
	invs, err := wire.DecodeInv(payload)
	if err != nil {
		p.Misbehave("oversized-message", p2p.PenaltyOversizedMessage)
		return
	}
	store := c.chain.Store()
	unknown := false
	for _, iv := range invs {
		if _, ok := store.Lookup(iv.Hash); !ok {
			unknown = true
		}
	}
	if !unknown {
		return
	}
	sp := c.wrapPeerLookup(p.ID)
	if sp == nil {
		return
	}
	c.requestHeadersFrom(sp, store.ActiveChainTip())
}

func (c *Coordinator) handleGetAddr(p *p2p.Peer) {
	sp := c.wrapPeerLookup(p.ID)
	if sp == nil {
		return
	}
	_ = sp.SendAddr(&wire.AddrMsg{})
}

func (c *Coordinator) handleAddr(p *p2p.Peer, payload []byte) {
	msg, err := wire.DecodeAddrMsg(payload)
	if err != nil {
		p.Misbehave("oversized-message", p2p.PenaltyOversizedMessage)
		return
	}
	for _, a := range msg.Addrs {
		c.addrMgr.Add(addrmgr.New(net.IP(a.Addr.IP[:]), a.Addr.Port), a.Addr.Services)
	}
}

// relayNewTip sends inv(block, tip) to every ready peer that hasn't already
// been told about this tip (spec §4.5 "On block_connected notification").
func (c *Coordinator) relayNewTip() {
	tip := c.chain.Store().ActiveChainTip()
	if tip == nil {
		return
	}
	c.mu.Lock()
	peers := make([]*Peer, 0, len(c.peers))
	for _, sp := range c.peers {
		if sp.State() == p2p.StateReady {
			peers = append(peers, sp)
		}
	}
	c.mu.Unlock()

	for _, sp := range peers {
		c.announcedMu.Lock()
		already := c.announced[sp.ID] == tip.Hash
		if !already {
			c.announced[sp.ID] = tip.Hash
		}
		c.announcedMu.Unlock()
		if already {
			continue
		}
		_ = sp.SendInv([]wire.InventoryVector{{Type: wire.InvTypeBlock, Hash: tip.Hash}})
	}
}
