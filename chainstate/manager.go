// Package chainstate implements the Chainstate Manager (spec §4.3): the
// orchestrator that owns the Block Index Store and the Validation Engine and
// implements header acceptance, candidate-tip tracking, best-chain
// selection, reorganization, the orphan pool, and the IBD latch.
package chainstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/alpha-project/alphad/core"
	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/notify"
	"github.com/alpha-project/alphad/params"
	"github.com/alpha-project/alphad/validation"
)

var (
	headerCountGauge = metrics.NewRegisteredGauge("chainstate/headers", nil)
	reorgMeter       = metrics.NewRegisteredMeter("chainstate/reorgs", nil)
	orphanGauge      = metrics.NewRegisteredGauge("chainstate/orphans", nil)
)

// Manager is the Chainstate Manager. All exported methods acquire mu
// themselves; unexported *Locked methods assume the caller already holds it
// (spec §9 "Re-entrant mutex" — see DESIGN.md for why this repo uses the
// public/private split instead of a hand-rolled reentrant lock).
type Manager struct {
	params *params.ConsensusParams
	store  *core.Store
	engine *validation.Engine
	notify *notify.Registry

	mu        sync.Mutex
	orphans   *orphanPool
	candidates *candidateTipSet

	cachedFinishedIBD atomic.Bool

	clock func() time.Time
}

// NewManager constructs a Chainstate Manager wired to store/engine/notify
// for the given network parameters.
func NewManager(p *params.ConsensusParams, store *core.Store, engine *validation.Engine, reg *notify.Registry) *Manager {
	m := &Manager{
		params:     p,
		store:      store,
		engine:     engine,
		notify:     reg,
		orphans:    newOrphanPool(p),
		candidates: newCandidateTipSet(),
		clock:      time.Now,
	}
	m.candidates.add(store.Genesis())
	return m
}

// AcceptBlockHeader is the one path all new headers take (spec §4.3).
func (m *Manager) AcceptBlockHeader(h *types.Header, peerID uint64) (*types.BlockIndex, *RejectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acceptBlockHeaderLocked(h, peerID, 0)
}

// acceptBlockHeaderLocked implements spec §4.3's numbered steps. depth is
// zero for a header arriving from outside and positive for one promoted by
// the orphan cascade; only the depth-zero call runs the cascade, so it never
// recurses and its work queue is bounded by MaxOrphanCascadeDepth (spec §4.3
// "Header acceptance under concurrency", §9 "Deeply nested orphan
// processing").
func (m *Manager) acceptBlockHeaderLocked(h *types.Header, peerID uint64, depth int) (*types.BlockIndex, *RejectReason) {
	hash := h.Hash()

	// Step 1: duplicate check.
	if existing, ok := m.store.Lookup(hash); ok {
		if existing.Status.Failed() {
			return nil, hard("duplicate", nil)
		}
		return existing, nil
	}

	// Step 2: cheap PoW before any allocation.
	if err := m.engine.CheckBlockHeader(h, validation.CommitmentOnly); err != nil {
		return nil, rejectHighHash(err)
	}

	// Step 3: genesis / malformed prev_hash.
	genesisHash := m.params.GenesisHash()
	if hash == genesisHash {
		return m.store.Genesis(), nil
	}
	if h.PrevHash == (common.Hash{}) {
		return nil, rejectBadPrev(nil)
	}

	// Step 4: parent lookup -> orphan pool.
	parent, ok := m.store.Lookup(h.PrevHash)
	if !ok {
		m.orphans.expireOlderThan(m.clock())
		if reject := m.orphans.add(h, peerID, m.clock()); reject != nil {
			return nil, reject
		}
		orphanGauge.Update(int64(m.orphans.len()))
		return nil, RejectOrphaned
	}

	// Step 5: parent-failure propagation.
	if parent.Status.Failed() {
		bi := m.store.InsertOrGet(h, parent)
		m.store.MarkStatus(bi, types.StatusFailedChild)
		return nil, rejectBadPrev(nil)
	}

	// Step 6: indexing.
	bi := m.store.InsertOrGet(h, parent)
	headerCountGauge.Update(int64(m.store.Len()))

	// Step 7: FULL PoW.
	if err := m.engine.CheckBlockHeader(h, validation.Full); err != nil {
		m.store.MarkStatus(bi, types.StatusFailedValid)
		return nil, rejectHighHash(err)
	}

	// Step 8: contextual check.
	if err := m.engine.ContextualCheckBlockHeader(h, parent, m.clock().Unix()); err != nil {
		m.store.MarkStatus(bi, types.StatusFailedValid)
		switch err {
		case validation.ErrBadDiffBits:
			return nil, rejectBadDiffbits(err)
		case validation.ErrTimeTooOld:
			return nil, rejectTimeTooOld(err)
		case validation.ErrTimeTooNew:
			return nil, rejectTimeTooNew(err)
		case validation.ErrBadVersion:
			return nil, rejectBadVersion(err)
		default:
			return nil, rejectBadDiffbits(err)
		}
	}

	// Step 9: mark VALID_TREE, update candidate tip set.
	m.store.MarkStatus(bi, types.StatusValidHeader|types.StatusValidTree)
	m.candidates.remove(parent)
	m.candidates.add(bi)

	log.Debug("accepted header", "hash", hash, "height", bi.Height, "peer", peerID)

	// Step 10: cascade orphan promotion, iteratively (spec §9). A header
	// promoted from inside the cascade (depth > 0) leaves its own orphan
	// children to the cascade's work queue instead of starting a nested one.
	if depth == 0 {
		m.processOrphanHeaders(hash, depth)
	}

	return bi, nil
}

// processOrphanHeaders re-attempts acceptance of every orphan whose parent
// is parentHash, iteratively via an explicit work queue rather than
// recursion, to survive adversarially deep orphan chains (spec §4.3 step 10,
// §9 "Deeply nested orphan processing").
func (m *Manager) processOrphanHeaders(parentHash common.Hash, depth int) {
	queue := m.orphans.childrenOf(parentHash)
	processed := 0
	for len(queue) > 0 {
		if processed >= m.params.MaxOrphanCascadeDepth {
			log.Warn("orphan cascade depth limit reached", "root", parentHash)
			return
		}
		hash := queue[0]
		queue = queue[1:]

		entry, ok := m.orphans.get(hash)
		if !ok {
			continue
		}
		m.orphans.remove(hash)
		processed++

		bi, _ := m.acceptBlockHeaderLocked(entry.Header, entry.PeerID, depth+1)
		if bi != nil {
			queue = append(queue, m.orphans.childrenOf(bi.Hash)...)
		}
	}
	orphanGauge.Update(int64(m.orphans.len()))
}

// ActivateBestChain implements spec §4.3's best-chain selection: finds the
// candidate with the greatest chain_work (ties broken by smallest
// sequence_id), and if it differs from the current tip, reorganizes onto it
// subject to the suspicious-reorg-depth safety policy.
func (m *Manager) ActivateBestChain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activateBestChainLocked()
}

func (m *Manager) activateBestChainLocked() {
	best := m.candidates.best()
	if best == nil {
		return
	}
	tip := m.store.ActiveChainTip()
	if best.Hash == tip.Hash {
		return
	}

	if depth := m.store.DisconnectDepth(best); uint64(depth) > m.params.SuspiciousReorgDepth {
		log.Warn("refusing deep reorg", "depth", depth, "limit", m.params.SuspiciousReorgDepth, "candidate", best.Hash)
		return
	}

	disconnected, connected := m.store.SetTip(best)
	if len(disconnected) > 0 {
		reorgMeter.Mark(1)
	}
	for _, bi := range disconnected {
		m.notify.EmitBlockDisconnected(bi)
	}
	for _, bi := range connected {
		m.notify.EmitBlockConnected(bi)
	}
	m.notify.EmitTipUpdated(best)
	headerCountGauge.Update(int64(m.store.Len()))
}

// IsInitialBlockDownload implements spec §4.3's IBD determination with a
// lock-free fast path once the one-way latch has tripped.
func (m *Manager) IsInitialBlockDownload() bool {
	if m.cachedFinishedIBD.Load() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isInitialBlockDownloadLocked()
}

func (m *Manager) isInitialBlockDownloadLocked() bool {
	if m.cachedFinishedIBD.Load() {
		return false
	}
	tip := m.store.ActiveChainTip()
	if tip == nil {
		return true
	}
	if tip.ChainWork.Cmp(m.params.MinChainWork) < 0 {
		return true
	}
	tipAge := m.clock().Unix() - int64(tip.Header.Time)
	if tipAge > int64(m.params.MaxTipAge.Seconds()) {
		return true
	}
	m.cachedFinishedIBD.Store(true)
	return false
}

// Store exposes the underlying Block Index Store for read-only callers
// (the control surface, the Sync Coordinator).
func (m *Manager) Store() *core.Store { return m.store }

// Engine exposes the Validation Engine for callers that need the two-tier
// PoW checks directly (e.g. a miner constructing candidates).
func (m *Manager) Engine() *validation.Engine { return m.engine }

// OrphanCount returns the current size of the orphan pool, for RPC/metrics.
func (m *Manager) OrphanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orphans.len()
}
