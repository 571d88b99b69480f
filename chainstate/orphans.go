package chainstate

import (
	"container/list"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/params"
)

// orphanPool holds headers whose parent is not yet known (spec §3, §4.3.1).
// It is not concurrency-safe on its own; callers hold the Chainstate
// Manager's validation_mutex across every method here.
type orphanPool struct {
	p *params.ConsensusParams

	byHash     map[common.Hash]*list.Element // hash -> node in order (oldest-first)
	order      *list.List                    // of *types.OrphanEntry, oldest at Front
	byParent   map[common.Hash][]common.Hash // parent hash -> orphan hashes waiting on it
	perPeer    map[uint64]int
}

func newOrphanPool(p *params.ConsensusParams) *orphanPool {
	return &orphanPool{
		p:        p,
		byHash:   make(map[common.Hash]*list.Element),
		order:    list.New(),
		byParent: make(map[common.Hash][]common.Hash),
		perPeer:  make(map[uint64]int),
	}
}

func (o *orphanPool) len() int { return o.order.Len() }

// add inserts a new orphan, evicting the oldest entry if the global limit is
// reached. Returns RejectOrphanLimit (without penalizing the peer — orphaning
// is legal, spec §4.3.1) if the per-peer limit is already saturated.
func (o *orphanPool) add(h *types.Header, peerID uint64, now time.Time) *RejectReason {
	hash := h.Hash()
	if _, exists := o.byHash[hash]; exists {
		return nil
	}
	if o.perPeer[peerID] >= params.OrphanPerPeerLimit {
		return RejectOrphanLimit
	}
	if o.order.Len() >= params.OrphanGlobalLimit {
		o.evictOldest()
	}
	entry := &types.OrphanEntry{
		Header:       h,
		Hash:         hash,
		PeerID:       peerID,
		TimeReceived: now.Unix(),
	}
	elem := o.order.PushBack(entry)
	o.byHash[hash] = elem
	o.byParent[h.PrevHash] = append(o.byParent[h.PrevHash], hash)
	o.perPeer[peerID]++
	return nil
}

func (o *orphanPool) evictOldest() {
	front := o.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*types.OrphanEntry)
	log.Debug("evicting oldest orphan header", "hash", entry.Hash, "peer", entry.PeerID)
	o.remove(entry.Hash)
}

// remove deletes an orphan by hash from every index, regardless of whether
// acceptance later succeeds or fails (spec §4.3.1).
func (o *orphanPool) remove(hash common.Hash) {
	elem, ok := o.byHash[hash]
	if !ok {
		return
	}
	entry := elem.Value.(*types.OrphanEntry)
	o.order.Remove(elem)
	delete(o.byHash, hash)
	o.perPeer[entry.PeerID]--
	if o.perPeer[entry.PeerID] <= 0 {
		delete(o.perPeer, entry.PeerID)
	}
	children := o.byParent[entry.Header.PrevHash]
	for i, c := range children {
		if c == hash {
			o.byParent[entry.Header.PrevHash] = append(children[:i], children[i+1:]...)
			break
		}
	}
	if len(o.byParent[entry.Header.PrevHash]) == 0 {
		delete(o.byParent, entry.Header.PrevHash)
	}
}

// childrenOf returns (copies of) the hashes of orphans whose parent is
// exactly parentHash, for the promotion cascade of spec §4.3 step 10.
func (o *orphanPool) childrenOf(parentHash common.Hash) []common.Hash {
	kids := o.byParent[parentHash]
	out := make([]common.Hash, len(kids))
	copy(out, kids)
	return out
}

func (o *orphanPool) get(hash common.Hash) (*types.OrphanEntry, bool) {
	elem, ok := o.byHash[hash]
	if !ok {
		return nil, false
	}
	return elem.Value.(*types.OrphanEntry), true
}

// expireOlderThan removes every orphan whose TimeReceived is older than the
// configured expiry (spec §4.3.1 "swept on each acceptance and periodically").
func (o *orphanPool) expireOlderThan(now time.Time) {
	cutoff := now.Add(-params.OrphanExpireTime).Unix()
	for elem := o.order.Front(); elem != nil; {
		entry := elem.Value.(*types.OrphanEntry)
		next := elem.Next()
		if entry.TimeReceived >= cutoff {
			break // order is oldest-first, so once we see a fresh one we're done
		}
		o.remove(entry.Hash)
		elem = next
	}
}

// countForPeer returns how many orphans are currently attributed to peerID.
func (o *orphanPool) countForPeer(peerID uint64) int {
	return o.perPeer[peerID]
}
