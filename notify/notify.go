// Package notify implements the subscription registry notifications fan out
// through (spec §4, §6.4, §9 "Notifications under lock"). Callbacks run
// synchronously under the emitting component's lock and MUST be
// non-blocking; subscribers that need to do real work must post it to their
// own executor.
package notify

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/alpha-project/alphad/core/types"
)

// BlockConnected is emitted when bi is connected to the active chain.
type BlockConnected struct{ Index *types.BlockIndex }

// BlockDisconnected is emitted when bi is disconnected from the active
// chain during a reorg, before any BlockConnected events for the new side
// (spec §4.3, §5 ordering guarantees).
type BlockDisconnected struct{ Index *types.BlockIndex }

// TipUpdated is emitted once per activate_best_chain call that changes the
// tip, after all BlockDisconnected/BlockConnected events for that call.
type TipUpdated struct{ Tip *types.BlockIndex }

// PeerConnected/PeerDisconnected are emitted by the Peer Engine.
type PeerConnected struct {
	PeerID  uint64
	Address string
}
type PeerDisconnected struct {
	PeerID uint64
	Reason string
}

// Registry is the process-wide fan-out point for all five notification
// kinds (spec §6.4). It is a thin composition of go-ethereum's event.Feed,
// one per kind, matching the teacher's chainHeadFeed/chainFeed/chainSideFeed
// idiom in core/blockchain.go.
type Registry struct {
	blockConnected    event.Feed
	blockDisconnected event.Feed
	tipUpdated        event.Feed
	peerConnected     event.Feed
	peerDisconnected  event.Feed

	scope event.SubscriptionScope
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) EmitBlockConnected(bi *types.BlockIndex) {
	r.blockConnected.Send(BlockConnected{Index: bi})
}
func (r *Registry) EmitBlockDisconnected(bi *types.BlockIndex) {
	r.blockDisconnected.Send(BlockDisconnected{Index: bi})
}
func (r *Registry) EmitTipUpdated(bi *types.BlockIndex) {
	r.tipUpdated.Send(TipUpdated{Tip: bi})
}
func (r *Registry) EmitPeerConnected(peerID uint64, addr string) {
	r.peerConnected.Send(PeerConnected{PeerID: peerID, Address: addr})
}
func (r *Registry) EmitPeerDisconnected(peerID uint64, reason string) {
	r.peerDisconnected.Send(PeerDisconnected{PeerID: peerID, Reason: reason})
}

func (r *Registry) SubscribeBlockConnected(ch chan<- BlockConnected) event.Subscription {
	return r.scope.Track(r.blockConnected.Subscribe(ch))
}
func (r *Registry) SubscribeBlockDisconnected(ch chan<- BlockDisconnected) event.Subscription {
	return r.scope.Track(r.blockDisconnected.Subscribe(ch))
}
func (r *Registry) SubscribeTipUpdated(ch chan<- TipUpdated) event.Subscription {
	return r.scope.Track(r.tipUpdated.Subscribe(ch))
}
func (r *Registry) SubscribePeerConnected(ch chan<- PeerConnected) event.Subscription {
	return r.scope.Track(r.peerConnected.Subscribe(ch))
}
func (r *Registry) SubscribePeerDisconnected(ch chan<- PeerDisconnected) event.Subscription {
	return r.scope.Track(r.peerDisconnected.Subscribe(ch))
}

// Close tears down every subscription created via Subscribe* above, for
// clean process shutdown.
func (r *Registry) Close() {
	r.scope.Close()
}
