// Package rpcapi exposes the Alpha node's control surface (spec §6.3) as
// JSON-RPC methods over github.com/ethereum/go-ethereum/rpc, grounded on the
// teacher's consensus.Engine.APIs(chain ChainHeaderReader) []rpc.API pattern
// (consensus/consensus.go).
package rpcapi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alpha-project/alphad/addrmgr"
	"github.com/alpha-project/alphad/banman"
	"github.com/alpha-project/alphad/chainstate"
	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/sync"
)

// Backend is the subset of *alphanode.Alpha the control surface needs. A
// narrow interface here (rather than importing alphanode directly) avoids an
// import cycle, since alphanode registers these APIs with the node stack.
type Backend interface {
	Chain() *chainstate.Manager
	Coordinator() *sync.Coordinator
	AddrManager() *addrmgr.Manager
	BanManager() *banman.Manager
}

// API implements the "alpha" JSON-RPC namespace.
type API struct {
	backend Backend
	regtest bool
	miner   RegtestMiner
}

// RegtestMiner drives the internal reference miner for the regtest-only
// generate(n) RPC (spec §6.3); nil on non-regtest networks.
type RegtestMiner interface {
	Generate(n int) ([]common.Hash, error)
}

// NewAPI constructs the "alpha" namespace API. miner may be nil; Generate
// then always returns an error, matching "regtest only" (spec §6.3).
func NewAPI(backend Backend, regtest bool, miner RegtestMiner) *API {
	return &API{backend: backend, regtest: regtest, miner: miner}
}

// APIs returns the rpc.API descriptors to register with the node stack,
// matching the teacher's consensus.Engine.APIs() return shape.
func APIs(backend Backend, regtest bool, miner RegtestMiner) []rpc.API {
	return []rpc.API{
		{
			Namespace: "alpha",
			Service:   NewAPI(backend, regtest, miner),
			Public:    true,
		},
	}
}

// GetBlockCount returns the active chain's tip height (spec §6.3
// "get_block_count() -> i32").
func (a *API) GetBlockCount() int32 {
	return a.backend.Chain().Store().ActiveChainTip().Height
}

// GetBestBlockHash returns the active chain tip's hash (spec §6.3
// "get_best_block_hash() -> u256").
func (a *API) GetBestBlockHash() common.Hash {
	return a.backend.Chain().Store().ActiveChainTip().Hash
}

// HeaderInfo is the RPC-facing rendering of a BlockIndex's header fields.
type HeaderInfo struct {
	Hash         common.Hash `json:"hash"`
	Version      uint32      `json:"version"`
	PrevHash     common.Hash `json:"prevHash"`
	MinerAddress string      `json:"minerAddress"`
	Time         uint32      `json:"time"`
	Bits         uint32      `json:"bits"`
	Nonce        uint32      `json:"nonce"`
	Height       int32       `json:"height"`
	ChainWork    string      `json:"chainWork"`
}

// GetBlockHeader returns the header for hash, if known (spec §6.3
// "get_block_header(hash) -> Option<Header>").
func (a *API) GetBlockHeader(hash common.Hash) (*HeaderInfo, error) {
	bi, ok := a.backend.Chain().Store().Lookup(hash)
	if !ok {
		return nil, nil
	}
	return toHeaderInfo(bi), nil
}

func toHeaderInfo(bi *types.BlockIndex) *HeaderInfo {
	h := bi.Header
	return &HeaderInfo{
		Hash:         bi.Hash,
		Version:      h.Version,
		PrevHash:     h.PrevHash,
		MinerAddress: hex.EncodeToString(h.MinerAddress[:]),
		Time:         h.Time,
		Bits:         h.Bits,
		Nonce:        h.Nonce,
		Height:       bi.Height,
		ChainWork:    bi.ChainWork.Hex(),
	}
}

// PeerInfo is the RPC-facing rendering of a connected peer (spec §6.3
// "get_peer_info() -> [PeerInfo]").
type PeerInfo struct {
	ID          uint64 `json:"id"`
	Addr        string `json:"addr"`
	Outbound    bool   `json:"outbound"`
	State       string `json:"state"`
	PingTimeMs  int64  `json:"pingTimeMs"`
	UserAgent   string `json:"userAgent"`
	StartHeight int32  `json:"startHeight"`
}

// GetPeerInfo returns all connected peers.
func (a *API) GetPeerInfo() []PeerInfo {
	stats := a.backend.Coordinator().Peers()
	out := make([]PeerInfo, 0, len(stats))
	for _, s := range stats {
		out = append(out, PeerInfo{
			ID:          s.ID,
			Addr:        s.Addr,
			Outbound:    s.Outbound,
			State:       s.State,
			PingTimeMs:  s.PingTimeMs,
			UserAgent:   s.UserAgent,
			StartHeight: s.StartHeight,
		})
	}
	return out
}

// GetConnectionCount returns the number of live peers.
func (a *API) GetConnectionCount() int {
	return a.backend.Coordinator().ConnectionCount()
}

// SetBan bans addr, with duration in seconds (0 = permanent), spec §6.3
// "set_ban(addr, reason, duration)".
func (a *API) SetBan(addr, reason string, durationSeconds int64) {
	a.backend.BanManager().Ban(addr, reason, time.Duration(durationSeconds)*time.Second)
}

// ListBanned returns every active ban/discouragement entry.
func (a *API) ListBanned() []BanInfo {
	entries := a.backend.BanManager().ListBanned()
	out := make([]BanInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, BanInfo{Host: e.Host, Reason: e.Reason, Expires: e.Expires.Unix()})
	}
	return out
}

// BanInfo is the RPC-facing rendering of a ban entry.
type BanInfo struct {
	Host    string `json:"host"`
	Reason  string `json:"reason"`
	Expires int64  `json:"expires"`
}

// ClearBanned removes every ban entry.
func (a *API) ClearBanned() {
	a.backend.BanManager().ClearBanned()
}

// AddrManagerInfo is the RPC-facing rendering of address book counts (spec
// §6.3 "get_address_manager_info() -> {new, tried}").
type AddrManagerInfo struct {
	New   int `json:"new"`
	Tried int `json:"tried"`
}

func (a *API) GetAddressManagerInfo() AddrManagerInfo {
	n, t := a.backend.AddrManager().Info()
	return AddrManagerInfo{New: n, Tried: t}
}

// SubmitHeader feeds a raw 100-byte header through the same acceptance path
// as a peer-delivered header (spec §6.3 "submit_header(header) ->
// Result<(), RejectReason>").
func (a *API) SubmitHeader(headerHex string) error {
	raw, err := hex.DecodeString(headerHex)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	h, err := types.DecodeHeader(raw)
	if err != nil {
		return err
	}
	_, reject := a.backend.Chain().AcceptBlockHeader(h, 0)
	if reject != nil && !reject.Soft {
		return reject
	}
	a.backend.Chain().ActivateBestChain()
	return nil
}

// Generate drives the internal reference miner to produce n headers on the
// active tip (spec §6.3 "generate(n) (regtest only)").
func (a *API) Generate(n int) ([]common.Hash, error) {
	if !a.regtest {
		return nil, errors.New("alpha: generate is only available on regtest")
	}
	if a.miner == nil {
		return nil, errors.New("alpha: no miner configured")
	}
	return a.miner.Generate(n)
}
