// Package alphaconfig defines alphad's TOML/CLI-configurable settings,
// mirroring the teacher's mive/miveconfig package's flat, struct-tag-free
// Config shape.
package alphaconfig

import (
	"time"

	"github.com/alpha-project/alphad/params"
)

// Network selects which ConsensusParams preset a node runs with.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// Params resolves the Network selector to its ConsensusParams, defaulting to
// Mainnet for an unset or unrecognized value.
func (n Network) Params() *params.ConsensusParams {
	switch n {
	case Testnet:
		return params.TestnetParams
	case Regtest:
		return params.RegtestParams
	default:
		return params.MainnetParams
	}
}

// Config contains configuration options for the Alpha node service.
type Config struct {
	// Network selects mainnet/testnet/regtest consensus parameters.
	Network Network

	// ListenAddr is the TCP address the peer listener binds (spec §4.5).
	ListenAddr string

	// MaxOutboundPeers and MaxInboundPeers override the network defaults
	// (params.DefaultMaxOutbound/DefaultMaxInbound) when non-zero.
	MaxOutboundPeers int
	MaxInboundPeers  int

	// Anchors are peer addresses dialed first and persisted across restarts
	// independently of normal Address Manager selection (SPEC_FULL
	// SUPPLEMENTED "Anchor connections").
	Anchors []string

	// PersistInterval is how often the Block Index Store, Address Manager,
	// and BanMan are flushed to disk while running (spec §6.2).
	PersistInterval time.Duration `toml:",omitempty"`

	// DatabaseCache and DatabaseHandles size the chain database (spec §6.2).
	DatabaseCache   int
	DatabaseHandles int `toml:"-"`
}

// DefaultConfig is the built-in baseline, overridden by TOML/CLI flags.
var DefaultConfig = Config{
	Network:         Mainnet,
	ListenAddr:      ":8733",
	PersistInterval: 5 * time.Minute,
	DatabaseCache:   512,
}
