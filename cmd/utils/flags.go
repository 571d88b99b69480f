// Package utils contains internal helper functions for alphad commands.
package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	gethutils "github.com/ethereum/go-ethereum/cmd/utils"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/node"
	"github.com/urfave/cli/v2"

	"github.com/alpha-project/alphad/alphanode/alphaconfig"
	"github.com/alpha-project/alphad/internal/flags"
)

// These are all the command line flags alphad supports. If you add to this
// list, please remember to include the flag in the appropriate command
// definition.
//
// The flags are defined here so their names and help texts are the same for
// all commands.

var (
	// General settings
	DataDirFlag = &flags.DirectoryFlag{
		Name:     "datadir",
		Usage:    "Data directory for the block index and peer state",
		Value:    flags.DirectoryString(node.DefaultDataDir()),
		Category: flags.NetworkCategory,
	}
	DBEngineFlag = &cli.StringFlag{
		Name:     "db.engine",
		Usage:    "Backing database implementation to use ('pebble' or 'leveldb')",
		Value:    "pebble",
		Category: flags.NetworkCategory,
	}
	AncientFlag = &flags.DirectoryFlag{
		Name:     "datadir.ancient",
		Usage:    "Root directory for ancient data (default = inside chaindata)",
		Category: flags.NetworkCategory,
	}

	// Network settings (spec §4.6 "Network selection")
	NetworkFlag = &cli.StringFlag{
		Name:     "network",
		Usage:    "Name of the network to run: mainnet, testnet, or regtest",
		Value:    string(alphaconfig.Mainnet),
		Category: flags.NetworkCategory,
	}
	TestnetFlag = &cli.BoolFlag{
		Name:     "testnet",
		Usage:    "Alpha test network: pre-configured test network with live peers",
		Category: flags.NetworkCategory,
	}
	RegtestFlag = &cli.BoolFlag{
		Name:     "regtest",
		Usage:    "Alpha regression-test network: isolated network with an internal reference miner",
		Category: flags.NetworkCategory,
	}
	ListenAddrFlag = &cli.StringFlag{
		Name:     "port",
		Usage:    "Network listening address for the peer-to-peer protocol",
		Value:    alphaconfig.DefaultConfig.ListenAddr,
		Category: flags.P2PCategory,
	}
	MaxOutboundPeersFlag = &cli.IntFlag{
		Name:     "maxpeers.out",
		Usage:    "Maximum number of outbound peer connections",
		Category: flags.P2PCategory,
	}
	MaxInboundPeersFlag = &cli.IntFlag{
		Name:     "maxpeers.in",
		Usage:    "Maximum number of inbound peer connections",
		Category: flags.P2PCategory,
	}
	AnchorsFlag = &cli.StringFlag{
		Name:     "anchors",
		Usage:    "Comma separated list of host:port peer anchors dialed first and persisted across restarts",
		Category: flags.P2PCategory,
	}

	// API options.
	IPCDisabledFlag = &cli.BoolFlag{
		Name:     "ipcdisable",
		Usage:    "Disable the IPC-RPC server",
		Category: flags.APICategory,
	}
	IPCPathFlag = &flags.DirectoryFlag{
		Name:     "ipcpath",
		Usage:    "Filename for IPC socket/pipe within the datadir (explicit paths escape it)",
		Category: flags.APICategory,
	}
	HTTPEnabledFlag = &cli.BoolFlag{
		Name:     "http",
		Usage:    "Enable the HTTP-RPC server",
		Category: flags.APICategory,
	}
	HTTPListenAddrFlag = &cli.StringFlag{
		Name:     "http.addr",
		Usage:    "HTTP-RPC server listening interface",
		Value:    node.DefaultHTTPHost,
		Category: flags.APICategory,
	}
	HTTPPortFlag = &cli.IntFlag{
		Name:     "http.port",
		Usage:    "HTTP-RPC server listening port",
		Value:    node.DefaultHTTPPort,
		Category: flags.APICategory,
	}
	HTTPCORSDomainFlag = &cli.StringFlag{
		Name:     "http.corsdomain",
		Usage:    "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
		Category: flags.APICategory,
	}
	HTTPVirtualHostsFlag = &cli.StringFlag{
		Name:     "http.vhosts",
		Usage:    "Comma separated list of virtual hostnames from which to accept requests (server enforced). Accepts '*' wildcard.",
		Value:    strings.Join(node.DefaultConfig.HTTPVirtualHosts, ","),
		Category: flags.APICategory,
	}
	HTTPApiFlag = &cli.StringFlag{
		Name:     "http.api",
		Usage:    "API's offered over the HTTP-RPC interface",
		Value:    "alpha",
		Category: flags.APICategory,
	}
	WSEnabledFlag = &cli.BoolFlag{
		Name:     "ws",
		Usage:    "Enable the WS-RPC server",
		Category: flags.APICategory,
	}
	WSListenAddrFlag = &cli.StringFlag{
		Name:     "ws.addr",
		Usage:    "WS-RPC server listening interface",
		Value:    node.DefaultWSHost,
		Category: flags.APICategory,
	}
	WSPortFlag = &cli.IntFlag{
		Name:     "ws.port",
		Usage:    "WS-RPC server listening port",
		Value:    node.DefaultWSPort,
		Category: flags.APICategory,
	}
	WSApiFlag = &cli.StringFlag{
		Name:     "ws.api",
		Usage:    "API's offered over the WS-RPC interface",
		Value:    "alpha",
		Category: flags.APICategory,
	}
	WSAllowedOriginsFlag = &cli.StringFlag{
		Name:     "ws.origins",
		Usage:    "Origins from which to accept websockets requests",
		Category: flags.APICategory,
	}

	// Generate (regtest miner) settings (spec §6.3 "generate(n)")
	GenerateAddressFlag = &cli.StringFlag{
		Name:     "miner.address",
		Usage:    "20-byte hex miner address credited by the regtest generate command",
		Category: flags.MiscCategory,
	}
)

// setHTTP creates the HTTP RPC listener interface string from the set
// command line flags, returning empty if the HTTP endpoint is disabled.
func setHTTP(ctx *cli.Context, cfg *node.Config) {
	if ctx.Bool(HTTPEnabledFlag.Name) && cfg.HTTPHost == "" {
		cfg.HTTPHost = "127.0.0.1"
		if ctx.IsSet(HTTPListenAddrFlag.Name) {
			cfg.HTTPHost = ctx.String(HTTPListenAddrFlag.Name)
		}
	}
	if ctx.IsSet(HTTPPortFlag.Name) {
		cfg.HTTPPort = ctx.Int(HTTPPortFlag.Name)
	}
	if ctx.IsSet(HTTPCORSDomainFlag.Name) {
		cfg.HTTPCors = gethutils.SplitAndTrim(ctx.String(HTTPCORSDomainFlag.Name))
	}
	if ctx.IsSet(HTTPApiFlag.Name) {
		cfg.HTTPModules = gethutils.SplitAndTrim(ctx.String(HTTPApiFlag.Name))
	}
	if ctx.IsSet(HTTPVirtualHostsFlag.Name) {
		cfg.HTTPVirtualHosts = gethutils.SplitAndTrim(ctx.String(HTTPVirtualHostsFlag.Name))
	}
}

// setWS creates the WebSocket RPC listener interface string from the set
// command line flags, returning empty if the WS endpoint is disabled.
func setWS(ctx *cli.Context, cfg *node.Config) {
	if ctx.Bool(WSEnabledFlag.Name) && cfg.WSHost == "" {
		cfg.WSHost = "127.0.0.1"
		if ctx.IsSet(WSListenAddrFlag.Name) {
			cfg.WSHost = ctx.String(WSListenAddrFlag.Name)
		}
	}
	if ctx.IsSet(WSPortFlag.Name) {
		cfg.WSPort = ctx.Int(WSPortFlag.Name)
	}
	if ctx.IsSet(WSAllowedOriginsFlag.Name) {
		cfg.WSOrigins = gethutils.SplitAndTrim(ctx.String(WSAllowedOriginsFlag.Name))
	}
	if ctx.IsSet(WSApiFlag.Name) {
		cfg.WSModules = gethutils.SplitAndTrim(ctx.String(WSApiFlag.Name))
	}
}

// setIPC creates an IPC path configuration from the set command line flags,
// returning an empty string if IPC was explicitly disabled, or the set path.
func setIPC(ctx *cli.Context, cfg *node.Config) {
	gethutils.CheckExclusive(ctx, IPCDisabledFlag, IPCPathFlag)
	switch {
	case ctx.Bool(IPCDisabledFlag.Name):
		cfg.IPCPath = ""
	case ctx.IsSet(IPCPathFlag.Name):
		cfg.IPCPath = ctx.String(IPCPathFlag.Name)
	}
}

// SetNodeConfig applies node-related command line flags to the config.
func SetNodeConfig(ctx *cli.Context, cfg *node.Config) {
	setIPC(ctx, cfg)
	setHTTP(ctx, cfg)
	setWS(ctx, cfg)
	SetDataDir(ctx, cfg)

	if ctx.IsSet(DBEngineFlag.Name) {
		dbEngine := ctx.String(DBEngineFlag.Name)
		if dbEngine != "leveldb" && dbEngine != "pebble" {
			gethutils.Fatalf("Invalid choice for db.engine '%s', allowed 'leveldb' or 'pebble'", dbEngine)
		}
		log.Info(fmt.Sprintf("Using %s as db engine", dbEngine))
		cfg.DBEngine = dbEngine
	}
}

// SetDataDir resolves the node's data directory, defaulting to a
// network-qualified subdirectory of the base data directory the way geth
// does for its preset testnets.
func SetDataDir(ctx *cli.Context, cfg *node.Config) {
	switch {
	case ctx.IsSet(DataDirFlag.Name):
		cfg.DataDir = ctx.String(DataDirFlag.Name)
	case ctx.Bool(TestnetFlag.Name) && cfg.DataDir == node.DefaultDataDir():
		cfg.DataDir = filepath.Join(node.DefaultDataDir(), "testnet")
	case ctx.Bool(RegtestFlag.Name) && cfg.DataDir == node.DefaultDataDir():
		cfg.DataDir = filepath.Join(node.DefaultDataDir(), "regtest")
	}
}

// SetAlphaConfig applies the Alpha-domain command line flags (network
// selection, peer listener, peer caps, anchors) to cfg.
func SetAlphaConfig(ctx *cli.Context, cfg *alphaconfig.Config) {
	switch {
	case ctx.Bool(RegtestFlag.Name):
		cfg.Network = alphaconfig.Regtest
	case ctx.Bool(TestnetFlag.Name):
		cfg.Network = alphaconfig.Testnet
	case ctx.IsSet(NetworkFlag.Name):
		cfg.Network = alphaconfig.Network(ctx.String(NetworkFlag.Name))
	}

	if ctx.IsSet(ListenAddrFlag.Name) {
		cfg.ListenAddr = ctx.String(ListenAddrFlag.Name)
	}
	if ctx.IsSet(MaxOutboundPeersFlag.Name) {
		cfg.MaxOutboundPeers = ctx.Int(MaxOutboundPeersFlag.Name)
	}
	if ctx.IsSet(MaxInboundPeersFlag.Name) {
		cfg.MaxInboundPeers = ctx.Int(MaxInboundPeersFlag.Name)
	}
	if ctx.IsSet(AnchorsFlag.Name) {
		cfg.Anchors = gethutils.SplitAndTrim(ctx.String(AnchorsFlag.Name))
	}
}
