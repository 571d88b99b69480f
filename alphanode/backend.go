// Package alphanode wires the Block Index Store, validation Engine,
// Chainstate Manager, Address Manager, BanMan, and Sync Coordinator into a
// single node.Lifecycle service, grounded on the teacher's mive/backend.go
// (New(stack, config), stack.RegisterLifecycle(service), Start/Stop).
package alphanode

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/node"

	"github.com/alpha-project/alphad/addrmgr"
	"github.com/alpha-project/alphad/alphanode/alphaconfig"
	"github.com/alpha-project/alphad/banman"
	"github.com/alpha-project/alphad/chainstate"
	"github.com/alpha-project/alphad/core"
	"github.com/alpha-project/alphad/internal/shutdowncheck"
	"github.com/alpha-project/alphad/notify"
	"github.com/alpha-project/alphad/params"
	"github.com/alpha-project/alphad/sync"
	"github.com/alpha-project/alphad/validation"
)

// Alpha implements the Alpha headers-only node service.
type Alpha struct {
	config *alphaconfig.Config
	params *params.ConsensusParams

	chainDb ethdb.Database

	store   *core.Store
	engine  *validation.Engine
	notify  *notify.Registry
	chain   *chainstate.Manager
	addrMgr *addrmgr.Manager
	banMgr  *banman.Manager
	coord   *sync.Coordinator

	listener net.Listener

	shutdownTracker *shutdowncheck.ShutdownTracker

	quit chan struct{}
}

// New constructs the Alpha service and registers it as a node.Lifecycle on
// stack (spec §4.6 AMBIENT STACK "Node lifecycle").
func New(stack *node.Node, config *alphaconfig.Config) (*Alpha, error) {
	cp := config.Network.Params()

	chainDb, err := stack.OpenDatabaseWithFreezer(
		"chaindata",
		config.DatabaseCache,
		config.DatabaseHandles,
		"",
		"alpha/db/chaindata/",
		false,
	)
	if err != nil {
		return nil, fmt.Errorf("open chain database: %w", err)
	}

	store, err := core.LoadStore(cp, chainDb)
	if err != nil {
		chainDb.Close()
		return nil, fmt.Errorf("load block index store: %w", err)
	}

	rx := validation.NewLRUCachingEngine(validation.ReferenceEngine{})
	engine := validation.NewEngine(cp, rx)
	reg := notify.NewRegistry()
	chainMgr := chainstate.NewManager(cp, store, engine, reg)

	addrMgr := addrmgr.NewManager(filepath.Join(stack.ResolvePath(""), "peers.json"))
	if err := addrMgr.Load(); err != nil {
		log.Warn("failed to load address manager state", "err", err)
	}
	for _, anchor := range config.Anchors {
		addrMgr.Add(addrmgr.NetAddr(anchor), 0)
	}

	banMgr := banman.NewManager(filepath.Join(stack.ResolvePath(""), "banlist.json"))
	if err := banMgr.Load(); err != nil {
		log.Warn("failed to load ban list", "err", err)
	}

	coord := sync.New(cp, chainMgr, addrMgr, banMgr, reg, config.MaxOutboundPeers, config.MaxInboundPeers)

	a := &Alpha{
		config:          config,
		params:          cp,
		chainDb:         chainDb,
		store:           store,
		engine:          engine,
		notify:          reg,
		chain:           chainMgr,
		addrMgr:         addrMgr,
		banMgr:          banMgr,
		coord:           coord,
		shutdownTracker: shutdowncheck.NewShutdownTracker(chainDb),
		quit:            make(chan struct{}),
	}

	stack.RegisterLifecycle(a)

	a.shutdownTracker.MarkStartup()

	return a, nil
}

// Chain exposes the Chainstate Manager for the control surface (spec §6.3).
func (a *Alpha) Chain() *chainstate.Manager { return a.chain }

// Coordinator exposes the Sync Coordinator for the control surface.
func (a *Alpha) Coordinator() *sync.Coordinator { return a.coord }

// AddrManager exposes the Address Manager for the control surface.
func (a *Alpha) AddrManager() *addrmgr.Manager { return a.addrMgr }

// BanManager exposes BanMan for the control surface.
func (a *Alpha) BanManager() *banman.Manager { return a.banMgr }

// Notify exposes the notification registry for subscribers outside the
// control surface (e.g. a future mining/relay integration).
func (a *Alpha) Notify() *notify.Registry { return a.notify }

// Start implements node.Lifecycle: opens the peer listener, starts the
// outbound connection driver, and begins periodic persistence.
func (a *Alpha) Start() error {
	a.shutdownTracker.Start()

	if a.config.ListenAddr != "" {
		ln, err := net.Listen("tcp", a.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", a.config.ListenAddr, err)
		}
		a.listener = ln
		go a.acceptLoop(ln)
	}

	go a.coord.Run(a.quit)
	go a.persistLoop()

	log.Info("alpha node started", "network", a.params.NetworkName, "listen", a.config.ListenAddr)
	return nil
}

func (a *Alpha) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return
			default:
				log.Warn("accept failed", "err", err)
				continue
			}
		}
		if _, err := a.coord.AcceptConnection(conn, false, sync.UserAgent); err != nil {
			log.Debug("inbound connection rejected", "remote", conn.RemoteAddr(), "err", err)
		}
	}
}

func (a *Alpha) persistLoop() {
	ticker := time.NewTicker(a.config.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.quit:
			return
		case <-ticker.C:
			a.persist()
		}
	}
}

func (a *Alpha) persist() {
	if err := a.store.Persist(a.chainDb); err != nil {
		log.Warn("failed to persist block index store", "err", err)
	}
	if err := a.addrMgr.Save(); err != nil {
		log.Warn("failed to persist address manager", "err", err)
	}
	if err := a.banMgr.Save(); err != nil {
		log.Warn("failed to persist ban list", "err", err)
	}
}

// Stop implements node.Lifecycle: persists final state and tears down the
// listener and outbound driver.
func (a *Alpha) Stop() error {
	close(a.quit)
	if a.listener != nil {
		a.listener.Close()
	}
	a.coord.Shutdown()
	if err := a.store.Persist(a.chainDb); err != nil {
		log.Warn("failed to persist block index store", "err", err)
	}
	a.shutdownTracker.Stop()

	return a.chainDb.Close()
}
