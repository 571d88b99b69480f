package sync

import (
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/alpha-project/alphad/p2p"
	"github.com/alpha-project/alphad/params"
)

// dialInterval is how often the outbound connection driver checks whether
// it is below its outbound target (spec §4.5 "Outbound connection driver").
const dialInterval = 5 * time.Second

// UserAgent is sent in this node's outgoing version messages.
const UserAgent = "/alphad:0.1.0/"

// Run drives periodic liveness checks and the outbound connection
// maintenance loop until stop is closed.
func (c *Coordinator) Run(stop <-chan struct{}) {
	dialTicker := time.NewTicker(dialInterval)
	defer dialTicker.Stop()
	pingTicker := time.NewTicker(params.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-dialTicker.C:
			c.maintainOutbound()
		case <-pingTicker.C:
			c.checkLiveness()
		}
	}
}

func (c *Coordinator) checkLiveness() {
	now := time.Now()
	c.mu.Lock()
	peers := make([]*Peer, 0, len(c.peers))
	for _, sp := range c.peers {
		peers = append(peers, sp)
	}
	c.mu.Unlock()
	for _, sp := range peers {
		if sp.State() != p2p.StateDisconnected {
			sp.SendPing()
			sp.CheckLiveness(now)
		}
	}
}

// maintainOutbound keeps the outbound connection count at target, selecting
// addresses via the Address Manager and respecting BanMan (spec §4.5
// "Outbound connection driver").
func (c *Coordinator) maintainOutbound() {
	c.mu.Lock()
	deficit := c.maxOutbound - c.outboundCnt
	c.mu.Unlock()
	if deficit <= 0 {
		return
	}

	for i := 0; i < deficit; i++ {
		addr, ok := c.addrMgr.Select()
		if !ok {
			return
		}
		if c.banMgr.IsBanned(string(addr)) {
			continue
		}
		c.addrMgr.Attempt(addr)

		conn, err := net.DialTimeout("tcp", string(addr), 10*time.Second)
		if err != nil {
			log.Debug("outbound dial failed", "addr", addr, "err", err)
			c.addrMgr.Failed(addr)
			continue
		}
		if _, err := c.AcceptConnection(conn, true, UserAgent); err != nil {
			log.Debug("outbound connection rejected", "addr", addr, "err", err)
			c.addrMgr.Failed(addr)
			continue
		}
		c.addrMgr.Good(addr)
	}
}

// Shutdown persists the Address Manager and BanMan state and closes the
// Coordinator's quit channel (spec §6.2 "periodically... at shutdown"). It
// does not stop Run, which exits on its own stop channel, and it neither
// disconnects live peers nor refuses later AcceptConnection calls.
func (c *Coordinator) Shutdown() {
	if err := c.addrMgr.Save(); err != nil {
		log.Warn("failed to persist address manager", "err", err)
	}
	if err := c.banMgr.Save(); err != nil {
		log.Warn("failed to persist ban list", "err", err)
	}
	close(c.quit)
}
