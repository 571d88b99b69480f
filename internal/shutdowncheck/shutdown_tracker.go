// Package shutdowncheck detects whether the previous alphad process exited
// cleanly, adapted from the teacher's internal/shutdowncheck pattern (a
// marker cleared at boot and written on graceful exit) onto this
// node's own rawdb clean-shutdown marker instead of go-ethereum's block
// database.
package shutdowncheck

import (
	"time"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"

	"github.com/alpha-project/alphad/core/rawdb"
)

const updateInterval = 2 * time.Minute

// ShutdownTracker marks this process's liveness so the next startup can
// detect a crash rather than an orderly shutdown (spec §6.2 SUPPLEMENTED
// "Graceful shutdown tracker").
type ShutdownTracker struct {
	db   ethdb.KeyValueStore
	stop chan struct{}
}

func NewShutdownTracker(db ethdb.KeyValueStore) *ShutdownTracker {
	return &ShutdownTracker{db: db, stop: make(chan struct{})}
}

// MarkStartup reports (via log) whether the previous run left the marker,
// then clears it: the marker is only rewritten by Stop on a graceful exit,
// so finding none at startup means the prior process crashed.
func (t *ShutdownTracker) MarkStartup() {
	if rawdb.HadCleanShutdown(t.db) {
		log.Info("previous shutdown was clean")
	} else {
		log.Warn("previous alphad process did not exit cleanly; the block index may need revalidation")
	}
	rawdb.DeleteCleanShutdownMarker(t.db)
}

// Start runs until Stop is called.
func (t *ShutdownTracker) Start() {
	go func() {
		ticker := time.NewTicker(updateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop records a clean shutdown and halts the tracker's background loop.
func (t *ShutdownTracker) Stop() {
	close(t.stop)
	rawdb.WriteCleanShutdownMarker(t.db)
}
