// Package banman implements BanMan (spec §4.5): the banned/discouraged
// address sets consulted before every outbound dial and inbound accept.
package banman

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/alpha-project/alphad/params"
)

type banEntry struct {
	Host    string    `json:"host"`
	Reason  string    `json:"reason"`
	Expires time.Time `json:"expires"` // zero = permanent
}

func (e *banEntry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && now.After(e.Expires)
}

// Manager tracks manual bans (long/permanent) and automatic discouragements
// (24h default, spec §4.5 "BanMan").
type Manager struct {
	mu   sync.Mutex
	bans map[string]*banEntry
	path string
}

func NewManager(path string) *Manager {
	return &Manager{bans: make(map[string]*banEntry), path: path}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Ban adds a manual, caller-specified-duration ban (spec §6.3 "set_ban").
// duration == 0 means permanent.
func (m *Manager) Ban(addr, reason string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := hostOf(addr)
	e := &banEntry{Host: host, Reason: reason}
	if duration > 0 {
		e.Expires = time.Now().Add(duration)
	}
	m.bans[host] = e
	log.Info("banned address", "addr", host, "reason", reason, "duration", duration)
}

// Discourage is the automatic path taken when a peer's misbehavior score
// reaches the disconnect threshold (spec §4.4/§4.5): a soft, time-limited
// block, weaker than a manual ban.
func (m *Manager) Discourage(addr, reason string) {
	m.Ban(addr, reason, params.DefaultDiscourageDuration)
}

// IsBanned reports whether addr (or its bare host) is currently
// banned/discouraged; expired entries are treated as not-banned and swept
// lazily (spec §4.5 "is_banned(addr): checked before opening any connection
// and before accepting any inbound").
func (m *Manager) IsBanned(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	host := hostOf(addr)
	e, ok := m.bans[host]
	if !ok {
		return false
	}
	if e.expired(time.Now()) {
		delete(m.bans, host)
		return false
	}
	return true
}

// ListBanned returns all currently-active ban entries (spec §6.3 "list_banned").
func (m *Manager) ListBanned() []banEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]banEntry, 0, len(m.bans))
	for host, e := range m.bans {
		if e.expired(now) {
			delete(m.bans, host)
			continue
		}
		out = append(out, *e)
	}
	return out
}

// ClearBanned removes every ban (spec §6.3 "clear_banned").
func (m *Manager) ClearBanned() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans = make(map[string]*banEntry)
}

// Unban removes a single entry.
func (m *Manager) Unban(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bans, hostOf(addr))
}

type persistedState struct {
	Bans []*banEntry `json:"bans"`
}

// Save persists the ban list atomically (spec §6.2 "Ban list").
func (m *Manager) Save() error {
	m.mu.Lock()
	state := persistedState{Bans: make([]*banEntry, 0, len(m.bans))}
	for _, e := range m.bans {
		state.Bans = append(state.Bans, e)
	}
	m.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return writeAtomic(m.path, data)
}

// Load restores the ban list from disk, if present.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans = make(map[string]*banEntry, len(state.Bans))
	for _, e := range state.Bans {
		m.bans[e.Host] = e
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".banman-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
