// Package addrmgr implements the Address Manager (spec §4.5): the known-peer
// database with "new"/"tried" tables, netgroup diversity, staleness
// eviction, and weighted-random selection biased toward proven addresses.
package addrmgr

import (
	"encoding/json"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"
)

// NetAddr is the address book's key: a host:port pair. Equality/hashing is
// by string form so it works as a map key directly.
type NetAddr string

func New(ip net.IP, port uint16) NetAddr {
	return NetAddr(net.JoinHostPort(ip.String(), strconv.Itoa(int(port))))
}

// entry is one address book record, kept in either the new or tried table
// (never both, per spec §4.5).
type entry struct {
	Addr        NetAddr   `json:"addr"`
	Services    uint64    `json:"services"`
	Timestamp   time.Time `json:"timestamp"`
	LastSuccess time.Time `json:"last_success"`
	Attempts    int       `json:"attempts"`
	Tried       bool      `json:"tried"`
}

func (e *entry) terrible(now time.Time) bool {
	if e.Attempts >= maxFailures {
		return true
	}
	if now.Sub(e.Timestamp) > staleAfter && e.LastSuccess.IsZero() {
		return true
	}
	return false
}

const (
	maxFailures = 10
	staleAfter  = 30 * 24 * time.Hour
)

// Manager is the Address Manager. All methods are safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	book  map[NetAddr]*entry
	rng   *rand.Rand
	path  string

	// netgroups tracks how many tried-table entries share a netgroup, for
	// connection-diversity accounting (spec §4.5 "netgroup diversity").
	netgroups map[string]mapset.Set[NetAddr]
}

// NewManager constructs an empty Address Manager; path is where Save/Load
// persist state (spec §6.2 "Address book").
func NewManager(path string) *Manager {
	return &Manager{
		book:      make(map[NetAddr]*entry),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		path:      path,
		netgroups: make(map[string]mapset.Set[NetAddr]),
	}
}

// Add inserts addr into the "new" table with timestamp = now, ignoring any
// caller-supplied stale timestamp (spec §4.5 "add(addr)"). A no-op if the
// address is already known.
func (m *Manager) Add(addr NetAddr, services uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.book[addr]; ok {
		return
	}
	m.book[addr] = &entry{Addr: addr, Services: services, Timestamp: time.Now()}
}

// Good promotes addr from "new" to "tried" (spec §4.5 "good(addr)").
func (m *Manager) Good(addr NetAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.book[addr]
	if !ok {
		e = &entry{Addr: addr, Timestamp: time.Now()}
		m.book[addr] = e
	}
	e.Tried = true
	e.Attempts = 0
	e.LastSuccess = time.Now()
	m.addToNetgroup(addr)
}

// Attempt records a connection attempt against addr.
func (m *Manager) Attempt(addr NetAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.book[addr]; ok {
		e.Attempts++
	}
}

// Failed records a failed connection attempt (spec §4.5 "failed(addr)").
func (m *Manager) Failed(addr NetAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.book[addr]; ok {
		e.Attempts++
		if e.Attempts >= maxFailures {
			log.Debug("address manager: marking terrible", "addr", addr, "attempts", e.Attempts)
		}
	}
}

func (m *Manager) addToNetgroup(addr NetAddr) {
	ng := netgroup(addr)
	s, ok := m.netgroups[ng]
	if !ok {
		s = mapset.NewSet[NetAddr]()
		m.netgroups[ng] = s
	}
	s.Add(addr)
}

// netgroup buckets an address into its diversity group: the /16 for IPv4,
// /32 for IPv6 (spec §4.5, glossary "Netgroup").
func netgroup(addr NetAddr) string {
	host, _, err := net.SplitHostPort(string(addr))
	if err != nil {
		return string(addr)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(16, 32)).String()
	}
	return ip.Mask(net.CIDRMask(32, 128)).String()
}

// Select returns a weighted-random address, biased toward the tried table,
// skipping terrible entries (spec §4.5 "select()"). Returns ("", false) if
// nothing is eligible.
func (m *Manager) Select() (NetAddr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var tried, fresh []NetAddr
	for addr, e := range m.book {
		if e.terrible(now) {
			continue
		}
		if e.Tried {
			tried = append(tried, addr)
		} else {
			fresh = append(fresh, addr)
		}
	}
	// Bias toward tried 2:1, matching Bitcoin Core's rough proportion of
	// preferring addresses known to have worked before.
	const triedBiasOutOf3 = 2
	if len(tried) > 0 && (len(fresh) == 0 || m.rng.Intn(3) < triedBiasOutOf3) {
		return tried[m.rng.Intn(len(tried))], true
	}
	if len(fresh) > 0 {
		return fresh[m.rng.Intn(len(fresh))], true
	}
	return "", false
}

// Prune removes stale/terrible entries (spec §4.5 "stale after 30 days").
func (m *Manager) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for addr, e := range m.book {
		if e.terrible(now) {
			delete(m.book, addr)
			if s, ok := m.netgroups[netgroup(addr)]; ok {
				s.Remove(addr)
			}
		}
	}
}

// Info returns a snapshot for the control surface (spec §6.3
// "get_address_manager_info").
func (m *Manager) Info() (newCount, triedCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.book {
		if e.Tried {
			triedCount++
		} else {
			newCount++
		}
	}
	return newCount, triedCount
}

// persistedState is the on-disk shape, written atomically (spec §6.2
// "Files must be written atomically").
type persistedState struct {
	Entries []*entry `json:"entries"`
}

// Save writes the full address book to disk atomically: temp file + fsync +
// rename (spec §6.2).
func (m *Manager) Save() error {
	m.mu.Lock()
	state := persistedState{Entries: make([]*entry, 0, len(m.book))}
	for _, e := range m.book {
		state.Entries = append(state.Entries, e)
	}
	m.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return writeAtomic(m.path, data)
}

// Load restores the address book from disk, if present.
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
	m.book = make(map[NetAddr]*entry, len(state.Entries))
	for _, e := range state.Entries {
		m.book[e.Addr] = e
		if e.Tried {
			m.addToNetgroup(e.Addr)
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".addrmgr-*.tmp")
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
