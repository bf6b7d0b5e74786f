package peer

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/logging"
)

// ServerAddressIp is a resolved operational transport endpoint. IPv6 vs
// IPv4 is determined by the literal in IP; the two families select
// different bind interfaces (`::` vs `0.0.0.0`), see InterfaceFor.
type ServerAddressIp struct {
	IP   string
	Port uint16
}

// DiscoveryData is the opaque bag of session-parameter hints recovered from
// mDNS TXT records, recognized keys SII/SAI/SAT (idle interval, active
// interval, active threshold, all milliseconds). Used to seed unsecure
// session parameters before CASE succeeds.
type DiscoveryData struct {
	IdleIntervalMs     uint32
	ActiveIntervalMs   uint32
	ActiveThresholdMs  uint32
	HasIdleInterval    bool
	HasActiveInterval  bool
	HasActiveThreshold bool
}

// OperationalPeer is a peer known to this node: its canonical identity, the
// last operational transport address it was reached at (if any), and any
// discovery-derived session hints. Mutated only by PeerSet while holding its
// logical exclusivity over the address; destroyed only by explicit Delete.
type OperationalPeer struct {
	Address         *Address
	OperationalAddr *ServerAddressIp
	Discovery       *DiscoveryData
}

// Clone returns a deep copy safe to hand to a caller without aliasing
// PeerSet's internal state. Mirrors pkg/matter/storage_memory.go's
// clone-before-return discipline.
func (p *OperationalPeer) Clone() *OperationalPeer {
	if p == nil {
		return nil
	}
	clone := &OperationalPeer{Address: p.Address}
	if p.OperationalAddr != nil {
		addr := *p.OperationalAddr
		clone.OperationalAddr = &addr
	}
	if p.Discovery != nil {
		dd := *p.Discovery
		clone.Discovery = &dd
	}
	return clone
}

// Store is the interface PeerSet consumes for durable peer persistence.
// Failures are non-fatal for already-running connections and are propagated
// for explicit mutations (see PeerSet.Delete).
type Store interface {
	LoadPeers() ([]*OperationalPeer, error)
	UpdatePeer(p *OperationalPeer) error
	DeletePeer(addr *Address) error
}

// MemoryStore is an in-memory Store implementation, fronted by a bounded
// LRU so repeated LoadPeers-style traffic under unbounded peer churn stays
// O(cache size) rather than O(all peers ever seen). Grounded in
// pkg/matter/storage_memory.go (clone-on-read/write) plus the pack's
// golang-lru usage for bounded caches.
type MemoryStore struct {
	mu     sync.RWMutex
	byAddr map[*Address]*OperationalPeer
	front  *lru.Cache[string, *OperationalPeer]

	log logging.LeveledLogger
}

// DefaultStoreCacheSize is the default front-cache capacity for MemoryStore.
const DefaultStoreCacheSize = 256

// StoreConfig configures a MemoryStore.
type StoreConfig struct {
	// LoggerFactory creates the store's logger. If nil, mutations are not
	// logged.
	LoggerFactory logging.LoggerFactory
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(config StoreConfig) *MemoryStore {
	front, _ := lru.New[string, *OperationalPeer](DefaultStoreCacheSize)
	s := &MemoryStore{
		byAddr: make(map[*Address]*OperationalPeer),
		front:  front,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("peer-store")
	}
	return s
}

// LoadPeers returns all stored peers.
func (s *MemoryStore) LoadPeers() ([]*OperationalPeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*OperationalPeer, 0, len(s.byAddr))
	for _, p := range s.byAddr {
		result = append(result, p.Clone())
	}
	return result, nil
}

// UpdatePeer stores or updates a peer record, keyed by its canonical
// address. Idempotent: writing the same record twice is a no-op observably.
func (s *MemoryStore) UpdatePeer(p *OperationalPeer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := p.Clone()
	s.byAddr[p.Address] = clone
	s.front.Add(p.Address.String(), clone)
	if s.log != nil {
		s.log.Tracef("peer store mutation %s: upsert %s", uuid.New().String(), p.Address)
	}
	return nil
}

// DeletePeer removes the record for addr. A delete on an unknown peer is a
// silent no-op.
func (s *MemoryStore) DeletePeer(addr *Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byAddr, addr)
	s.front.Remove(addr.String())
	if s.log != nil {
		s.log.Tracef("peer store mutation %s: delete %s", uuid.New().String(), addr)
	}
	return nil
}

// Lookup is a fast path for reading a single peer through the front cache
// without walking the whole store; not part of the Store interface, used
// internally where only one record is needed.
func (s *MemoryStore) Lookup(addr *Address) (*OperationalPeer, bool) {
	if p, ok := s.front.Get(addr.String()); ok {
		return p.Clone(), true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byAddr[addr]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

var _ Store = (*MemoryStore)(nil)
