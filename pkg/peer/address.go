// Package peer implements the operational peer connection core: discovering,
// pairing with, and holding live secure channels to commissioned nodes on a
// fabric.
//
// It composes pkg/discovery (mDNS), pkg/securechannel/case (CASE),
// pkg/session and pkg/exchange (secure sessions and reliable messaging), and
// pkg/transport (the wire) into a single PeerSet: connect, disconnect,
// delete, iterate, observe churn.
package peer

import (
	"fmt"
	"sync"

	"github.com/matterkit/peercore/pkg/fabric"
)

// Address is a canonicalized `(fabricIndex, nodeId)` pair. Two structurally
// equal Address values produced by Intern share one representative, so they
// compare identical by pointer identity. This is what lets PeerAddressMap
// use *Address as a map key safely even when callers construct addresses
// independently.
type Address struct {
	FabricIndex fabric.FabricIndex
	NodeID      fabric.NodeID
}

// String renders the canonical `peer@<fabricIndex>:<nodeId>` form. NodeIDs
// above 0xFFFF print in hex with a 0x prefix; smaller ones print decimal.
func (a *Address) String() string {
	if uint64(a.NodeID) > 0xFFFF {
		return fmt.Sprintf("peer@%d:0x%X", a.FabricIndex, uint64(a.NodeID))
	}
	return fmt.Sprintf("peer@%d:%d", a.FabricIndex, uint64(a.NodeID))
}

// Interner canonicalizes (fabricIndex, nodeId) pairs to a single shared
// *Address per pair, two-level map keyed first by fabric then by node id,
// mirroring the locking discipline of session.Table.
type Interner struct {
	mu    sync.RWMutex
	table map[fabric.FabricIndex]map[fabric.NodeID]*Address
}

// NewInterner creates an empty interning table.
func NewInterner() *Interner {
	return &Interner{
		table: make(map[fabric.FabricIndex]map[fabric.NodeID]*Address),
	}
}

// Intern returns the canonical *Address for (fabricIndex, nodeID). Repeated
// calls with the same pair return the same pointer. Idempotent: interning an
// already-canonical address returns itself.
func (in *Interner) Intern(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) *Address {
	in.mu.RLock()
	if byNode, ok := in.table[fabricIndex]; ok {
		if addr, ok := byNode[nodeID]; ok {
			in.mu.RUnlock()
			return addr
		}
	}
	in.mu.RUnlock()

	in.mu.Lock()
	defer in.mu.Unlock()

	byNode, ok := in.table[fabricIndex]
	if !ok {
		byNode = make(map[fabric.NodeID]*Address)
		in.table[fabricIndex] = byNode
	}
	if addr, ok := byNode[nodeID]; ok {
		return addr
	}

	addr := &Address{FabricIndex: fabricIndex, NodeID: nodeID}
	byNode[nodeID] = addr
	return addr
}

// InternAddress canonicalizes a, which may be a freshly-constructed,
// non-interned value. Pure function with respect to observable identity:
// Intern(Intern(a)) == Intern(a).
func (in *Interner) InternAddress(a Address) *Address {
	return in.Intern(a.FabricIndex, a.NodeID)
}

// Len returns the number of interned addresses. Entries are never evicted
// (see DESIGN.md), so this grows monotonically with distinct peers seen.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	n := 0
	for _, byNode := range in.table {
		n += len(byNode)
	}
	return n
}

// AddressMap is a map keyed by canonical *Address, but whose Get/Set/Delete
// accept any structurally-equal Address value and canonicalize the key
// before touching the underlying map. Callers never need to intern by
// hand. Safe for concurrent use.
type AddressMap[V any] struct {
	in *Interner
	mu sync.RWMutex
	m  map[*Address]V
}

// NewAddressMap creates an address-keyed map backed by in. Multiple
// AddressMaps may share one Interner.
func NewAddressMap[V any](in *Interner) *AddressMap[V] {
	return &AddressMap[V]{
		in: in,
		m:  make(map[*Address]V),
	}
}

// Get looks up the value for a, canonicalizing the key first.
func (m *AddressMap[V]) Get(a Address) (V, bool) {
	key := m.in.InternAddress(a)
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	return v, ok
}

// Set stores v for a, canonicalizing the key first.
func (m *AddressMap[V]) Set(a Address, v V) {
	key := m.in.InternAddress(a)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = v
}

// Delete removes the entry for a, if any.
func (m *AddressMap[V]) Delete(a Address) {
	key := m.in.InternAddress(a)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
}

// Has reports whether a has an entry.
func (m *AddressMap[V]) Has(a Address) bool {
	_, ok := m.Get(a)
	return ok
}

// Len returns the number of entries.
func (m *AddressMap[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// ForEach calls fn for each entry. fn should not mutate the map.
func (m *AddressMap[V]) ForEach(fn func(addr *Address, v V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.m {
		if !fn(k, v) {
			return
		}
	}
}
