package peer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/matterkit/peercore/pkg/fabric"
	"github.com/matterkit/peercore/pkg/transport"
)

// PeerSet is the single façade a node uses to maintain operational peer
// connections: discover peers, pair with them, reuse live channels, and
// observe churn. It composes every other component in this package.
type PeerSet struct {
	store        Store
	orchestrator *Orchestrator
	channels     *ChannelManager
	pairing      *PairingDriver
	queue        *InteractionQueue
	nodeCache    *NodeCache
	interner     *Interner

	clock clock.Clock
	log   logging.LeveledLogger

	added           chan *Address
	deleted         chan *Address
	sessionsRemoved chan *Address
}

// ReconnectProcessingTime bounds the single rediscovery attempt the
// ExchangeProvider reconnect closure makes against a peer's last known
// operational address before giving up.
const ReconnectProcessingTime = 2000 * time.Millisecond

// PeerSetConfig configures a PeerSet.
type PeerSetConfig struct {
	Store        Store
	Orchestrator *Orchestrator
	Channels     *ChannelManager
	Pairing      *PairingDriver
	Queue        *InteractionQueue
	NodeCache    *NodeCache
	Interner     *Interner

	Clock         clock.Clock
	LoggerFactory logging.LoggerFactory
}

// NewPeerSet creates a PeerSet, loading any previously persisted peers from
// config.Store.
func NewPeerSet(config PeerSetConfig) (*PeerSet, error) {
	if config.Store == nil || config.Orchestrator == nil || config.Channels == nil || config.Pairing == nil {
		return nil, ErrImplementation
	}

	c := config.Clock
	if c == nil {
		c = clock.New()
	}
	interner := config.Interner
	if interner == nil {
		interner = NewInterner()
	}
	nodeCache := config.NodeCache
	if nodeCache == nil {
		nodeCache = NewNodeCache()
	}
	queue := config.Queue
	if queue == nil {
		queue = NewInteractionQueue(QueueConfig{Clock: c, LoggerFactory: config.LoggerFactory})
	}

	ps := &PeerSet{
		store:           config.Store,
		orchestrator:    config.Orchestrator,
		channels:        config.Channels,
		pairing:         config.Pairing,
		queue:           queue,
		nodeCache:       nodeCache,
		interner:        interner,
		clock:           c,
		added:           make(chan *Address, 16),
		deleted:         make(chan *Address, 16),
		sessionsRemoved: make(chan *Address, 16),
	}
	if config.LoggerFactory != nil {
		ps.log = config.LoggerFactory.NewLogger("peer-set")
	}
	return ps, nil
}

// Added returns a channel that receives an Address each time a peer is
// newly persisted (first successful Connect for that address).
func (ps *PeerSet) Added() <-chan *Address {
	return ps.added
}

// Deleted returns a channel that receives an Address each time Delete
// removes a peer.
func (ps *PeerSet) Deleted() <-chan *Address {
	return ps.deleted
}

// SessionsRemoved returns a channel that receives an Address each time the
// ExchangeProvider reconnect closure gives up on a peer and tears down its
// sessions without forgetting it entirely.
func (ps *PeerSet) SessionsRemoved() <-chan *Address {
	return ps.sessionsRemoved
}

// Size returns the number of persisted peers.
func (ps *PeerSet) Size() int {
	peers, err := ps.store.LoadPeers()
	if err != nil {
		return 0
	}
	return len(peers)
}

// Has reports whether addr is a known (persisted) peer.
func (ps *PeerSet) Has(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) bool {
	_, ok := ps.lookup(fabricIndex, nodeID)
	return ok
}

// Get returns the persisted OperationalPeer record for (fabricIndex,
// nodeID), if known. This does not imply a live channel exists.
func (ps *PeerSet) Get(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) (*OperationalPeer, bool) {
	return ps.lookup(fabricIndex, nodeID)
}

func (ps *PeerSet) lookup(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) (*OperationalPeer, bool) {
	addr := ps.interner.Intern(fabricIndex, nodeID)
	if ms, ok := ps.store.(*MemoryStore); ok {
		return ms.Lookup(addr)
	}
	peers, err := ps.store.LoadPeers()
	if err != nil {
		return nil, false
	}
	for _, p := range peers {
		if p.Address == addr {
			return p, true
		}
	}
	return nil, false
}

// Find returns the first persisted peer for which pred returns true, or nil.
func (ps *PeerSet) Find(pred func(*OperationalPeer) bool) *OperationalPeer {
	peers, err := ps.store.LoadPeers()
	if err != nil {
		return nil
	}
	for _, p := range peers {
		if pred(p) {
			return p
		}
	}
	return nil
}

// Filter returns every persisted peer for which pred returns true.
func (ps *PeerSet) Filter(pred func(*OperationalPeer) bool) []*OperationalPeer {
	peers, err := ps.store.LoadPeers()
	if err != nil {
		return nil
	}
	result := make([]*OperationalPeer, 0, len(peers))
	for _, p := range peers {
		if pred(p) {
			result = append(result, p)
		}
	}
	return result
}

// Map applies fn to every persisted peer and returns the results.
func (ps *PeerSet) Map(fn func(*OperationalPeer) any) []any {
	peers, err := ps.store.LoadPeers()
	if err != nil {
		return nil
	}
	result := make([]any, 0, len(peers))
	for _, p := range peers {
		result = append(result, fn(p))
	}
	return result
}

// ForEach calls fn for every persisted peer, stopping early if fn returns
// false.
func (ps *PeerSet) ForEach(fn func(*OperationalPeer) bool) {
	peers, err := ps.store.LoadPeers()
	if err != nil {
		return
	}
	for _, p := range peers {
		if !fn(p) {
			return
		}
	}
}

// Connect ensures a live MessageChannel exists for (fabricIndex, nodeID),
// discovering and pairing as needed. mode selects how aggressively to
// search if the cached address (if any) doesn't answer; timeout is only
// meaningful with TimedDiscovery.
func (ps *PeerSet) Connect(ctx context.Context, fabricIndex fabric.FabricIndex, nodeID fabric.NodeID, mode DiscoveryKind, timeout time.Duration) (*MessageChannel, error) {
	addr := ps.interner.Intern(fabricIndex, nodeID)

	var cached *ServerAddressIp
	var cachedDiscovery *DiscoveryData
	if p, ok := ps.lookup(fabricIndex, nodeID); ok {
		cached = p.OperationalAddr
		cachedDiscovery = p.Discovery
	}

	ch, err := ps.orchestrator.Resolve(ctx, addr, mode, timeout, false, cached, cachedDiscovery, ps.Connector())
	if err != nil {
		if ps.log != nil {
			ps.log.Debugf("connect to %s failed: %v", addr, err)
		}
		return nil, err
	}

	ip, port, err := splitPeerAddress(ch.PeerAddress())
	isNew := !ps.Has(fabricIndex, nodeID)
	if err == nil {
		var discovery *DiscoveryData
		if p, ok := ps.lookup(fabricIndex, nodeID); ok {
			discovery = p.Discovery
		}
		_ = ps.store.UpdatePeer(&OperationalPeer{
			Address:         addr,
			OperationalAddr: &ServerAddressIp{IP: ip, Port: port},
			Discovery:       discovery,
		})
	}
	if isNew {
		select {
		case ps.added <- addr:
		default:
		}
	}

	return ch, nil
}

// Disconnect closes (but does not forget) the live channel for a peer, if
// any. A subsequent Connect re-pairs.
func (ps *PeerSet) Disconnect(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) {
	addr := ps.interner.Intern(fabricIndex, nodeID)
	ps.channels.Delete(addr)
}

// Delete forgets a peer entirely: removes it from the store, then closes
// its channel, drops its attribute cache, and forgets its CASE resumption
// record. The store mutation is the point of no return: if it fails, the
// peer is left exactly as it was, with its channel, cache, and resumption
// record all intact, and the error propagates.
func (ps *PeerSet) Delete(fabricIndex fabric.FabricIndex, nodeID fabric.NodeID) error {
	addr := ps.interner.Intern(fabricIndex, nodeID)

	if err := ps.store.DeletePeer(addr); err != nil {
		return err
	}

	ps.channels.Delete(addr)
	ps.nodeCache.Drop(addr)
	ps.pairing.ForgetResumption(addr)

	select {
	case ps.deleted <- addr:
	default:
	}
	return nil
}

// NodeCache returns the per-peer attribute/version cache, for interaction
// layers outside this package to read from and write through.
func (ps *PeerSet) NodeCache() *NodeCache {
	return ps.nodeCache
}

// Queue returns the bounded interaction admission queue shared across all
// peers in this set.
func (ps *PeerSet) Queue() *InteractionQueue {
	return ps.queue
}

// Close tears down every live channel, cancels all in-flight discovery, and
// closes the admission queue. The PeerSet is unusable afterward.
func (ps *PeerSet) Close() {
	ps.orchestrator.CancelAll()
	ps.channels.CloseAll()
	ps.queue.Close()
}

// Connector builds the Connector every discovery producer calls once it has
// resolved a candidate address: ensure a cached channel or pair fresh. It is
// also handed to the ResubmissionReactor so its scans resolve through the
// same cache-and-pair path as an explicit Connect.
func (ps *PeerSet) Connector() Connector {
	return func(ctx context.Context, addr *Address, saddr ServerAddressIp, discovered *DiscoveryData) (*MessageChannel, error) {
		ch, err := ps.channels.Ensure(ctx, addr, func(innerCtx context.Context) (*MessageChannel, error) {
			return ps.pairing.Pair(innerCtx, addr, saddr, discovered)
		})
		if err == nil && discovered != nil {
			ps.saveDiscoveryHints(addr, discovered)
		}
		return ch, err
	}
}

// saveDiscoveryHints persists freshly resolved DiscoveryData alongside a
// peer's record, so the next Connect seeds its cached-address producers
// with it as cachedDiscovery instead of starting blind. A failed lookup
// (peer not yet persisted, e.g. the first-ever Connect) just starts a bare
// record; Connect's own UpdatePeer call right after fills in the address.
func (ps *PeerSet) saveDiscoveryHints(addr *Address, discovered *DiscoveryData) {
	p, ok := ps.lookup(addr.FabricIndex, addr.NodeID)
	if !ok {
		p = &OperationalPeer{Address: addr}
	}
	p.Discovery = discovered
	_ = ps.store.UpdatePeer(p)
}

// ExchangeProvider builds the reconnect closure handed to interaction-layer
// callers that need a channel for addr immediately rather than through the
// discovery-driven Connect path:
//
// If no channel is currently live for addr, it fails fast with
// ErrRetransmissionLimitReached. Otherwise it drops the stale channel and
// attempts one rediscovery against addr's last known operational address,
// bounded by ReconnectProcessingTime. If no address is known, or the
// rediscovery attempt fails, every session held with that peer is torn down
// (without forgetting the peer itself), SessionsRemoved is notified, and
// ErrRetransmissionLimitReached is raised; otherwise the freshly-registered
// channel is returned.
func (ps *PeerSet) ExchangeProvider() ExchangeProvider {
	return func(ctx context.Context, addr *Address) (*MessageChannel, error) {
		if _, ok := ps.channels.Get(addr); !ok {
			return nil, ErrRetransmissionLimitReached
		}
		ps.channels.Delete(addr)

		var cached *ServerAddressIp
		var cachedDiscovery *DiscoveryData
		if p, ok := ps.lookup(addr.FabricIndex, addr.NodeID); ok {
			cached = p.OperationalAddr
			cachedDiscovery = p.Discovery
		}

		var ch *MessageChannel
		var err error
		if cached != nil {
			rediscoverCtx, cancel := context.WithTimeout(ctx, ReconnectProcessingTime)
			ch, err = ps.orchestrator.Resolve(rediscoverCtx, addr, None, 0, false, cached, cachedDiscovery, ps.Connector())
			cancel()
		} else {
			err = ErrDiscovery
		}

		if err != nil {
			ps.pairing.RemoveSessions(addr)
			select {
			case ps.sessionsRemoved <- addr:
			default:
			}
			return nil, ErrRetransmissionLimitReached
		}
		return ch, nil
	}
}

func peerTransportAddress(addr ServerAddressIp) (transport.PeerAddress, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", addr.IP, addr.Port))
	if err != nil {
		return transport.PeerAddress{}, err
	}
	return transport.NewUDPPeerAddress(udpAddr), nil
}

func splitPeerAddress(p transport.PeerAddress) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return "", 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}
