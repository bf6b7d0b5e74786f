package peer

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/matterkit/peercore/pkg/exchange"
	"github.com/matterkit/peercore/pkg/fabric"
	casesession "github.com/matterkit/peercore/pkg/securechannel/case"
	"github.com/matterkit/peercore/pkg/session"
	"github.com/matterkit/peercore/pkg/transport"
)

// reactorHolder lets the resubmission reactor be wired into
// exchange.ManagerConfig.OnRetransmitTimeout before the reactor itself
// exists, since the exchange Manager must be constructed first (the
// reactor needs no exchange.Manager reference itself, but construction
// order elsewhere in a real node typically builds transport before peer
// plumbing).
type reactorHolder struct {
	mu sync.Mutex
	r  *ResubmissionReactor
}

func (h *reactorHolder) set(r *ResubmissionReactor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.r = r
}

func (h *reactorHolder) handle(xchg *exchange.ExchangeContext) {
	h.mu.Lock()
	r := h.r
	h.mu.Unlock()
	if r != nil {
		r.Handle(xchg)
	}
}

// Dependencies collects every collaborator PeerSet needs from the rest of
// the node. All fields except Store, NodeCache, Clock, and LoggerFactory
// are required; the optional ones get sensible in-memory/real-clock
// defaults.
type Dependencies struct {
	// Fabrics holds this node's commissioned fabric credentials.
	Fabrics *fabric.Table

	// Keys resolves operational signing keys per fabric for CASE.
	Keys OperationalKeys

	// Validator validates a peer's NOC chain during CASE. Must be set for
	// any production deployment.
	Validator casesession.ValidatePeerCertChainFunc

	// Sessions, Transports, Scanner are the lower layers shared with the
	// rest of the node. The exchange.Manager passed to BuildPeerSet must
	// have been constructed with its OnRetransmitTimeout set to an
	// ExchangeRetransmitHook's Callback.
	Sessions   *session.Manager
	Transports *transport.Manager
	Scanner    Scanner

	// Interfaces selects the pre-opened UDP interface by address family
	// during pairing. If nil, PairingDriver registers Transports for both
	// IPv4 and IPv6.
	Interfaces *InterfaceSet

	// CompressedFabricID resolves a FabricIndex to the compressed fabric ID
	// mDNS names are built from, typically fabric.Table's stored FabricInfo.
	CompressedFabricID func(fabric.FabricIndex) ([8]byte, bool)

	Store     Store
	NodeCache *NodeCache
	Clock     clock.Clock

	LoggerFactory logging.LoggerFactory
}

// ExchangeRetransmitHook breaks the construction-order cycle between
// exchange.Manager (which must be built first) and the resubmission
// reactor (which needs the rest of pkg/peer, built after). Create it, wire
// its Callback into exchange.ManagerConfig, construct the exchange.Manager,
// then call BuildPeerSet with both.
type ExchangeRetransmitHook struct {
	holder *reactorHolder
}

// NewExchangeRetransmitHook creates a hook. Its Callback must be assigned
// to exchange.ManagerConfig.OnRetransmitTimeout before the exchange.Manager
// it configures is used.
func NewExchangeRetransmitHook() *ExchangeRetransmitHook {
	return &ExchangeRetransmitHook{holder: &reactorHolder{}}
}

// Callback is the function to assign to
// exchange.ManagerConfig.OnRetransmitTimeout.
func (h *ExchangeRetransmitHook) Callback() func(*exchange.ExchangeContext) {
	return h.holder.handle
}

// BuildPeerSet wires every pkg/peer component together: the address
// interner, channel manager, discovery orchestrator, pairing driver,
// resubmission reactor, and finally the PeerSet façade. hook must be the
// same ExchangeRetransmitHook whose Callback was wired into the
// exchange.Manager referenced by exchanges.
func BuildPeerSet(deps Dependencies, exchanges *exchange.Manager, hook *ExchangeRetransmitHook) (*PeerSet, error) {
	if deps.Fabrics == nil || deps.Keys == nil || deps.Sessions == nil || deps.Transports == nil || deps.Scanner == nil || deps.CompressedFabricID == nil || exchanges == nil || hook == nil {
		return nil, ErrImplementation
	}

	c := deps.Clock
	if c == nil {
		c = clock.New()
	}
	store := deps.Store
	if store == nil {
		store = NewMemoryStore(StoreConfig{LoggerFactory: deps.LoggerFactory})
	}
	nodeCache := deps.NodeCache
	if nodeCache == nil {
		nodeCache = NewNodeCache()
	}

	interner := NewInterner()

	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		Scanner:            deps.Scanner,
		CompressedFabricID: deps.CompressedFabricID,
		Clock:              c,
		LoggerFactory:      deps.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	channels := NewChannelManager(interner)

	resumptionStore := NewMemoryResumptionStore(interner)

	pairing, err := NewPairingDriver(PairingConfig{
		Sessions:      deps.Sessions,
		Exchanges:     exchanges,
		Transports:    deps.Transports,
		Fabrics:       deps.Fabrics,
		Keys:          deps.Keys,
		Resumption:    resumptionStore,
		Interfaces:    deps.Interfaces,
		NodeCache:     nodeCache,
		Validator:     deps.Validator,
		LoggerFactory: deps.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	ps, err := NewPeerSet(PeerSetConfig{
		Store:         store,
		Orchestrator:  orchestrator,
		Channels:      channels,
		Pairing:       pairing,
		NodeCache:     nodeCache,
		Interner:      interner,
		Clock:         c,
		LoggerFactory: deps.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	reactor, err := NewResubmissionReactor(ResubmissionConfig{
		Orchestrator:  orchestrator,
		Channels:      channels,
		Interner:      interner,
		Connector:     ps.Connector(),
		LoggerFactory: deps.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	hook.holder.set(reactor)

	return ps, nil
}
