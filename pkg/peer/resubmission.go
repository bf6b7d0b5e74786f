package peer

import (
	"context"
	"time"

	"github.com/pion/logging"

	"github.com/matterkit/peercore/pkg/exchange"
	"github.com/matterkit/peercore/pkg/fabric"
)

// ResubmissionReactor listens for the first retransmit on a CASE-secured
// exchange and reacts by kicking off a short, cache-bypassing
// RetransmissionDiscovery scan. The peer likely moved and MRP's own
// backoff is too slow to notice on its own.
//
// Registered against exchange.Manager via ManagerConfig.OnRetransmitTimeout
// (see pkg/exchange/manager.go); this package is the only caller of that
// hook, since only it knows how to map a session back to a peer address.
type ResubmissionReactor struct {
	orchestrator *Orchestrator
	channels     *ChannelManager
	connector    Connector
	interner     *Interner

	log logging.LeveledLogger
}

// ResubmissionConfig configures a ResubmissionReactor.
type ResubmissionConfig struct {
	Orchestrator *Orchestrator
	Channels     *ChannelManager
	Interner     *Interner

	// Connector is called with the address the scan resolves, same as any
	// other Orchestrator producer.
	Connector Connector

	LoggerFactory logging.LoggerFactory
}

// NewResubmissionReactor creates a reactor. Call Handle from an
// exchange.ManagerConfig.OnRetransmitTimeout hook.
func NewResubmissionReactor(config ResubmissionConfig) (*ResubmissionReactor, error) {
	if config.Orchestrator == nil || config.Channels == nil || config.Interner == nil || config.Connector == nil {
		return nil, ErrImplementation
	}
	r := &ResubmissionReactor{
		orchestrator: config.Orchestrator,
		channels:     config.Channels,
		connector:    config.Connector,
		interner:     config.Interner,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("peer-resubmission")
	}
	return r, nil
}

// Handle is the exchange.ManagerConfig.OnRetransmitTimeout callback. It
// extracts the peer address from the exchange's secure session and fires a
// background RetransmissionDiscovery scan, swallowing and logging any
// error. This is a best-effort optimization, never a hard failure path.
func (r *ResubmissionReactor) Handle(xchg *exchange.ExchangeContext) {
	fabricIndex, nodeID, ok := r.peerFromExchange(xchg)
	if !ok {
		return
	}
	addr := r.interner.Intern(fabricIndex, nodeID)

	if r.orchestrator.IsRunning(addr) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), RetransmissionWindow+time.Second)
		defer cancel()

		ch, err := r.orchestrator.Resolve(ctx, addr, RetransmissionDiscovery, 0, true, nil, nil, r.connector)
		if err != nil {
			if r.log != nil {
				r.log.Debugf("resubmission scan for %s found nothing: %v", addr, err)
			}
			return
		}
		r.channels.Set(addr, ch)
	}()
}

// secureSessionPeer is the subset of session.SecureContext the reactor needs
// to recover a peer's canonical Address from a live exchange.
type secureSessionPeer interface {
	FabricIndex() fabric.FabricIndex
	PeerNodeID() fabric.NodeID
}

func (r *ResubmissionReactor) peerFromExchange(xchg *exchange.ExchangeContext) (fabric.FabricIndex, fabric.NodeID, bool) {
	sess, ok := xchg.Session().(secureSessionPeer)
	if !ok {
		return 0, 0, false
	}
	return sess.FabricIndex(), sess.PeerNodeID(), true
}
