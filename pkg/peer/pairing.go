package peer

import (
	"context"
	"errors"
	"time"

	"github.com/pion/logging"

	casesession "github.com/matterkit/peercore/pkg/securechannel/case"

	"github.com/matterkit/peercore/pkg/crypto"
	"github.com/matterkit/peercore/pkg/exchange"
	"github.com/matterkit/peercore/pkg/fabric"
	"github.com/matterkit/peercore/pkg/message"
	"github.com/matterkit/peercore/pkg/securechannel"
	"github.com/matterkit/peercore/pkg/session"
	"github.com/matterkit/peercore/pkg/transport"
)

// SigmaRetries is the number of times Sigma1 is retransmitted before a
// pairing attempt gives up, converting a NoResponseTimeout into
// ErrPairRetransmissionLimitReached.
const SigmaRetries = 4

// SigmaResponseTimeout bounds how long the driver waits for each Sigma
// response before retransmitting.
const SigmaResponseTimeout = 5 * time.Second

// OperationalKeys resolves the local operational signing key for a fabric.
// Grounded in pkg/credentials' separation of certificate storage (fabric.Table)
// from private key storage.
type OperationalKeys interface {
	OperationalKey(fabricIndex fabric.FabricIndex) (*crypto.P256KeyPair, error)
}

// ResumptionRecord is what the pairing driver persists after a successful
// CASE handshake, keyed by peer address, so a later pairing attempt can try
// resumption instead of a full handshake. MRPParams is the session-parameter
// set that Pair actually used to reach this peer; it is the fallback source
// for the next Pair when no fresh DiscoveryData hints are available, per the
// DiscoveryData hints -> resumption record -> session-manager defaults
// priority order resolveMRPParams implements.
type ResumptionRecord struct {
	ResumptionID [session.ResumptionIDSize]byte
	SharedSecret []byte
	MRPParams    session.Params
}

// ResumptionStore is consulted and updated by the pairing driver. Neither
// session.Manager nor exchange.Manager have any notion of this; it is new
// state this package owns.
type ResumptionStore interface {
	LoadResumption(addr *Address) (*ResumptionRecord, bool)
	SaveResumption(addr *Address, rec *ResumptionRecord)
	DeleteResumption(addr *Address)
}

// memoryResumptionStore is the default in-memory ResumptionStore.
type memoryResumptionStore struct {
	m *AddressMap[*ResumptionRecord]
}

// NewMemoryResumptionStore creates an in-memory ResumptionStore backed by in.
func NewMemoryResumptionStore(in *Interner) ResumptionStore {
	return &memoryResumptionStore{m: NewAddressMap[*ResumptionRecord](in)}
}

func (s *memoryResumptionStore) LoadResumption(addr *Address) (*ResumptionRecord, bool) {
	return s.m.Get(*addr)
}

func (s *memoryResumptionStore) SaveResumption(addr *Address, rec *ResumptionRecord) {
	s.m.Set(*addr, rec)
}

func (s *memoryResumptionStore) DeleteResumption(addr *Address) {
	s.m.Delete(*addr)
}

// PairingDriver drives CASE to establish a MessageChannel with a peer at a
// known operational address. It owns no transport of its own: it is handed
// a session.Manager, exchange.Manager, transport.Manager, and fabric.Table
// that are shared with the rest of the node.
type PairingDriver struct {
	sessions   *session.Manager
	exchanges  *exchange.Manager
	transports *transport.Manager
	fabrics    *fabric.Table
	keys       OperationalKeys
	resumption ResumptionStore
	interfaces *InterfaceSet
	nodeCache  *NodeCache
	validator  casesession.ValidatePeerCertChainFunc
	log        logging.LeveledLogger
}

// PairingConfig configures a PairingDriver.
type PairingConfig struct {
	Sessions   *session.Manager
	Exchanges  *exchange.Manager
	Transports *transport.Manager
	Fabrics    *fabric.Table
	Keys       OperationalKeys
	Resumption ResumptionStore

	// Interfaces selects the pre-opened UDP interface by address family
	// during Pair. If nil, a default is built that registers Transports for
	// both IPv4 and IPv6, matching transport.Manager's single dual-purpose
	// socket.
	Interfaces *InterfaceSet
	NodeCache  *NodeCache

	// Validator validates the peer's NOC chain during CASE. Required in any
	// production deployment; nil skips validation entirely, which the case
	// package itself documents as test-only.
	Validator casesession.ValidatePeerCertChainFunc

	LoggerFactory logging.LoggerFactory
}

// NewPairingDriver creates a PairingDriver.
func NewPairingDriver(config PairingConfig) (*PairingDriver, error) {
	if config.Sessions == nil || config.Exchanges == nil || config.Transports == nil || config.Fabrics == nil {
		return nil, ErrImplementation
	}
	if config.Keys == nil {
		return nil, ErrImplementation
	}

	d := &PairingDriver{
		sessions:   config.Sessions,
		exchanges:  config.Exchanges,
		transports: config.Transports,
		fabrics:    config.Fabrics,
		keys:       config.Keys,
		resumption: config.Resumption,
		interfaces: config.Interfaces,
		nodeCache:  config.NodeCache,
		validator:  config.Validator,
	}
	if d.resumption == nil {
		d.resumption = NewMemoryResumptionStore(NewInterner())
	}
	if d.interfaces == nil {
		d.interfaces = dualStackInterfaceSet(config.Transports)
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("peer-pairing")
	}
	return d, nil
}

// caseDelegate adapts the request/response shape of a CASE handshake onto
// exchange.Manager's callback-driven ExchangeDelegate.
type caseDelegate struct {
	msgCh chan caseMessage
}

type caseMessage struct {
	opcode  uint8
	payload []byte
}

func (d *caseDelegate) OnMessage(ctx *exchange.ExchangeContext, header *message.ProtocolHeader, payload []byte) ([]byte, error) {
	select {
	case d.msgCh <- caseMessage{opcode: header.ProtocolOpcode, payload: payload}:
	default:
	}
	return nil, nil
}

func (d *caseDelegate) OnClose(ctx *exchange.ExchangeContext) {
	close(d.msgCh)
}

// Pair runs CASE against addr at saddr and, on success, returns a
// MessageChannel wrapping the resulting secure exchange context.
//
// discovered carries whatever DiscoveryData hints accompanied the address
// being paired (nil if none). The unsecure initiator session's MRP
// parameters, and the parameters CASE itself advertises, are resolved in
// priority order: discovered, then any ResumptionRecord on file for addr,
// then the session manager's own defaults. See resolveMRPParams.
//
// The address family of saddr.IP selects which pre-opened interface carries
// the handshake; a literal with no registered interface for its family
// fails with ErrPairRetransmissionLimitReached before any packet is sent.
//
// On a session that was NOT resumed, any NodeCachedData held for addr is
// dropped before Pair returns, per the cache invariant (see nodecache.go).
func (d *PairingDriver) Pair(ctx context.Context, addr *Address, saddr ServerAddressIp, discovered *DiscoveryData) (*MessageChannel, error) {
	peerTransportAddr, err := resolveInterface(d.interfaces, saddr)
	if err != nil {
		return nil, err
	}

	fabricInfo, ok := d.fabrics.Get(addr.FabricIndex)
	if !ok {
		return nil, ErrImplementation
	}
	opKey, err := d.keys.OperationalKey(addr.FabricIndex)
	if err != nil {
		return nil, err
	}

	cs := casesession.NewInitiator(fabricInfo, opKey, uint64(addr.NodeID)).
		WithCertValidator(d.validator)

	rec, hasRec := d.resumption.LoadResumption(addr)
	if hasRec {
		cs = cs.WithResumption(&casesession.ResumptionInfo{
			ResumptionID: rec.ResumptionID,
			SharedSecret: rec.SharedSecret,
		})
	}

	var recForParams *ResumptionRecord
	if hasRec {
		recForParams = rec
	}
	params := resolveMRPParams(discovered, recForParams)
	cs = cs.WithMRPParams(&casesession.MRPParameters{
		IdleRetransTimeout:   uint32(params.IdleInterval.Milliseconds()),
		ActiveRetransTimeout: uint32(params.ActiveInterval.Milliseconds()),
		ActiveThreshold:      uint16(params.ActiveThreshold.Milliseconds()),
	})

	localSessionID, err := d.sessions.AllocateSessionID()
	if err != nil {
		return nil, err
	}

	unsecured, err := session.NewUnsecuredContext(session.SessionRoleInitiator)
	if err != nil {
		return nil, err
	}
	unsecured.SetParams(params)

	delegate := &caseDelegate{msgCh: make(chan caseMessage, 1)}
	xchg, err := d.exchanges.NewExchange(unsecured, localSessionID, peerTransportAddr, message.ProtocolID(securechannel.ProtocolID), delegate)
	if err != nil {
		return nil, err
	}
	// The handshake exchange is scoped to CASE itself: every exit path,
	// success included, destroys it once the secure session (or the
	// failure) is settled. Future traffic opens fresh exchanges over the
	// secure session via MessageChannel.NewExchange.
	defer xchg.Close()

	sigma1, err := cs.Start(localSessionID)
	if err != nil {
		return nil, err
	}

	resumed, err := d.runHandshake(ctx, xchg, cs, sigma1, delegate)
	if err != nil {
		return nil, err
	}

	if !resumed && d.nodeCache != nil {
		d.nodeCache.Drop(addr)
	}

	keys, err := cs.SessionKeys()
	if err != nil {
		return nil, err
	}

	secure, err := session.NewSecureContext(session.SecureContextConfig{
		SessionType:    session.SessionTypeCASE,
		Role:           session.SessionRoleInitiator,
		LocalSessionID: localSessionID,
		PeerSessionID:  cs.PeerSessionID(),
		I2RKey:         keys.I2RKey[:],
		R2IKey:         keys.R2IKey[:],
		SharedSecret:   cs.SharedSecret(),
		FabricIndex:    addr.FabricIndex,
		PeerNodeID:     addr.NodeID,
		LocalNodeID:    fabricInfo.NodeID,
	})
	if err != nil {
		return nil, err
	}

	if err := d.sessions.AddSecureContext(secure); err != nil {
		return nil, err
	}

	d.resumption.SaveResumption(addr, &ResumptionRecord{
		ResumptionID: cs.ResumptionID(),
		SharedSecret: cs.SharedSecret(),
		MRPParams:    params,
	})

	return newMessageChannel(peerTransportAddr, secure, d.exchanges), nil
}

// resolveMRPParams picks the MRP session parameters Pair uses for the
// unsecure initiator session and advertises over CASE, in priority order:
// discovered's hints first, falling back field-by-field to rec's (the
// previous successful pairing's own resolved parameters), then to the
// session manager's defaults for whatever is still unset.
func resolveMRPParams(discovered *DiscoveryData, rec *ResumptionRecord) session.Params {
	var p session.Params
	if discovered != nil {
		if discovered.HasIdleInterval {
			p.IdleInterval = time.Duration(discovered.IdleIntervalMs) * time.Millisecond
		}
		if discovered.HasActiveInterval {
			p.ActiveInterval = time.Duration(discovered.ActiveIntervalMs) * time.Millisecond
		}
		if discovered.HasActiveThreshold {
			p.ActiveThreshold = time.Duration(discovered.ActiveThresholdMs) * time.Millisecond
		}
	}
	if rec != nil {
		if p.IdleInterval == 0 {
			p.IdleInterval = rec.MRPParams.IdleInterval
		}
		if p.ActiveInterval == 0 {
			p.ActiveInterval = rec.MRPParams.ActiveInterval
		}
		if p.ActiveThreshold == 0 {
			p.ActiveThreshold = rec.MRPParams.ActiveThreshold
		}
	}
	return p.WithDefaults()
}

// ForgetResumption deletes any stored CASE resumption record for addr, so a
// later Pair starts a full handshake rather than attempting to resume. Called
// by PeerSet.Delete when a peer is forgotten entirely.
func (d *PairingDriver) ForgetResumption(addr *Address) {
	d.resumption.DeleteResumption(addr)
}

// RemoveSessions tears down every secure session held with addr's peer,
// without forgetting the peer itself. Called when the exchange-provider
// reconnect closure exhausts its rediscovery attempt.
func (d *PairingDriver) RemoveSessions(addr *Address) {
	d.sessions.RemovePeer(addr.FabricIndex, addr.NodeID)
}

// runHandshake drives Sigma1 through StatusReport, retransmitting Sigma1 up
// to SigmaRetries times on response timeout. Returns whether the session
// used resumption.
func (d *PairingDriver) runHandshake(ctx context.Context, xchg *exchange.ExchangeContext, cs *casesession.Session, sigma1 []byte, delegate *caseDelegate) (bool, error) {
	attempts := 0
	for {
		if err := xchg.SendMessage(uint8(securechannel.OpcodeCASESigma1), sigma1, true); err != nil {
			return false, err
		}

		msg, err := d.awaitMessage(ctx, delegate)
		if err != nil {
			if errors.Is(err, ErrNoResponseTimeout) {
				attempts++
				if attempts >= SigmaRetries {
					return false, ErrPairRetransmissionLimitReached
				}
				continue
			}
			return false, err
		}

		switch securechannel.Opcode(msg.opcode) {
		case securechannel.OpcodeCASESigma2:
			sigma3, err := cs.HandleSigma2(msg.payload)
			if err != nil {
				return false, err
			}
			if err := xchg.SendMessage(uint8(securechannel.OpcodeCASESigma3), sigma3, true); err != nil {
				return false, err
			}
			return d.awaitStatus(ctx, cs, delegate, false)

		case securechannel.OpcodeCASESigma2Resume:
			if err := cs.HandleSigma2Resume(msg.payload); err != nil {
				return false, err
			}
			return d.awaitStatus(ctx, cs, delegate, true)

		case securechannel.OpcodeStatusReport:
			return false, ErrDiscovery

		default:
			return false, ErrImplementation
		}
	}
}

func (d *PairingDriver) awaitStatus(ctx context.Context, cs *casesession.Session, delegate *caseDelegate, resumed bool) (bool, error) {
	msg, err := d.awaitMessage(ctx, delegate)
	if err != nil {
		return false, err
	}
	if securechannel.Opcode(msg.opcode) != securechannel.OpcodeStatusReport {
		return false, ErrImplementation
	}
	if err := cs.HandleStatusReport(true); err != nil {
		return false, err
	}
	return resumed, nil
}

func (d *PairingDriver) awaitMessage(ctx context.Context, delegate *caseDelegate) (caseMessage, error) {
	timer := time.NewTimer(SigmaResponseTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-delegate.msgCh:
		if !ok {
			return caseMessage{}, ErrNoChannel
		}
		return msg, nil
	case <-timer.C:
		return caseMessage{}, ErrNoResponseTimeout
	case <-ctx.Done():
		return caseMessage{}, ctx.Err()
	}
}
