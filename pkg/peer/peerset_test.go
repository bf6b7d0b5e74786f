package peer

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/matterkit/peercore/pkg/discovery"
	"github.com/matterkit/peercore/pkg/exchange"
	"github.com/matterkit/peercore/pkg/fabric"
	"github.com/matterkit/peercore/pkg/session"
	"github.com/matterkit/peercore/pkg/transport"
)

func newTestPeerSet(t *testing.T, scanner Scanner) (*PeerSet, *Interner) {
	t.Helper()
	in := NewInterner()
	o := newTestOrchestrator(t, scanner, clock.NewMock())
	channels := NewChannelManager(in)
	pairing, err := NewPairingDriver(PairingConfig{
		Sessions:   session.NewManager(session.ManagerConfig{}),
		Exchanges:  &exchange.Manager{},
		Transports: &transport.Manager{},
		Fabrics:    &fabric.Table{},
		Keys:       fakeKeysOK{},
	})
	if err != nil {
		t.Fatalf("NewPairingDriver() = %v, want nil", err)
	}
	store := NewMemoryStore(StoreConfig{})

	ps, err := NewPeerSet(PeerSetConfig{
		Store:        store,
		Orchestrator: o,
		Channels:     channels,
		Pairing:      pairing,
		Interner:     in,
		Clock:        clock.NewMock(),
	})
	if err != nil {
		t.Fatalf("NewPeerSet() = %v, want nil", err)
	}
	return ps, in
}

func TestNewPeerSet_RequiresCoreDependencies(t *testing.T) {
	store := NewMemoryStore(StoreConfig{})
	in := NewInterner()
	o := newTestOrchestrator(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) { return nil, ErrDiscovery }}, clock.NewMock())
	channels := NewChannelManager(in)
	pairing, _ := NewPairingDriver(PairingConfig{
		Sessions: &session.Manager{}, Exchanges: &exchange.Manager{},
		Transports: &transport.Manager{}, Fabrics: &fabric.Table{}, Keys: fakeKeysOK{},
	})

	cases := []PeerSetConfig{
		{Orchestrator: o, Channels: channels, Pairing: pairing},
		{Store: store, Channels: channels, Pairing: pairing},
		{Store: store, Orchestrator: o, Pairing: pairing},
		{Store: store, Orchestrator: o, Channels: channels},
	}
	for i, c := range cases {
		if _, err := NewPeerSet(c); !errors.Is(err, ErrImplementation) {
			t.Errorf("case #%d: NewPeerSet() = %v, want ErrImplementation", i, err)
		}
	}
}

func TestPeerSet_Connect_ReusesLiveCachedChannel(t *testing.T) {
	scanner := &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) {
		t.Error("scanner should not be consulted when a cached channel already answers")
		return nil, ErrDiscovery
	}}
	ps, in := newTestPeerSet(t, scanner)

	addr := in.Intern(1, 1)
	udpAddr, err := net.ResolveUDPAddr("udp", "10.0.0.1:5540")
	if err != nil {
		t.Fatalf("ResolveUDPAddr() = %v", err)
	}
	want := newMessageChannel(transport.NewUDPPeerAddress(udpAddr), nil, nil)
	ps.channels.Set(addr, want)
	if err := ps.store.UpdatePeer(&OperationalPeer{
		Address:         addr,
		OperationalAddr: &ServerAddressIp{IP: "10.0.0.1", Port: 5540},
	}); err != nil {
		t.Fatalf("UpdatePeer() = %v", err)
	}

	ch, err := ps.Connect(context.Background(), 1, 1, None, 0)
	if err != nil || ch != want {
		t.Fatalf("Connect() = (%v, %v), want (%v, nil)", ch, err, want)
	}
}

func TestPeerSet_SaveDiscoveryHints_UpdatesExistingPeer(t *testing.T) {
	ps, in := newTestPeerSet(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) { return nil, ErrDiscovery }})
	addr := in.Intern(1, 1)
	if err := ps.store.UpdatePeer(&OperationalPeer{
		Address:         addr,
		OperationalAddr: &ServerAddressIp{IP: "10.0.0.1", Port: 1},
	}); err != nil {
		t.Fatalf("UpdatePeer() = %v", err)
	}

	discovered := &DiscoveryData{HasActiveInterval: true, ActiveIntervalMs: 300}
	ps.saveDiscoveryHints(addr, discovered)

	p, ok := ps.Get(1, 1)
	if !ok {
		t.Fatal("Get() found nothing after saveDiscoveryHints")
	}
	if p.Discovery == nil || *p.Discovery != *discovered {
		t.Errorf("Discovery = %+v, want %+v", p.Discovery, discovered)
	}
	if p.OperationalAddr == nil || p.OperationalAddr.IP != "10.0.0.1" {
		t.Errorf("saveDiscoveryHints disturbed OperationalAddr, got %+v", p.OperationalAddr)
	}
}

func TestPeerSet_Connect_PreservesDiscoveryHintsOnAddressUpdate(t *testing.T) {
	scanner := &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) {
		t.Error("scanner should not be consulted when a cached channel already answers")
		return nil, ErrDiscovery
	}}
	ps, in := newTestPeerSet(t, scanner)

	addr := in.Intern(1, 1)
	udpAddr, err := net.ResolveUDPAddr("udp", "10.0.0.1:5540")
	if err != nil {
		t.Fatalf("ResolveUDPAddr() = %v", err)
	}
	ps.channels.Set(addr, newMessageChannel(transport.NewUDPPeerAddress(udpAddr), nil, nil))
	want := &DiscoveryData{HasIdleInterval: true, IdleIntervalMs: 500}
	if err := ps.store.UpdatePeer(&OperationalPeer{
		Address:         addr,
		OperationalAddr: &ServerAddressIp{IP: "10.0.0.1", Port: 5540},
		Discovery:       want,
	}); err != nil {
		t.Fatalf("UpdatePeer() = %v", err)
	}

	if _, err := ps.Connect(context.Background(), 1, 1, None, 0); err != nil {
		t.Fatalf("Connect() = %v, want nil", err)
	}

	p, ok := ps.Get(1, 1)
	if !ok {
		t.Fatal("Get() after Connect() found nothing")
	}
	if p.Discovery == nil || *p.Discovery != *want {
		t.Errorf("Discovery = %+v, want %+v (Connect should not clobber previously learned hints)", p.Discovery, want)
	}
}

func TestPeerSet_Connect_NoneModeFailsWithoutCache(t *testing.T) {
	scanner := &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) { return nil, ErrDiscovery }}
	ps, _ := newTestPeerSet(t, scanner)

	_, err := ps.Connect(context.Background(), 1, 1, None, 0)
	if !errors.Is(err, ErrDiscovery) {
		t.Errorf("Connect() = %v, want ErrDiscovery", err)
	}
}

func TestPeerSet_Disconnect_ClosesButKeepsPeer(t *testing.T) {
	ps, in := newTestPeerSet(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) { return nil, ErrDiscovery }})
	addr := in.Intern(1, 1)

	ch := newMessageChannel(transport.PeerAddress{}, nil, nil)
	ps.channels.Set(addr, ch)
	if err := ps.store.UpdatePeer(&OperationalPeer{Address: addr}); err != nil {
		t.Fatalf("UpdatePeer() = %v", err)
	}

	ps.Disconnect(1, 1)

	if !ch.Closed() {
		t.Error("Disconnect() did not close the channel")
	}
	if !ps.Has(1, 1) {
		t.Error("Disconnect() should not forget the peer")
	}
}

func TestPeerSet_Delete_RemovesPeerChannelAndCache(t *testing.T) {
	in := NewInterner()
	o := newTestOrchestrator(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) { return nil, ErrDiscovery }}, clock.NewMock())
	channels := NewChannelManager(in)
	resumption := NewMemoryResumptionStore(in)
	pairing, err := NewPairingDriver(PairingConfig{
		Sessions: &session.Manager{}, Exchanges: &exchange.Manager{},
		Transports: &transport.Manager{}, Fabrics: &fabric.Table{},
		Keys: fakeKeysOK{}, Resumption: resumption,
	})
	if err != nil {
		t.Fatalf("NewPairingDriver() = %v, want nil", err)
	}
	ps, err := NewPeerSet(PeerSetConfig{
		Store: NewMemoryStore(StoreConfig{}), Orchestrator: o, Channels: channels,
		Pairing: pairing, Interner: in,
	})
	if err != nil {
		t.Fatalf("NewPeerSet() = %v, want nil", err)
	}

	addr := in.Intern(1, 1)
	ch := newMessageChannel(transport.PeerAddress{}, nil, nil)
	ps.channels.Set(addr, ch)
	ps.nodeCache.Get(addr).SetAttribute("1/6/0", AttributeValue{Value: true})
	resumption.SaveResumption(addr, &ResumptionRecord{SharedSecret: []byte("secret")})
	if err := ps.store.UpdatePeer(&OperationalPeer{Address: addr}); err != nil {
		t.Fatalf("UpdatePeer() = %v", err)
	}

	if err := ps.Delete(1, 1); err != nil {
		t.Fatalf("Delete() = %v, want nil", err)
	}

	if !ch.Closed() {
		t.Error("Delete() did not close the channel")
	}
	if ps.Has(1, 1) {
		t.Error("Delete() did not forget the peer")
	}
	if !ps.nodeCache.Get(addr).IsEmpty() {
		t.Error("Delete() did not drop the node cache")
	}
	if _, ok := resumption.LoadResumption(addr); ok {
		t.Error("Delete() did not forget the CASE resumption record")
	}

	select {
	case got := <-ps.Deleted():
		if got != addr {
			t.Errorf("Deleted() = %v, want %v", got, addr)
		}
	default:
		t.Error("Deleted() channel did not receive the deleted address")
	}
}

func TestPeerSet_Delete_PropagatesStoreError_PreservesState(t *testing.T) {
	in := NewInterner()
	o := newTestOrchestrator(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) { return nil, ErrDiscovery }}, clock.NewMock())
	channels := NewChannelManager(in)
	resumption := NewMemoryResumptionStore(in)
	pairing, err := NewPairingDriver(PairingConfig{
		Sessions: &session.Manager{}, Exchanges: &exchange.Manager{},
		Transports: &transport.Manager{}, Fabrics: &fabric.Table{},
		Keys: fakeKeysOK{}, Resumption: resumption,
	})
	if err != nil {
		t.Fatalf("NewPairingDriver() = %v, want nil", err)
	}
	ps, err := NewPeerSet(PeerSetConfig{
		Store:        &failingStore{err: errors.New("disk full")},
		Orchestrator: o, Channels: channels, Pairing: pairing, Interner: in,
	})
	if err != nil {
		t.Fatalf("NewPeerSet() = %v, want nil", err)
	}

	addr := in.Intern(1, 1)
	ch := newMessageChannel(transport.PeerAddress{}, nil, nil)
	ps.channels.Set(addr, ch)
	ps.nodeCache.Get(addr).SetAttribute("1/6/0", AttributeValue{Value: true})
	resumption.SaveResumption(addr, &ResumptionRecord{SharedSecret: []byte("secret")})

	if err := ps.Delete(1, 1); err == nil {
		t.Error("Delete() = nil, want propagated store error")
	}

	if ch.Closed() {
		t.Error("Delete() closed the channel despite the store mutation failing")
	}
	if ps.nodeCache.Get(addr).IsEmpty() {
		t.Error("Delete() dropped the node cache despite the store mutation failing")
	}
	if _, ok := resumption.LoadResumption(addr); !ok {
		t.Error("Delete() forgot the CASE resumption record despite the store mutation failing")
	}

	select {
	case <-ps.Deleted():
		t.Error("Deleted() fired despite the store mutation failing")
	default:
	}
}

func TestPeerSet_ExchangeProvider_FailsFastWithoutLiveChannel(t *testing.T) {
	ps, in := newTestPeerSet(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) {
		t.Error("scanner should not be consulted when no channel is live for the address")
		return nil, ErrDiscovery
	}})
	addr := in.Intern(1, 1)

	_, err := ps.ExchangeProvider()(context.Background(), addr)
	if !errors.Is(err, ErrRetransmissionLimitReached) {
		t.Errorf("ExchangeProvider() = %v, want ErrRetransmissionLimitReached", err)
	}
}

func TestPeerSet_ExchangeProvider_GivesUpAndRemovesSessions(t *testing.T) {
	in := NewInterner()
	o := newTestOrchestrator(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) {
		t.Error("scanner should not be consulted: ExchangeProvider rediscovers via the cached address only")
		return nil, ErrDiscovery
	}}, clock.NewMock())
	channels := NewChannelManager(in)
	sessions := session.NewManager(session.ManagerConfig{})
	pairing, err := NewPairingDriver(PairingConfig{
		Sessions: sessions, Exchanges: &exchange.Manager{},
		Transports: &transport.Manager{}, Fabrics: &fabric.Table{},
		Keys: fakeKeysOK{},
	})
	if err != nil {
		t.Fatalf("NewPairingDriver() = %v, want nil", err)
	}
	ps, err := NewPeerSet(PeerSetConfig{
		Store: NewMemoryStore(StoreConfig{}), Orchestrator: o, Channels: channels,
		Pairing: pairing, Interner: in,
	})
	if err != nil {
		t.Fatalf("NewPeerSet() = %v, want nil", err)
	}

	addr := in.Intern(1, 1)
	stale := newMessageChannel(transport.PeerAddress{}, nil, nil)
	ps.channels.Set(addr, stale)
	if err := ps.store.UpdatePeer(&OperationalPeer{
		Address:         addr,
		OperationalAddr: &ServerAddressIp{IP: "10.0.0.1", Port: 5540},
	}); err != nil {
		t.Fatalf("UpdatePeer() = %v", err)
	}

	_, err = ps.ExchangeProvider()(context.Background(), addr)
	if !errors.Is(err, ErrRetransmissionLimitReached) {
		t.Errorf("ExchangeProvider() = %v, want ErrRetransmissionLimitReached", err)
	}
	if !stale.Closed() {
		t.Error("ExchangeProvider() should drop (and close) the stale channel before rediscovering")
	}

	select {
	case got := <-ps.SessionsRemoved():
		if got != addr {
			t.Errorf("SessionsRemoved() = %v, want %v", got, addr)
		}
	default:
		t.Error("SessionsRemoved() did not fire after the rediscovery attempt failed")
	}
}

func TestPeerSet_ExchangeProvider_NoCachedAddressFailsWithoutScanning(t *testing.T) {
	ps, in := newTestPeerSet(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) {
		t.Error("scanner should not be consulted: ExchangeProvider never falls back to discovery")
		return nil, ErrDiscovery
	}})
	addr := in.Intern(1, 1)

	ps.channels.Set(addr, newMessageChannel(transport.PeerAddress{}, nil, nil))
	if err := ps.store.UpdatePeer(&OperationalPeer{Address: addr}); err != nil {
		t.Fatalf("UpdatePeer() = %v", err)
	}

	_, err := ps.ExchangeProvider()(context.Background(), addr)
	if !errors.Is(err, ErrRetransmissionLimitReached) {
		t.Errorf("ExchangeProvider() = %v, want ErrRetransmissionLimitReached", err)
	}
}

type failingStore struct {
	err error
}

func (s *failingStore) LoadPeers() ([]*OperationalPeer, error) { return nil, s.err }
func (s *failingStore) UpdatePeer(p *OperationalPeer) error    { return s.err }
func (s *failingStore) DeletePeer(addr *Address) error         { return s.err }

func TestPeerSet_FilterFindMapForEach(t *testing.T) {
	ps, in := newTestPeerSet(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) { return nil, ErrDiscovery }})

	a1 := in.Intern(1, 1)
	a2 := in.Intern(1, 2)
	ps.store.UpdatePeer(&OperationalPeer{Address: a1})
	ps.store.UpdatePeer(&OperationalPeer{Address: a2})

	found := ps.Find(func(p *OperationalPeer) bool { return p.Address == a2 })
	if found == nil || found.Address != a2 {
		t.Errorf("Find() = %v, want peer at %v", found, a2)
	}

	filtered := ps.Filter(func(p *OperationalPeer) bool { return p.Address == a1 })
	if len(filtered) != 1 || filtered[0].Address != a1 {
		t.Errorf("Filter() = %+v, want a single peer at %v", filtered, a1)
	}

	mapped := ps.Map(func(p *OperationalPeer) any { return p.Address })
	if len(mapped) != 2 {
		t.Errorf("Map() returned %d results, want 2", len(mapped))
	}

	var seen int
	ps.ForEach(func(p *OperationalPeer) bool {
		seen++
		return true
	})
	if seen != 2 {
		t.Errorf("ForEach() visited %d peers, want 2", seen)
	}

	if ps.Size() != 2 {
		t.Errorf("Size() = %d, want 2", ps.Size())
	}
}

func TestPeerSet_Close(t *testing.T) {
	ps, in := newTestPeerSet(t, &fakeScanner{fn: func(int) (*discovery.ResolvedService, error) { return nil, ErrDiscovery }})
	addr := in.Intern(1, 1)

	ch := newMessageChannel(transport.PeerAddress{}, nil, nil)
	ps.channels.Set(addr, ch)

	ps.Close()

	if !ch.Closed() {
		t.Error("Close() did not close tracked channels")
	}
	if _, err := ps.queue.Admit(context.Background()); !errors.Is(err, ErrClosed) {
		t.Error("Close() did not close the admission queue")
	}
}
