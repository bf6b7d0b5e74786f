package peer

import (
	"context"
	"sync"

	"github.com/matterkit/peercore/pkg/exchange"
	"github.com/matterkit/peercore/pkg/message"
	"github.com/matterkit/peercore/pkg/session"
	"github.com/matterkit/peercore/pkg/transport"
)

// MessageChannel is a live secure channel to a peer: a secure session plus
// the transport address it was established over. It is what PeerSet hands
// callers once CASE has completed.
type MessageChannel struct {
	peerAddr transport.PeerAddress
	secure   *session.SecureContext
	xchgs    *exchange.Manager

	mu     sync.Mutex
	closed bool
}

func newMessageChannel(peerAddr transport.PeerAddress, secure *session.SecureContext, xchgs *exchange.Manager) *MessageChannel {
	return &MessageChannel{peerAddr: peerAddr, secure: secure, xchgs: xchgs}
}

// PeerAddress returns the network address this channel talks to.
func (c *MessageChannel) PeerAddress() transport.PeerAddress {
	return c.peerAddr
}

// Secure returns the underlying secure session context.
func (c *MessageChannel) Secure() *session.SecureContext {
	return c.secure
}

// Closed reports whether Close has been called.
func (c *MessageChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down the channel's secure session. Idempotent.
func (c *MessageChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
}

// NewExchange opens a new exchange on this channel for the given protocol
// and delegate, for use by interaction-layer callers (Interaction Model
// clients, attribute/command/event readers) outside this package's scope.
// This is their entry point into it.
func (c *MessageChannel) NewExchange(protocolID message.ProtocolID, delegate exchange.ExchangeDelegate) (*exchange.ExchangeContext, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return c.xchgs.NewExchange(c.secure, c.secure.LocalSessionID(), c.peerAddr, protocolID, delegate)
}

// ExchangeProvider is the reconnect closure PeerSet hands to interaction-
// layer callers (attribute/command/event clients) that need a channel for
// addr right now rather than through the discovery-driven Connect path. See
// PeerSet.ExchangeProvider for the fail-fast/rediscover/give-up contract it
// implements.
type ExchangeProvider func(ctx context.Context, addr *Address) (*MessageChannel, error)

// ChannelManager is the address-keyed table of live MessageChannels, the
// "exchange provider" collaborator PeerSet consumes. It owns no connection
// logic of its own. Ensure's connect callback does the actual
// discovery+pairing via the Orchestrator and PairingDriver.
type ChannelManager struct {
	channels *AddressMap[*MessageChannel]

	mu      sync.Mutex
	pending map[*Address][]chan connectResult
}

type connectResult struct {
	channel *MessageChannel
	err     error
}

// NewChannelManager creates an empty ChannelManager backed by in.
func NewChannelManager(in *Interner) *ChannelManager {
	return &ChannelManager{
		channels: NewAddressMap[*MessageChannel](in),
		pending:  make(map[*Address][]chan connectResult),
	}
}

// Get returns the live channel for addr, if any, without attempting to
// connect.
func (m *ChannelManager) Get(addr *Address) (*MessageChannel, bool) {
	return m.channels.Get(*addr)
}

// Set installs ch as the live channel for addr, replacing (and leaving
// untouched, not closing) any previous one. Callers that replace a
// channel are responsible for closing the old one if desired.
func (m *ChannelManager) Set(addr *Address, ch *MessageChannel) {
	m.channels.Set(*addr, ch)
}

// Delete removes and closes the channel for addr, if any.
func (m *ChannelManager) Delete(addr *Address) {
	if ch, ok := m.channels.Get(*addr); ok {
		ch.Close()
	}
	m.channels.Delete(*addr)
}

// Ensure returns the live channel for addr, reusing a cached one if present,
// or else running connect exactly once even if multiple callers race to
// Ensure the same address concurrently. Every concurrent caller receives
// the one connect attempt's result.
func (m *ChannelManager) Ensure(ctx context.Context, addr *Address, connect func(context.Context) (*MessageChannel, error)) (*MessageChannel, error) {
	if ch, ok := m.channels.Get(*addr); ok && !ch.Closed() {
		return ch, nil
	}

	m.mu.Lock()
	if waiters, inFlight := m.pending[addr]; inFlight {
		wait := make(chan connectResult, 1)
		m.pending[addr] = append(waiters, wait)
		m.mu.Unlock()
		return m.await(ctx, wait)
	}
	m.pending[addr] = []chan connectResult{}
	m.mu.Unlock()

	ch, err := connect(ctx)

	m.mu.Lock()
	waiters := m.pending[addr]
	delete(m.pending, addr)
	m.mu.Unlock()

	if err == nil {
		m.channels.Set(*addr, ch)
	}
	for _, w := range waiters {
		w <- connectResult{channel: ch, err: err}
	}

	return ch, err
}

func (m *ChannelManager) await(ctx context.Context, wait chan connectResult) (*MessageChannel, error) {
	select {
	case res := <-wait:
		return res.channel, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CloseAll closes every tracked channel.
func (m *ChannelManager) CloseAll() {
	m.channels.ForEach(func(_ *Address, ch *MessageChannel) bool {
		ch.Close()
		return true
	})
}
