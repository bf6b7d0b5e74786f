package peer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/matterkit/peercore/pkg/discovery"
	"github.com/matterkit/peercore/pkg/exchange"
	"github.com/matterkit/peercore/pkg/fabric"
)

// DiscoveryKind enumerates the four discovery modes, ordered by
// aggressiveness: None < RetransmissionDiscovery < TimedDiscovery <
// FullDiscovery. The numeric order is the "strictly higher mode"
// comparison the orchestrator uses to decide whether to supersede a
// RunningDiscovery.
type DiscoveryKind int

const (
	// None tries only cached addresses; a miss raises a discovery error
	// immediately.
	None DiscoveryKind = iota
	// RetransmissionDiscovery is a 5s broadcast triggered only by the
	// resubmission reactor; it does not consult cached addresses.
	RetransmissionDiscovery
	// TimedDiscovery is bounded by a caller-provided timeout and uses
	// cached addresses.
	TimedDiscovery
	// FullDiscovery is unbounded until found, with cached addresses polled
	// in parallel every FullDiscoveryPollInterval.
	FullDiscovery
)

func (k DiscoveryKind) String() string {
	switch k {
	case None:
		return "None"
	case RetransmissionDiscovery:
		return "RetransmissionDiscovery"
	case TimedDiscovery:
		return "TimedDiscovery"
	case FullDiscovery:
		return "FullDiscovery"
	default:
		return "Unknown"
	}
}

// RetransmissionWindow is the fixed duration of a RetransmissionDiscovery
// scan.
const RetransmissionWindow = 5 * time.Second

// FullDiscoveryPollInterval is how often FullDiscovery retries the cached
// address while the mDNS scan is still outstanding.
const FullDiscoveryPollInterval = 10 * time.Minute

// FullDiscoveryScanBaseInterval is the base interval between successive
// mDNS scan attempts for FullDiscovery, fed through the same MRP backoff
// shape used for exchange retransmission timing.
const FullDiscoveryScanBaseInterval = 5 * time.Second

// FullDiscoveryScanMaxInterval caps the backoff growth so a long-running
// FullDiscovery never waits longer than this between scan attempts.
const FullDiscoveryScanMaxInterval = 2 * time.Minute

// Connector attempts to turn a resolved operational address into a live
// MessageChannel, e.g. by running the pairing driver. Each producer the
// orchestrator races (direct cached address, mDNS result, periodic poll)
// calls this once it has a candidate address, passing along the peer's
// canonical logical Address being resolved and whatever DiscoveryData hints
// accompany that address (nil if none are known for this candidate).
type Connector func(ctx context.Context, peer *Address, addr ServerAddressIp, discovered *DiscoveryData) (*MessageChannel, error)

// Scanner is the subset of pkg/discovery.Manager the orchestrator consumes
// to resolve a peer's current operational address via mDNS.
type Scanner interface {
	LookupOperational(ctx context.Context, compressedFabricID [8]byte, nodeID fabric.NodeID) (*discovery.ResolvedService, error)
}

// runningDiscovery tracks the single in-flight discovery for one address.
// Any number of callers may be waiting on it at once (the "parallel
// connects coalesce" guarantee), so the result is broadcast by closing done
// rather than sent on a single-value channel. result is written exactly
// once, by whichever producer wins the any-of race, strictly before done is
// closed, so every waiter's receive on done happens-after that write.
type runningDiscovery struct {
	kind   DiscoveryKind
	cancel context.CancelFunc
	done   chan struct{}
	result firstResult
	timer  *clock.Timer
}

type firstResult struct {
	channel *MessageChannel
	err     error
}

// Orchestrator implements the Discovery Orchestrator: it chooses among the
// four discovery modes, cancels and supersedes in-flight strategies, and
// multiplexes waiters onto one in-flight operation per address via a
// first-completer broadcast (mirrors pkg/im/client.go's resultCh +
// sync.Once pattern, generalized to multiple producers).
type Orchestrator struct {
	scanner Scanner
	clock   clock.Clock
	log     logging.LeveledLogger

	compressedFabricID func(fabric.FabricIndex) ([8]byte, bool)

	mu      sync.Mutex
	running map[*Address]*runningDiscovery
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// Scanner resolves operational addresses via mDNS. Required.
	Scanner Scanner

	// CompressedFabricID resolves a FabricIndex to the compressed fabric id
	// mDNS service instance names are built from. Required.
	CompressedFabricID func(fabric.FabricIndex) ([8]byte, bool)

	// Clock is the injectable time source for discovery timers. If nil,
	// the real wall clock is used.
	Clock clock.Clock

	// LoggerFactory creates the component's logger. If nil, logging is a
	// no-op.
	LoggerFactory logging.LoggerFactory
}

// NewOrchestrator creates a Discovery Orchestrator.
func NewOrchestrator(config OrchestratorConfig) (*Orchestrator, error) {
	if config.Scanner == nil {
		return nil, ErrImplementation
	}
	if config.CompressedFabricID == nil {
		return nil, ErrImplementation
	}
	c := config.Clock
	if c == nil {
		c = clock.New()
	}

	o := &Orchestrator{
		scanner:            config.Scanner,
		clock:              c,
		compressedFabricID: config.CompressedFabricID,
		running:            make(map[*Address]*runningDiscovery),
	}
	if config.LoggerFactory != nil {
		o.log = config.LoggerFactory.NewLogger("peer-discovery")
	}
	return o, nil
}

// Resolve runs (or joins) discovery for addr under the requested mode and
// returns the first usable channel a racing producer yields.
//
// cached is the peer's last known operational address, if any (nil if
// unknown); cachedDiscovery is the DiscoveryData hints recorded alongside it,
// consulted by the direct-reconnect and poll producers. The mDNS scan
// producer uses whatever DiscoveryData its own fresh resolution carries
// instead. connect is invoked, possibly multiple times concurrently, once
// per candidate address a producer resolves.
//
// RetransmissionDiscovery may only be requested with fromReactor=true;
// explicit callers requesting it are rejected with ErrImplementation. A
// non-zero timeout is only permitted with TimedDiscovery.
func (o *Orchestrator) Resolve(ctx context.Context, addr *Address, mode DiscoveryKind, timeout time.Duration, fromReactor bool, cached *ServerAddressIp, cachedDiscovery *DiscoveryData, connect Connector) (*MessageChannel, error) {
	if mode == RetransmissionDiscovery && !fromReactor {
		return nil, ErrImplementation
	}
	if timeout != 0 && mode != TimedDiscovery {
		return nil, ErrImplementation
	}

	o.mu.Lock()
	existing, hasExisting := o.running[addr]

	if hasExisting {
		if mode <= existing.kind {
			// Lower or equal aggressiveness: wait on the existing set of
			// pending-channel producers, however many other callers are
			// also waiting on it.
			rd := existing
			o.mu.Unlock()
			return o.await(ctx, rd)
		}
		// Strictly higher: cancel and supersede.
		if o.log != nil {
			o.log.Debugf("upgrading discovery for %s from %s to %s", addr, existing.kind, mode)
		}
		existing.cancel()
		if existing.timer != nil {
			existing.timer.Stop()
		}
		delete(o.running, addr)
	}

	rd := &runningDiscovery{
		kind: mode,
		done: make(chan struct{}),
	}
	discCtx, cancel := context.WithCancel(ctx)
	rd.cancel = cancel
	o.running[addr] = rd
	o.mu.Unlock()

	var once sync.Once
	publish := func(res firstResult) {
		once.Do(func() {
			rd.result = res
			close(rd.done)
		})
	}

	o.startProducers(discCtx, addr, mode, timeout, cached, cachedDiscovery, connect, rd, publish)

	return o.await(ctx, rd)
}

func (o *Orchestrator) await(ctx context.Context, rd *runningDiscovery) (*MessageChannel, error) {
	select {
	case <-rd.done:
		return rd.result.channel, rd.result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) startProducers(ctx context.Context, addr *Address, mode DiscoveryKind, timeout time.Duration, cached *ServerAddressIp, cachedDiscovery *DiscoveryData, connect Connector, rd *runningDiscovery, publish func(firstResult)) {
	var wg sync.WaitGroup
	// finish is called by whichever producer wins (or the lone producer
	// under None). It retires the RunningDiscovery entry and tears down
	// every other producer sharing it: rd.cancel stops the mDNS scan and
	// any in-flight connect, and rd.timer.Stop (if FullDiscovery started
	// one) stops the cached-address poll. Both run regardless of which
	// producer called finish, so whichever producer lost the any-of race
	// does not keep scanning or polling after Resolve has already
	// returned.
	finish := func(res firstResult) {
		o.mu.Lock()
		if o.running[addr] == rd {
			delete(o.running, addr)
		}
		o.mu.Unlock()
		rd.cancel()
		if rd.timer != nil {
			rd.timer.Stop()
		}
		publish(res)
	}

	if mode == FullDiscovery && cached != nil {
		rd.timer = o.clock.Timer(FullDiscoveryPollInterval)
	}

	// Direct reconnect: attempted first whenever a cached address exists
	// and either there is no running discovery conflict or mode is None.
	if cached != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := connect(ctx, addr, *cached, cachedDiscovery)
			if err == nil {
				finish(firstResult{channel: ch})
				return
			}
			if mode == None {
				finish(firstResult{err: ErrDiscovery})
			}
		}()
	} else if mode == None {
		finish(firstResult{err: ErrDiscovery})
		return
	}

	if mode == None {
		wg.Wait()
		return
	}

	scanCtx := ctx
	var scanCancel context.CancelFunc
	switch mode {
	case RetransmissionDiscovery:
		scanCtx, scanCancel = context.WithTimeout(ctx, RetransmissionWindow)
	case TimedDiscovery:
		if timeout > 0 {
			scanCtx, scanCancel = context.WithTimeout(ctx, timeout)
		}
	}
	if scanCancel != nil {
		defer scanCancel()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if mode == FullDiscovery {
			o.scanUntilFound(scanCtx, addr, connect, finish)
			return
		}
		resolved, discovered, err := o.scan(scanCtx, addr)
		if err != nil {
			finish(firstResult{err: ErrDiscovery})
			return
		}
		ch, err := connect(ctx, addr, *resolved, discovered)
		if err != nil {
			finish(firstResult{err: ErrDiscovery})
			return
		}
		finish(firstResult{channel: ch})
	}()

	if mode == FullDiscovery && cached != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.pollCachedAddress(ctx, addr, rd, *cached, cachedDiscovery, connect, finish)
		}()
	}

	go func() {
		wg.Wait()
	}()
}

// scanUntilFound retries the mDNS scan for the lifetime of ctx, backing off
// between attempts with the same MRP backoff shape used for exchange
// retransmission timing. A scan or connect miss just schedules the next
// attempt; ctx cancellation (via finish on the winning producer, or the
// caller's own ctx ending) is the only way out besides success.
func (o *Orchestrator) scanUntilFound(ctx context.Context, addr *Address, connect Connector, finish func(firstResult)) {
	backoff := exchange.NewBackoffCalculator(nil)
	for attempt := 0; ; attempt++ {
		resolved, discovered, err := o.scan(ctx, addr)
		if err == nil {
			ch, connErr := connect(ctx, addr, *resolved, discovered)
			if connErr == nil {
				finish(firstResult{channel: ch})
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		wait := backoff.Calculate(FullDiscoveryScanBaseInterval, attempt)
		if wait > FullDiscoveryScanMaxInterval {
			wait = FullDiscoveryScanMaxInterval
		}
		timer := o.clock.Timer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (o *Orchestrator) pollCachedAddress(ctx context.Context, addr *Address, rd *runningDiscovery, cached ServerAddressIp, cachedDiscovery *DiscoveryData, connect Connector, finish func(firstResult)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rd.timer.C:
			ch, err := connect(ctx, addr, cached, cachedDiscovery)
			if err == nil {
				finish(firstResult{channel: ch})
				return
			}
			// Unexpected error rejects the whole operation; a plain miss
			// (peer still unreachable) just waits for the next tick.
			if err != ErrNoChannel && err != ErrDiscovery {
				finish(firstResult{err: err})
				return
			}
			rd.timer.Reset(FullDiscoveryPollInterval)
		}
	}
}

func (o *Orchestrator) scan(ctx context.Context, addr *Address) (*ServerAddressIp, *DiscoveryData, error) {
	cfid, ok := o.compressedFabricID(addr.FabricIndex)
	if !ok {
		return nil, nil, ErrDiscovery
	}
	svc, err := o.scanner.LookupOperational(ctx, cfid, addr.NodeID)
	if err != nil {
		if o.log != nil {
			o.log.Debugf("mDNS lookup for %s failed: %v", addr, err)
		}
		return nil, nil, err
	}
	if len(svc.IPs) == 0 {
		return nil, nil, ErrDiscovery
	}
	return &ServerAddressIp{IP: svc.IPs[0].String(), Port: uint16(svc.Port)}, discoveryDataFromText(svc.Text), nil
}

// discoveryDataFromText recovers the SII/SAI/SAT session-parameter hints
// from a resolved service's raw TXT record, if present. Returns nil if none
// of the three keys are set, so callers can treat "no hints" and "hints
// present" distinctly.
func discoveryDataFromText(text map[string]string) *DiscoveryData {
	var dd DiscoveryData
	if v, ok := text[discovery.TXTKeyIdleInterval]; ok {
		if ms, err := strconv.ParseUint(v, 10, 32); err == nil {
			dd.IdleIntervalMs = uint32(ms)
			dd.HasIdleInterval = true
		}
	}
	if v, ok := text[discovery.TXTKeyActiveInterval]; ok {
		if ms, err := strconv.ParseUint(v, 10, 32); err == nil {
			dd.ActiveIntervalMs = uint32(ms)
			dd.HasActiveInterval = true
		}
	}
	if v, ok := text[discovery.TXTKeyActiveThreshold]; ok {
		if ms, err := strconv.ParseUint(v, 10, 32); err == nil {
			dd.ActiveThresholdMs = uint32(ms)
			dd.HasActiveThreshold = true
		}
	}
	if !dd.HasIdleInterval && !dd.HasActiveInterval && !dd.HasActiveThreshold {
		return nil
	}
	return &dd
}

// CancelAll cancels every RunningDiscovery (stops timers, cancels the
// scanner context) without resolving their waiters, so callers observe
// their own abort path (typically context.Canceled) instead of spurious
// success. Used by PeerSet.Close.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for addr, rd := range o.running {
		rd.cancel()
		if rd.timer != nil {
			rd.timer.Stop()
		}
		delete(o.running, addr)
	}
}

// IsRunning reports whether addr currently has a RunningDiscovery entry.
func (o *Orchestrator) IsRunning(addr *Address) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[addr]
	return ok
}
