package peer

import (
	"fmt"
	"net"

	"github.com/matterkit/peercore/pkg/transport"
)

// AddressFamily distinguishes the two operational address families an
// operational peer can be reached at. The literal in a ServerAddressIp's IP
// field determines which one applies; each family binds through its own
// pre-opened interface (`::` for IPv6, `0.0.0.0` for IPv4).
type AddressFamily int

const (
	AddressFamilyV4 AddressFamily = iota
	AddressFamilyV6
)

func (f AddressFamily) String() string {
	switch f {
	case AddressFamilyV4:
		return "IPv4"
	case AddressFamilyV6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// addressFamilyFor determines the AddressFamily of an IP literal. Loopback
// addresses resolve to the family the wildcard bind address represents:
// 127.0.0.1 to AddressFamilyV4 (0.0.0.0), ::1 to AddressFamilyV6 (::).
func addressFamilyFor(ip string) (AddressFamily, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, ErrInvalidAddressFamily
	}
	if parsed.To4() != nil {
		return AddressFamilyV4, nil
	}
	return AddressFamilyV6, nil
}

// Interface is a pre-opened UDP registration for one address family. It
// wraps the transport.Manager actually used to reach peers in that family.
type Interface struct {
	family    AddressFamily
	transport *transport.Manager
}

// NewInterface registers t as the interface for family.
func NewInterface(family AddressFamily, t *transport.Manager) *Interface {
	return &Interface{family: family, transport: t}
}

// Family returns the address family this interface serves.
func (i *Interface) Family() AddressFamily {
	return i.family
}

// OpenChannel resolves addr to a transport.PeerAddress reachable through
// this interface's transport.Manager.
func (i *Interface) OpenChannel(addr ServerAddressIp) (transport.PeerAddress, error) {
	return peerTransportAddress(addr)
}

// InterfaceSet is the small collaborator PairingDriver consults to select
// the right pre-opened interface by address family before it opens a
// transport channel to a peer.
type InterfaceSet struct {
	byFamily map[AddressFamily]*Interface
}

// NewInterfaceSet builds an InterfaceSet from the given interfaces. Later
// entries for a family already registered replace earlier ones.
func NewInterfaceSet(ifaces ...*Interface) *InterfaceSet {
	s := &InterfaceSet{byFamily: make(map[AddressFamily]*Interface, len(ifaces))}
	for _, iface := range ifaces {
		s.byFamily[iface.family] = iface
	}
	return s
}

// InterfaceFor returns the interface registered for family, if any.
func (s *InterfaceSet) InterfaceFor(family AddressFamily) (*Interface, bool) {
	iface, ok := s.byFamily[family]
	return iface, ok
}

// dualStackInterfaceSet registers the single transport.Manager for both
// address families. This is the default an unconfigured PairingDriver uses,
// matching transport.Manager's own single dual-purpose UDP socket.
func dualStackInterfaceSet(t *transport.Manager) *InterfaceSet {
	return NewInterfaceSet(
		NewInterface(AddressFamilyV4, t),
		NewInterface(AddressFamilyV6, t),
	)
}

// resolveInterface selects the pre-opened interface for saddr's address
// family and opens a transport channel through it. Both a missing
// registration and an unparseable literal surface as
// ErrPairRetransmissionLimitReached.
func resolveInterface(interfaces *InterfaceSet, saddr ServerAddressIp) (transport.PeerAddress, error) {
	family, err := addressFamilyFor(saddr.IP)
	if err != nil {
		return transport.PeerAddress{}, fmt.Errorf("%w: %w", ErrPairRetransmissionLimitReached, err)
	}
	iface, ok := interfaces.InterfaceFor(family)
	if !ok {
		return transport.PeerAddress{}, fmt.Errorf("%w: %w (%s)", ErrPairRetransmissionLimitReached, ErrNoInterface, family)
	}
	return iface.OpenChannel(saddr)
}
