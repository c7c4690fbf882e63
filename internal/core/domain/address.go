package domain

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Protocol identifies the link or application protocol of a service or flow.
type Protocol string

const (
	ProtocolAny      Protocol = ""
	ProtocolARP      Protocol = "arp"
	ProtocolDNS      Protocol = "dns"
	ProtocolDHCP     Protocol = "dhcp"
	ProtocolEAPOL    Protocol = "eapol"
	ProtocolEthernet Protocol = "eth"
	ProtocolHTTP     Protocol = "http"
	ProtocolICMP     Protocol = "icmp"
	ProtocolTCP      Protocol = "tcp"
	ProtocolIP       Protocol = "ip" // IPv4 or IPv6
	ProtocolSSH      Protocol = "ssh"
	ProtocolTLS      Protocol = "tls" // or SSL
	ProtocolUDP      Protocol = "udp"
	ProtocolNTP      Protocol = "ntp"
	ProtocolBLE      Protocol = "ble"
)

// ParseProtocol resolves a protocol by its token, e.g. "tcp".
func ParseProtocol(value string) (Protocol, bool) {
	switch p := Protocol(strings.ToLower(value)); p {
	case ProtocolAny, ProtocolARP, ProtocolDNS, ProtocolDHCP, ProtocolEAPOL, ProtocolEthernet,
		ProtocolHTTP, ProtocolICMP, ProtocolTCP, ProtocolIP, ProtocolSSH, ProtocolTLS,
		ProtocolUDP, ProtocolNTP, ProtocolBLE:
		return p, true
	default:
		return ProtocolAny, false
	}
}

// Address identifies an addressable entity. The variant set is closed:
// PseudoAddress, HWAddress, IPAddress, DNSName, EndpointAddress and
// PathAddress. All variants are comparable values, usable as map keys.
type Address interface {
	// Host strips protocol, port and path qualifiers down to the host address.
	Host() Address
	// ChangeHost rebuilds the address over another host address.
	// Plain host addresses return themselves unchanged.
	ChangeHost(host Address) Address
	// Priority ranks the addresses of an entity when choosing one to
	// display. Matching never consults it.
	Priority() int
	// Parseable returns the textual form accepted by ParseAddress.
	Parseable() string

	IsWildcard() bool
	IsMulticast() bool
	IsGlobal() bool
	IsNull() bool
	IsHardware() bool

	fmt.Stringer

	sealedAddress()
}

// Well-known addresses.
var (
	// AnyHost matches any host address.
	AnyHost = PseudoAddress{Name: "*", Wildcard: true}
	// BLEAd is the pseudo-address BLE advertisements are sent to.
	BLEAd = PseudoAddress{Name: "BLE_Ad", Multicast: true, Hardware: true}

	NullHW      = HWAddress{Data: "00:00:00:00:00:00"}
	BroadcastHW = HWAddress{Data: "ff:ff:ff:ff:ff:ff"}

	NullIP      = IPAddress{Addr: netip.AddrFrom4([4]byte{0, 0, 0, 0})}
	BroadcastIP = IPAddress{Addr: netip.AddrFrom4([4]byte{255, 255, 255, 255})}
)

// PseudoAddress is a named address which does not identify a real endpoint,
// such as the wildcard or the BLE advertisement target.
type PseudoAddress struct {
	Name      string
	Wildcard  bool
	Multicast bool
	Hardware  bool
}

func (a PseudoAddress) Host() Address                 { return a }
func (a PseudoAddress) ChangeHost(_ Address) Address  { return a }
func (a PseudoAddress) IsWildcard() bool              { return a.Wildcard }
func (a PseudoAddress) IsMulticast() bool             { return a.Multicast }
func (a PseudoAddress) IsGlobal() bool                { return false }
func (a PseudoAddress) IsNull() bool                  { return false }
func (a PseudoAddress) IsHardware() bool              { return a.Hardware }
func (a PseudoAddress) Parseable() string             { return a.Name }
func (a PseudoAddress) String() string                { return a.Name }
func (PseudoAddress) sealedAddress() {}

func (a PseudoAddress) Priority() int {
	if a.Wildcard {
		return 0
	}
	return 3
}

// HWAddress is a hardware address, e.g. Ethernet MAC or BLE device address.
// Data is lower-case colon-separated with zero-prefixed octets.
type HWAddress struct {
	Data string
}

// ParseHW parses a hardware address, zero-prefixing short octets.
func ParseHW(value string) (HWAddress, error) {
	parts := strings.Split(strings.ToLower(value), ":")
	if len(parts) != 6 {
		return HWAddress{}, fmt.Errorf("bad HW address %q", value)
	}
	for i, p := range parts {
		if len(p) == 1 {
			p = "0" + p
			parts[i] = p
		}
		if len(p) != 2 {
			return HWAddress{}, fmt.Errorf("bad HW address %q", value)
		}
		if _, err := strconv.ParseUint(p, 16, 8); err != nil {
			return HWAddress{}, fmt.Errorf("bad HW address %q", value)
		}
	}
	return HWAddress{Data: strings.Join(parts, ":")}, nil
}

// MustParseHW is ParseHW for statically known addresses. It panics on error.
func MustParseHW(value string) HWAddress {
	a, err := ParseHW(value)
	if err != nil {
		panic(err)
	}
	return a
}

func (a HWAddress) Host() Address                { return a }
func (a HWAddress) ChangeHost(_ Address) Address { return a }
func (a HWAddress) IsWildcard() bool             { return false }
func (a HWAddress) IsMulticast() bool            { return a == BroadcastHW }
func (a HWAddress) IsGlobal() bool               { return false }
func (a HWAddress) IsNull() bool                 { return a == NullHW }
func (a HWAddress) IsHardware() bool             { return true }
func (a HWAddress) Parseable() string            { return a.Data + "|hw" }
func (a HWAddress) String() string               { return a.Data }
func (HWAddress) sealedAddress() {}

func (a HWAddress) Priority() int {
	if a.IsMulticast() {
		return 11
	}
	return 1
}

// IPAddress is an IPv4 or IPv6 address.
type IPAddress struct {
	Addr netip.Addr
}

// ParseIP parses an IP address, accepting bracketed IPv6.
func ParseIP(value string) (IPAddress, error) {
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		value = value[1 : len(value)-1]
	}
	a, err := netip.ParseAddr(value)
	if err != nil {
		return IPAddress{}, fmt.Errorf("bad IP address %q", value)
	}
	return IPAddress{Addr: a}, nil
}

// MustParseIP is ParseIP for statically known addresses. It panics on error.
func MustParseIP(value string) IPAddress {
	a, err := ParseIP(value)
	if err != nil {
		panic(err)
	}
	return a
}

func (a IPAddress) Host() Address                { return a }
func (a IPAddress) ChangeHost(_ Address) Address { return a }
func (a IPAddress) IsWildcard() bool             { return false }
func (a IPAddress) IsMulticast() bool            { return a.Addr.IsMulticast() || a == BroadcastIP }
func (a IPAddress) IsNull() bool                 { return a.Addr.IsUnspecified() }
func (a IPAddress) IsHardware() bool             { return false }
func (a IPAddress) IsLoopback() bool             { return a.Addr.IsLoopback() }
func (a IPAddress) Priority() int                { return 2 }
func (a IPAddress) Parseable() string            { return a.Addr.String() } // IP is the default
func (a IPAddress) String() string               { return a.Addr.String() }
func (IPAddress) sealedAddress() {}

func (a IPAddress) IsGlobal() bool {
	if !a.Addr.IsValid() || a.IsMulticast() || a.IsNull() {
		return false
	}
	return !a.Addr.IsPrivate() && !a.Addr.IsLoopback() && !a.Addr.IsLinkLocalUnicast() &&
		!a.Addr.IsLinkLocalMulticast()
}

// DNSName is a DNS domain name.
type DNSName struct {
	Name string
}

func (a DNSName) Host() Address                { return a }
func (a DNSName) ChangeHost(_ Address) Address { return a }
func (a DNSName) IsWildcard() bool             { return false }
func (a DNSName) IsMulticast() bool            { return false }
func (a DNSName) IsGlobal() bool               { return true }
func (a DNSName) IsNull() bool                 { return false }
func (a DNSName) IsHardware() bool             { return false }
func (a DNSName) Priority() int                { return 3 }
func (a DNSName) Parseable() string            { return a.Name + "|name" }
func (a DNSName) String() string               { return a.Name }
func (DNSName) sealedAddress() {}

// LooksLikeName checks if a string looks like a DNS name rather than
// a numeric address.
func LooksLikeName(name string) bool {
	if !strings.Contains(name, ".") {
		return false
	}
	for _, c := range name {
		if c != '.' && c != ':' && (c < '0' || c > '9') {
			return true
		}
	}
	return false
}

// NameOrIP resolves a string into an IP address when it parses as one,
// otherwise into a DNS name.
func NameOrIP(value string) Address {
	if a, err := ParseIP(value); err == nil {
		return a
	}
	return DNSName{Name: value}
}

// EndpointAddress qualifies a host address with protocol and port.
// Port -1 means no port.
type EndpointAddress struct {
	host     Address
	protocol Protocol
	port     int
}

// NewEndpointAddress creates an endpoint address over the given host address.
func NewEndpointAddress(host Address, protocol Protocol, port int) EndpointAddress {
	return EndpointAddress{host: host, protocol: protocol, port: port}
}

// AnyHostEndpoint creates a wildcard-host endpoint address.
func AnyHostEndpoint(protocol Protocol, port int) EndpointAddress {
	return EndpointAddress{host: AnyHost, protocol: protocol, port: port}
}

func (a EndpointAddress) Host() Address      { return a.host }
func (a EndpointAddress) Protocol() Protocol { return a.protocol }
func (a EndpointAddress) Port() int          { return a.port }
func (a EndpointAddress) IsWildcard() bool   { return a.host.IsWildcard() }
func (a EndpointAddress) IsMulticast() bool  { return a.host.IsMulticast() }
func (a EndpointAddress) IsGlobal() bool     { return a.host.IsGlobal() }
func (a EndpointAddress) IsNull() bool       { return a.host.IsNull() }
func (a EndpointAddress) IsHardware() bool   { return a.host.IsHardware() }
func (a EndpointAddress) Priority() int      { return a.host.Priority() + 1 }
func (EndpointAddress) sealedAddress() {}

func (a EndpointAddress) ChangeHost(host Address) Address {
	return EndpointAddress{host: host, protocol: a.protocol, port: a.port}
}

func (a EndpointAddress) Parseable() string {
	return a.host.Parseable() + a.suffix()
}

func (a EndpointAddress) String() string {
	return a.host.String() + a.suffix()
}

func (a EndpointAddress) suffix() string {
	var s string
	if a.protocol != ProtocolAny {
		s = "/" + string(a.protocol)
	}
	if a.port >= 0 {
		s += ":" + strconv.Itoa(a.port)
	}
	return s
}

// ProtocolPortString formats a protocol and port pair, omitting a negative port.
func ProtocolPortString(protocol Protocol, port int) string {
	if port < 0 {
		return string(protocol)
	}
	return string(protocol) + ":" + strconv.Itoa(port)
}

// PathAddress qualifies an origin address with a path, e.g. an URL path
// served by a web service.
type PathAddress struct {
	origin Address
	path   string
}

// NewPathAddress creates a path-qualified address.
func NewPathAddress(origin Address, path string) PathAddress {
	return PathAddress{origin: origin, path: path}
}

func (a PathAddress) Host() Address     { return a.origin }
func (a PathAddress) Path() string      { return a.path }
func (a PathAddress) IsWildcard() bool  { return a.origin.IsWildcard() }
func (a PathAddress) IsMulticast() bool { return a.origin.IsMulticast() }
func (a PathAddress) IsGlobal() bool    { return a.origin.IsGlobal() }
func (a PathAddress) IsNull() bool      { return a.origin.IsNull() }
func (a PathAddress) IsHardware() bool  { return a.origin.IsHardware() }
func (a PathAddress) Priority() int     { return a.origin.Priority() + 1 }
func (a PathAddress) Parseable() string { return a.origin.Parseable() + "(" + a.path + ")" }
func (a PathAddress) String() string    { return a.origin.String() + "(" + a.path + ")" }
func (PathAddress) sealedAddress() {}

func (a PathAddress) ChangeHost(host Address) Address {
	return PathAddress{origin: a.origin.ChangeHost(host), path: a.path}
}

// OpenEnvelope unwraps a path-qualified address into its origin and path.
// Other addresses are returned as-is with an empty path.
func OpenEnvelope(a Address) (Address, string) {
	if p, ok := a.(PathAddress); ok {
		return p.origin, p.path
	}
	return a, ""
}

// GetPrioritized picks the preferred address of an entity, the one with
// the highest priority. Ties go to the first listed. Defaults to the
// null IP address.
func GetPrioritized(addresses []Address) Address {
	var pick Address
	for _, a := range addresses {
		if pick == nil || pick.Priority() < a.Priority() {
			pick = a
		}
	}
	if pick == nil {
		return NullIP
	}
	return pick
}

// ParseAddress parses the "value|type" textual address form, type one of
// "ip", "hw" or "name" with "ip" as the default. A trailing parenthesized
// segment is a path qualifier.
func ParseAddress(value string) (Address, error) {
	if origin, path, ok := splitPath(value); ok {
		oa, err := ParseAddress(origin)
		if err != nil {
			return nil, err
		}
		return PathAddress{origin: oa, path: path}, nil
	}
	if value == AnyHost.Name {
		return AnyHost, nil
	}
	v, t := value, "ip"
	if i := strings.LastIndex(value, "|"); i >= 0 {
		v, t = value[:i], value[i+1:]
	}
	switch t {
	case "ip":
		return ParseIP(v)
	case "hw":
		return ParseHW(v)
	case "name":
		return DNSName{Name: v}, nil
	default:
		return nil, fmt.Errorf("unknown address type %q, allowed are 'ip', 'hw', and 'name'", t)
	}
}

// ParseEndpoint parses an address with an optional "/protocol:port" suffix.
// A missing port parses as -1.
func ParseEndpoint(value string) (Address, error) {
	if origin, path, ok := splitPath(value); ok {
		oa, err := ParseAddress(origin)
		if err != nil {
			return nil, err
		}
		return PathAddress{origin: oa, path: path}, nil
	}
	a, pp, found := strings.Cut(value, "/")
	addr, err := ParseAddress(a)
	if err != nil || !found {
		return addr, err
	}
	proto, portValue, found := strings.Cut(pp, ":")
	p, ok := ParseProtocol(proto)
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q", proto)
	}
	port := -1
	if found {
		port, err = strconv.Atoi(portValue)
		if err != nil {
			return nil, fmt.Errorf("bad port %q", portValue)
		}
	}
	return EndpointAddress{host: addr, protocol: p, port: port}, nil
}

func splitPath(value string) (origin, path string, ok bool) {
	i := strings.Index(value, "(")
	if i < 0 || !strings.HasSuffix(value, ")") {
		return "", "", false
	}
	return value[:i], value[i+1 : len(value)-1], true
}
