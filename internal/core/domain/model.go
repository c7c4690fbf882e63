package domain

import (
	"strconv"
	"strings"
)

// NetworkNode is the state shared by the addressable entities and
// the system node.
type NetworkNode struct {
	Entity
	Name        string
	Description string
	Kind        HostKind
	// MatchPriority ranks the node when competing for a new connection end.
	MatchPriority int
	// ExternalActivity is the allowed level of undeclared traffic.
	ExternalActivity ExternalActivity
	// AnyHost marks a node which stands for one or many real hosts.
	AnyHost   bool
	Addresses []Address
}

// Node gives access to the shared network node state.
func (n *NetworkNode) Node() *NetworkNode { return n }

// IsRelevant tells if the node is not a placeholder or external.
func (n *NetworkNode) IsRelevant() bool {
	return n.Status == StatusExpected || n.Status == StatusUnexpected
}

// HasAddress tells if the address itself is bound to this node.
func (n *NetworkNode) HasAddress(address Address) bool {
	for _, a := range n.Addresses {
		if a == address {
			return true
		}
	}
	return false
}

// AddAddress binds an address unless already bound.
func (n *NetworkNode) AddAddress(address Address) bool {
	if n.HasAddress(address) {
		return false
	}
	n.Addresses = append(n.Addresses, address)
	return true
}

// RemoveAddress unbinds an address, if bound.
func (n *NetworkNode) RemoveAddress(address Address) bool {
	for i, a := range n.Addresses {
		if a == address {
			n.Addresses = append(n.Addresses[:i], n.Addresses[i+1:]...)
			return true
		}
	}
	return false
}

// PreferredAddress is the display address of the node.
func (n *NetworkNode) PreferredAddress() Address {
	return GetPrioritized(n.Addresses)
}

// Host is a network host of the system.
type Host struct {
	NetworkNode
	system   *System
	Services []*Service
	// Connections initiated or first observed at this host. Declared
	// connections are also listed at the target host, so either end
	// can match them.
	Connections []*Connection
	// IgnoreNameRequests lists names whose lookups do not make
	// the requesting peer unexpected.
	IgnoreNameRequests []DNSName
}

func (h *Host) LongName() string   { return h.Name }
func (h *Host) ParentHost() *Host  { return h }
func (h *Host) System() *System    { return h.system }
func (h *Host) String() string     { return StatusString(h) + " " + h.Name }

// SetSeen records the host as backed by evidence now.
func (h *Host) SetSeen(changes *[]ModelEntity) bool {
	return setSeenNow(h, changes)
}

// IsMulticast tells if the host is a multicast target rather than
// a real host.
func (h *Host) IsMulticast() bool {
	for _, a := range h.Addresses {
		if a.IsMulticast() {
			return true
		}
	}
	return false
}

// IsGlobal tells if the host is addressable outside the local networks.
func (h *Host) IsGlobal() bool {
	for _, a := range h.Addresses {
		if h.system.IsExternal(a) {
			return true
		}
	}
	return false
}

// AllAddresses are the addresses of the host and its services.
func (h *Host) AllAddresses() []Address {
	ads := append([]Address{}, h.Addresses...)
	for _, s := range h.Services {
		ads = append(ads, s.AllAddresses()...)
	}
	return ads
}

// CreateService creates a child service at the endpoint address. The
// service address is bound with a wildcard host, matching the service
// at any address of this host.
func (h *Host) CreateService(address EndpointAddress) *Service {
	s := &Service{
		NetworkNode: NetworkNode{
			Entity:           newEntity(h.system.allocateID()),
			Name:             ServiceName(strings.ToUpper(string(address.Protocol())), address.Port()),
			Kind:             h.Kind,
			ExternalActivity: h.ExternalActivity,
		},
		Parent:   h,
		Protocol: address.Protocol(),
	}
	s.Addresses = []Address{address.ChangeHost(AnyHost)}
	if h.Status == StatusExternal {
		s.Status = StatusExternal // only external propagates, otherwise unexpected
	}
	h.Services = append(h.Services, s)
	return s
}

// EndpointAt resolves the child service at the address, creating one
// when no declared service matches.
func (h *Host) EndpointAt(address Address) Addressable {
	for _, c := range h.Services {
		if c.HasAddress(address) {
			return c
		}
		for _, a := range c.Addresses {
			if a.IsWildcard() && a.ChangeHost(address.Host()) == address {
				return c
			}
		}
	}
	ep, ok := address.(EndpointAddress)
	if !ok {
		panic("bad address for service: " + address.String())
	}
	return h.CreateService(ep)
}

// LearnAddressPair learns a local hardware and IP address pair observed
// in one flow. Wildcard targets and null or external addresses learn
// nothing.
func (h *Host) LearnAddressPair(hw HWAddress, ip IPAddress) bool {
	if len(h.Addresses) == 0 {
		return false // 'Any' target do not
	}
	if hw.IsNull() {
		return false // null is not a real address
	}
	if h.system.IsExternal(ip) || ip.IsMulticast() || ip.IsNull() {
		return false
	}
	if !h.HasAddress(ip) || !h.HasAddress(hw) {
		h.AddAddress(ip)
		h.AddAddress(hw)
		return true
	}
	return false
}

// RelevantConnections are the connections stored at this host which are
// still backed by status or by a relevant end.
func (h *Host) RelevantConnections() []*Connection {
	var cs []*Connection
	for _, c := range h.Connections {
		if c.statusRelevant() {
			cs = append(cs, c)
		}
	}
	return cs
}

// CombinedVerdict aggregates the host services, properties and relevant
// connections.
func (h *Host) CombinedVerdict(cache VerdictCache) Verdict {
	if v, ok := cache[h.id]; ok {
		return v
	}
	children := make([]ModelEntity, len(h.Services))
	for i, s := range h.Services {
		children[i] = s
	}
	verdicts := []Verdict{combinedVerdict(h, children, cache)}
	for _, c := range h.Connections {
		if c.IsRelevant() {
			verdicts = append(verdicts, c.CombinedVerdict(cache))
		}
	}
	v := AggregateVerdict(verdicts...)
	cache[h.id] = v
	return v
}

func (h *Host) IgnoresName(name DNSName) bool {
	for _, n := range h.IgnoreNameRequests {
		if n == name {
			return true
		}
	}
	return false
}

// Service is a service provided by a host.
type Service struct {
	NetworkNode
	Parent   *Host
	Protocol Protocol
	// ConnKind classifies connections to this service.
	ConnKind       ConnectionKind
	Authentication bool
	// ClientSide marks a client "service", e.g. the DHCP client port.
	ClientSide bool
	// ReplyFromOtherAddress allows replies from a different address or
	// port, as DHCP does.
	ReplyFromOtherAddress bool
	// CaptivePortal marks a name service which redirects to itself.
	CaptivePortal bool
}

func (s *Service) ParentHost() *Host { return s.Parent }
func (s *Service) System() *System   { return s.Parent.system }
func (s *Service) String() string    { return StatusString(s) + " " + s.LongName() }

func (s *Service) LongName() string {
	if s.Parent.Name != s.Name {
		return s.Parent.Name + " " + s.Name
	}
	return s.Name
}

// SetSeen records the service as backed by evidence now. A changed
// service marks its host seen as well.
func (s *Service) SetSeen(changes *[]ModelEntity) bool {
	r := setSeenNow(s, changes)
	if r {
		s.Parent.SetSeen(changes)
	}
	return r
}

func (s *Service) IsMulticast() bool {
	if s.Parent.IsMulticast() {
		return true
	}
	for _, a := range s.Addresses {
		if a.IsMulticast() {
			return true
		}
	}
	return false
}

func (s *Service) IsGlobal() bool {
	if s.Parent.IsGlobal() {
		return true
	}
	for _, a := range s.Addresses {
		if s.Parent.system.IsExternal(a) {
			return true
		}
	}
	return false
}

// AllAddresses expands wildcard service addresses over the parent
// host addresses.
func (s *Service) AllAddresses() []Address {
	var ads []Address
	for _, a := range s.Addresses {
		if a.IsWildcard() {
			for _, pa := range s.Parent.Addresses {
				ads = append(ads, a.ChangeHost(pa.Host()))
			}
		} else {
			ads = append(ads, a)
		}
	}
	return ads
}

// CombinedVerdict aggregates the service properties.
func (s *Service) CombinedVerdict(cache VerdictCache) Verdict {
	return combinedVerdict(s, nil, cache)
}

// IsTCP tells if any service address is a TCP endpoint.
func (s *Service) IsTCP() bool {
	for _, a := range s.Addresses {
		if ep, ok := a.(EndpointAddress); ok && ep.Protocol() == ProtocolTCP {
			return true
		}
	}
	return false
}

// IsEncrypted tells if the service protocol is encrypted.
func (s *Service) IsEncrypted() bool {
	return s.Protocol == ProtocolTLS || s.Protocol == ProtocolSSH
}

// ServiceName formats a service name from an upper-case protocol name
// and a port.
func ServiceName(protocolName string, port int) string {
	if protocolName == "" {
		if port >= 0 {
			return strconv.Itoa(port)
		}
		return "???"
	}
	if port >= 0 {
		return protocolName + ":" + strconv.Itoa(port)
	}
	return protocolName
}

// Connection is an observed or declared connection between two
// addressable entities.
type Connection struct {
	Entity
	Source Addressable
	Target Addressable
	Kind   ConnectionKind
}

func (c *Connection) LongName() string {
	return c.Source.LongName() + " => " + c.Target.LongName()
}

func (c *Connection) String() string { return StatusString(c) + " " + c.LongName() }

// SetSeen records the connection as backed by evidence now.
func (c *Connection) SetSeen(changes *[]ModelEntity) bool {
	return setSeenNow(c, changes)
}

// IsOriginal tells if the connection was declared in the model.
func (c *Connection) IsOriginal() bool {
	return c.Source.System().IsOriginal(c)
}

// IsExpected tells if the connection is declared and thus expected.
func (c *Connection) IsExpected() bool { return c.Status == StatusExpected }

// IsEncrypted tells if the connection runs an encrypted protocol.
func (c *Connection) IsEncrypted() bool {
	t, ok := c.Target.(*Service)
	return ok && t.IsEncrypted()
}

// IsEnd tells if the entity is either end of the connection.
func (c *Connection) IsEnd(entity Addressable) bool {
	return entity == c.Source || entity == c.Target
}

func (c *Connection) statusRelevant() bool {
	return c.Status == StatusExpected || c.Status == StatusUnexpected
}

// IsRelevant tells if the connection or either of its ends is still
// backed by status.
func (c *Connection) IsRelevant() bool {
	if c.statusRelevant() {
		return true
	}
	if c.Status == StatusPlaceholder {
		return false // placeholder is never relevant
	}
	return c.Source.IsRelevant() || c.Target.IsRelevant()
}

// CombinedVerdict aggregates the connection properties.
func (c *Connection) CombinedVerdict(cache VerdictCache) Verdict {
	return combinedVerdict(c, nil, cache)
}

// resetConnection resets properties and drops undeclared connections
// back to placeholders.
func (c *Connection) resetConnection(system *System) {
	c.resetProperties()
	if !system.IsOriginal(c) {
		c.Status = StatusPlaceholder
	}
}
