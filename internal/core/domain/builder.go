package domain

import "strings"

// declaredMatchPriority ranks declared entities above matcher-created
// ones when competing for a new connection end.
const declaredMatchPriority = 10

// SystemBuilder declares the expected system model: hosts, services,
// connections and policies. Declared entities start expected and are
// marked original, surviving model resets.
type SystemBuilder struct {
	system *System
}

// NewSystemBuilder creates a builder over a fresh system model.
func NewSystemBuilder(name string) *SystemBuilder {
	return &SystemBuilder{system: NewSystem(name)}
}

// System is the built system model.
func (b *SystemBuilder) System() *System { return b.system }

func (b *SystemBuilder) declaredHost(name, description string) *HostBuilder {
	if h := b.system.HostByName(name); h != nil {
		return &HostBuilder{host: h, builder: b}
	}
	h := b.system.newHost(name)
	h.Description = description
	h.Status = StatusExpected
	h.MatchPriority = declaredMatchPriority
	b.system.MarkOriginal(h)
	return &HostBuilder{host: h, builder: b}
}

// Device declares an IoT device host.
func (b *SystemBuilder) Device(name string) *HostBuilder {
	h := b.declaredHost(name, "Device")
	h.host.Kind = HostDevice
	return h
}

// Remote declares a remote host, e.g. a backend server.
func (b *SystemBuilder) Remote(name string) *HostBuilder {
	h := b.declaredHost(name, "Remote service")
	h.host.Kind = HostRemote
	return h
}

// Mobile declares a mobile application host. Mobiles run who knows
// what applications, so their activity is unlimited.
func (b *SystemBuilder) Mobile(name string) *HostBuilder {
	h := b.declaredHost(name, "Mobile application")
	h.host.Kind = HostMobile
	h.host.ExternalActivity = ActivityUnlimited
	return h
}

// Browser declares a browser host.
func (b *SystemBuilder) Browser(name string) *HostBuilder {
	h := b.declaredHost(name, "Browser")
	h.host.Kind = HostBrowser
	return h
}

// Infra declares a host which is part of the testing infrastructure.
func (b *SystemBuilder) Infra(name string) *HostBuilder {
	h := b.declaredHost(name, "Part of the testing infrastructure")
	h.host.Kind = HostAdministrative
	h.host.ExternalActivity = ActivityUnlimited
	h.host.MatchPriority = 5
	return h
}

// AnyHost declares a node standing for one or many real hosts.
func (b *SystemBuilder) AnyHost(name string) *HostBuilder {
	h := b.declaredHost(name, "Any host")
	h.host.AnyHost = true
	h.host.Kind = HostAdministrative
	h.host.ExternalActivity = ActivityUnlimited
	return h
}

// Multicast declares a multicast or broadcast target with a service
// at the given endpoint. Multicast targets are administrative, never
// concrete devices.
func (b *SystemBuilder) Multicast(address Address, protocol Protocol, port int) *ServiceBuilder {
	h := b.declaredHost(address.String(), "Multicast")
	h.host.Kind = HostAdministrative
	h.host.ExternalActivity = ActivityPassive
	h.host.AddAddress(address)
	return h.Service(protocol, port)
}

// Broadcast declares the broadcast target for a protocol: the IP
// broadcast for UDP and the hardware broadcast otherwise.
func (b *SystemBuilder) Broadcast(protocol Protocol, port int) *ServiceBuilder {
	if protocol == ProtocolUDP || protocol == ProtocolDHCP {
		return b.Multicast(BroadcastIP, protocol, port)
	}
	return b.Multicast(BroadcastHW, protocol, port)
}

// HostBuilder declares one host.
type HostBuilder struct {
	host    *Host
	builder *SystemBuilder
}

// Host is the declared host.
func (h *HostBuilder) Host() *Host { return h.host }

// HW binds a hardware address. Panics on a malformed address, the
// declared model is static input.
func (h *HostBuilder) HW(address string) *HostBuilder {
	h.host.AddAddress(MustParseHW(address))
	return h
}

// IP binds an IP address.
func (h *HostBuilder) IP(address string) *HostBuilder {
	h.host.AddAddress(MustParseIP(address))
	return h
}

// Name binds a DNS name.
func (h *HostBuilder) Name(name string) *HostBuilder {
	h.host.AddAddress(DNSName{Name: name})
	return h
}

// ExternalActivity declares the allowed level of undeclared traffic.
func (h *HostBuilder) ExternalActivity(activity ExternalActivity) *HostBuilder {
	h.host.ExternalActivity = activity
	return h
}

// IgnoreNameRequests lists names whose lookups do not flag the
// requesting peer.
func (h *HostBuilder) IgnoreNameRequests(names ...string) *HostBuilder {
	for _, n := range names {
		h.host.IgnoreNameRequests = append(h.host.IgnoreNameRequests, DNSName{Name: n})
	}
	return h
}

// Service declares a service on the host. The service address is
// bound with a wildcard host, matching at any address of the host.
func (h *HostBuilder) Service(protocol Protocol, port int) *ServiceBuilder {
	name := ServiceName(strings.ToUpper(string(protocol)), port)
	for _, s := range h.host.Services {
		if s.Name == name {
			return &ServiceBuilder{service: s, builder: h.builder}
		}
	}
	s := h.host.CreateService(NewEndpointAddress(h.host.PreferredAddress(), protocol, port))
	s.Status = StatusExpected
	s.MatchPriority = declaredMatchPriority
	h.builder.system.MarkOriginal(s)
	return &ServiceBuilder{service: s, builder: h.builder}
}

// ConnectTo declares a connection from this host to a service.
func (h *HostBuilder) ConnectTo(target *ServiceBuilder) *Connection {
	return h.builder.connect(h.host, target.service)
}

// ServiceBuilder declares one service of a host.
type ServiceBuilder struct {
	service *Service
	builder *SystemBuilder
}

// Service is the declared service.
func (s *ServiceBuilder) Service() *Service { return s.service }

// Authenticated declares whether the service authenticates its peers.
func (s *ServiceBuilder) Authenticated(flag bool) *ServiceBuilder {
	s.service.Authentication = flag
	return s
}

// Kind declares the connection kind for the service.
func (s *ServiceBuilder) Kind(kind ConnectionKind) *ServiceBuilder {
	s.service.ConnKind = kind
	return s
}

// ClientSide marks a client "service", e.g. the DHCP client port.
func (s *ServiceBuilder) ClientSide() *ServiceBuilder {
	s.service.ClientSide = true
	return s
}

// ReplyFromOtherAddress allows replies from a different address or
// port, as DHCP does.
func (s *ServiceBuilder) ReplyFromOtherAddress() *ServiceBuilder {
	s.service.ReplyFromOtherAddress = true
	return s
}

// ExternalActivity declares the allowed level of undeclared traffic.
func (s *ServiceBuilder) ExternalActivity(activity ExternalActivity) *ServiceBuilder {
	s.service.ExternalActivity = activity
	return s
}

// CaptivePortal marks a name service which redirects to itself.
func (s *ServiceBuilder) CaptivePortal() *ServiceBuilder {
	s.service.CaptivePortal = true
	return s
}

// ConnectFrom declares a connection from a host to this service.
func (s *ServiceBuilder) ConnectFrom(source *HostBuilder) *Connection {
	return s.builder.connect(source.host, s.service)
}

// connect declares a connection, reusing an existing declaration
// between the same ends. The connection is listed at both end hosts
// so that either side matches it.
func (b *SystemBuilder) connect(source Addressable, target *Service) *Connection {
	sh := source.ParentHost()
	for _, c := range sh.Connections {
		if c.Source == source && c.Target == Addressable(target) {
			return c
		}
	}
	c := &Connection{
		Entity: newEntity(b.system.allocateID()),
		Source: source,
		Target: target,
		Kind:   target.ConnKind,
	}
	c.Status = StatusExpected
	sh.Connections = append(sh.Connections, c)
	th := target.ParentHost()
	if th != sh {
		th.Connections = append(th.Connections, c)
	}
	b.system.MarkOriginal(c)
	return c
}
