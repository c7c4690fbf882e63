package domain

import (
	"net/netip"
	"strconv"
	"strings"
)

// ModelListener observes model changes. Not every change creates
// a notification, just the important ones.
type ModelListener interface {
	// ConnectionChange reports a created or changed connection.
	ConnectionChange(connection *Connection)
	// HostChange reports a created or changed host.
	HostChange(host *Host)
	// AddressChange reports changed host addresses.
	AddressChange(host *Host)
	// ServiceChange reports a created or changed service.
	ServiceChange(service *Service)
	// PropertyChange reports a changed property value.
	PropertyChange(entity ModelEntity, key PropertyKey, value PropertyValue)
}

// ConnectionRef keys an observed connection by the flow source and
// target addresses.
type ConnectionRef struct {
	Source Address
	Target Address
}

// System is the root of the model: the declared and observed hosts,
// connections and policies of one system under verification.
type System struct {
	NetworkNode
	// Networks are the local IP networks of the system.
	Networks []netip.Prefix
	Hosts    []*Host
	// Connections maps observed flow address pairs to connections.
	Connections map[ConnectionRef]*Connection

	originals map[int]struct{}
	listeners []ModelListener
	lastID    int
}

// NewSystem creates an empty system model.
func NewSystem(name string) *System {
	s := &System{
		NetworkNode: NetworkNode{
			Entity: newEntity(1),
			Name:   name,
		},
		Networks:    []netip.Prefix{netip.MustParsePrefix("192.168.0.0/16")},
		Connections: make(map[ConnectionRef]*Connection),
		originals:   map[int]struct{}{1: {}},
		lastID:      1,
	}
	s.Status = StatusExpected
	return s
}

func (s *System) allocateID() int {
	s.lastID++
	return s.lastID
}

func (s *System) LongName() string { return s.Name }

// SetSeen on the system is a no-op, the system is always expected.
func (s *System) SetSeen(changes *[]ModelEntity) bool { return setSeenNow(s, changes) }

// CombinedVerdict aggregates hosts and relevant connections of the
// system. The system node itself needs no evidence, so the seen-now
// veto does not apply to it.
func (s *System) CombinedVerdict(cache VerdictCache) Verdict {
	if v, ok := cache[s.id]; ok {
		return v
	}
	var verdicts []Verdict
	for _, h := range s.Hosts {
		verdicts = append(verdicts, h.CombinedVerdict(cache))
	}
	for _, c := range s.RelevantConnections() {
		verdicts = append(verdicts, c.CombinedVerdict(cache))
	}
	for _, p := range s.Properties {
		if v, ok := p.(VerdictValue); ok {
			verdicts = append(verdicts, v.Verdict)
		}
	}
	v := AggregateVerdict(verdicts...)
	cache[s.id] = v
	return v
}

// MarkOriginal records an entity as declared in the model.
func (s *System) MarkOriginal(e ModelEntity) {
	s.originals[e.ID()] = struct{}{}
}

// IsOriginal tells if the entity was declared in the model.
func (s *System) IsOriginal(e ModelEntity) bool {
	_, ok := s.originals[e.ID()]
	return ok
}

// AddModelListener registers a model change listener.
func (s *System) AddModelListener(listener ModelListener) {
	s.listeners = append(s.listeners, listener)
}

func (s *System) NotifyConnectionChange(c *Connection) {
	for _, ln := range s.listeners {
		ln.ConnectionChange(c)
	}
}

func (s *System) NotifyHostChange(h *Host) {
	for _, ln := range s.listeners {
		ln.HostChange(h)
	}
}

// NotifyAddressChange reports changed host addresses to the listeners.
func (s *System) NotifyAddressChange(h *Host) {
	for _, ln := range s.listeners {
		ln.AddressChange(h)
	}
}

func (s *System) NotifyServiceChange(sv *Service) {
	for _, ln := range s.listeners {
		ln.ServiceChange(sv)
	}
}

func (s *System) NotifyPropertyChange(e ModelEntity, key PropertyKey, value PropertyValue) {
	for _, ln := range s.listeners {
		ln.PropertyChange(e, key, value)
	}
}

// IsExternal tells if the address is outside the system networks.
func (s *System) IsExternal(address Address) bool {
	h := address.Host()
	if h.IsGlobal() {
		return true
	}
	ip, ok := h.(IPAddress)
	if !ok || h.IsMulticast() || h.IsNull() {
		return false
	}
	for _, m := range s.Networks {
		if m.Contains(ip.Addr) {
			return false
		}
	}
	return true
}

// RelevantHosts are the hosts backed by status.
func (s *System) RelevantHosts() []*Host {
	var hs []*Host
	for _, h := range s.Hosts {
		if h.IsRelevant() {
			hs = append(hs, h)
		}
	}
	return hs
}

// RelevantConnections are the observed or declared connections backed
// by status or a relevant end, each listed once. Declared connections
// are listed at both end hosts.
func (s *System) RelevantConnections() []*Connection {
	var cs []*Connection
	seen := make(map[int]struct{})
	for _, h := range s.Hosts {
		for _, c := range h.Connections {
			if _, ok := seen[c.ID()]; ok {
				continue
			}
			seen[c.ID()] = struct{}{}
			if c.IsRelevant() {
				cs = append(cs, c)
			}
		}
	}
	return cs
}

// AllEntities lists the system, its hosts, services and connections,
// skipping placeholders.
func (s *System) AllEntities() []ModelEntity {
	es := []ModelEntity{s}
	for _, h := range s.Hosts {
		if h.Status == StatusPlaceholder {
			continue
		}
		es = append(es, h)
		for _, sv := range h.Services {
			if sv.Status != StatusPlaceholder {
				es = append(es, sv)
			}
		}
	}
	seen := make(map[int]struct{})
	for _, h := range s.Hosts {
		for _, c := range h.Connections {
			if _, ok := seen[c.ID()]; ok {
				continue
			}
			seen[c.ID()] = struct{}{}
			if c.Status != StatusPlaceholder {
				es = append(es, c)
			}
		}
	}
	return es
}

// HostByName finds a host by name, without creating one.
func (s *System) HostByName(name string) *Host {
	for _, h := range s.Hosts {
		if h.Name == name {
			return h
		}
	}
	return nil
}

// newHost appends a new host with the default unexpected status.
func (s *System) newHost(name string) *Host {
	h := &Host{
		NetworkNode: NetworkNode{
			Entity: newEntity(s.allocateID()),
			Name:   name,
		},
		system: s,
	}
	s.Hosts = append(s.Hosts, h)
	return h
}

// GetEndpoint resolves an address to a host or service, creating
// unexpected entities when nothing is bound to the address.
func (s *System) GetEndpoint(address Address) Addressable {
	hostAddr := address.Host()
	var found *Host
	for _, h := range s.Hosts {
		if h.HasAddress(hostAddr) {
			found = h
			break
		}
	}
	if found != nil {
		if _, ok := address.(EndpointAddress); ok {
			return found.EndpointAt(address)
		}
		return found
	}
	h := s.newHost(hostAddr.String())
	switch {
	case hostAddr.IsMulticast():
		h.Kind = HostAdministrative
	case s.IsExternal(hostAddr):
		h.Kind = HostRemote
	default:
		h.Kind = HostGeneric
	}
	h.Description = "Unexpected host"
	h.AddAddress(hostAddr)
	h.ExternalActivity = ActivityUnlimited // we know nothing about its behavior
	if ep, ok := address.(EndpointAddress); ok {
		return h.CreateService(ep)
	}
	return h
}

// NewConnection creates a connection between resolved flow ends. The
// connection is stored at the source parent host, the target gets it
// only once it has replied.
func (s *System) NewConnection(source Addressable, sourceAddr Address, target Addressable, targetAddr Address) *Connection {
	c := &Connection{
		Entity: newEntity(s.allocateID()),
		Source: source,
		Target: target,
	}
	sh := source.ParentHost()
	sh.Connections = append(sh.Connections, c)
	if t, ok := target.(*Service); ok {
		c.Kind = t.ConnKind
	}
	s.Connections[ConnectionRef{Source: sourceAddr, Target: targetAddr}] = c
	return c
}

// FreeChildName returns a free host name for the base, renaming an
// existing host holding the base name to a numbered one.
func (s *System) FreeChildName(nameBase string) string {
	names := make(map[string]*Host, len(s.Hosts))
	for _, h := range s.Hosts {
		names[h.Name] = h
	}
	c := 1
	n := nameBase + " " + strconv.Itoa(c)
	if old, ok := names[nameBase]; ok {
		// reusing name base, add numbers to all of them
		old.Name = n
		names[n] = old
	} else if _, ok := names[n]; !ok {
		return nameBase // name is free
	}
	for {
		if _, ok := names[n]; !ok {
			return n
		}
		c++
		n = nameBase + " " + strconv.Itoa(c)
	}
}

// LearnIPAddress learns an IP address of a host, removing it from any
// other host. A host named after its old display address is renamed.
func (s *System) LearnIPAddress(host *Host, ip IPAddress) {
	pri := GetPrioritized(host.Addresses)
	host.AddAddress(ip)
	if host.Name == pri.String() {
		nn := GetPrioritized(host.Addresses).String()
		if nn != host.Name {
			host.Name = s.FreeChildName(nn)
		}
	}
	s.NotifyAddressChange(host)

	for _, h := range s.Hosts {
		if h != host && h.RemoveAddress(ip) {
			s.NotifyAddressChange(h)
		}
	}
}

// LearnNamedAddress learns a name binding to an optional IP address,
// returning the bound host and whether anything changed. Reverse DNS
// names decode to plain address lookups. An unknown name with no
// address never creates a host.
func (s *System) LearnNamedAddress(name DNSName, address Address) (*Host, bool) {
	if ra, ok := reverseDNSAddress(name); ok {
		if ra == nil {
			address = nil // e.g. _dns.resolver.arpa, leave as name
		} else {
			h, _ := s.GetEndpoint(ra).(*Host)
			return h, false
		}
	}

	var named, addressed *Host
	for _, h := range s.Hosts {
		switch {
		case h.HasAddress(name):
			named = h
		case address != nil && h.HasAddress(address):
			addressed = h
		}
	}

	if named != nil && address == nil {
		return named, false // we know the host by name
	}

	if named == nil && addressed != nil {
		addressed.AddAddress(name)
		return addressed, true
	}

	if named == nil {
		if address == nil {
			return nil, false // do not create hosts for plain names
		}
		named, _ = s.GetEndpoint(name).(*Host)
	}

	if addressed == nil {
		if address != nil {
			if named.HasAddress(address) {
				return named, false // known address
			}
			named.AddAddress(address)
		}
		return named, true
	}

	if len(named.Addresses) == 1 {
		// named host has no IP addresses, remove it and use the other
		s.removeHost(named)
		addressed.AddAddress(name)
		return addressed, true
	}

	// IP address shared by two hosts, use the latest as things change
	// between captures
	addressed.RemoveAddress(address)
	named.AddAddress(address)
	return named, true
}

func (s *System) removeHost(host *Host) {
	for i, h := range s.Hosts {
		if h == host {
			s.Hosts = append(s.Hosts[:i], s.Hosts[i+1:]...)
			return
		}
	}
}

// reverseDNSAddress decodes in-addr.arpa and ip6.arpa names. The second
// return is true for any .arpa name, with a nil address when the name
// does not decode to one.
func reverseDNSAddress(name DNSName) (Address, bool) {
	n, ok := strings.CutSuffix(name.Name, ".arpa")
	if !ok || n == "" {
		return nil, false
	}
	if v4, ok := strings.CutSuffix(n, ".in-addr"); ok && v4 != "" {
		// octets are listed in reverse order
		parts := strings.Split(v4, ".")
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
		if a, err := ParseIP(strings.Join(parts, ".")); err == nil {
			return a, true
		}
		return nil, true
	}
	if v6, ok := strings.CutSuffix(n, ".ip6"); ok && v6 != "" {
		nibbles := strings.ReplaceAll(v6, ".", "")
		rev := make([]byte, len(nibbles))
		for i := 0; i < len(nibbles); i++ {
			rev[i] = nibbles[len(nibbles)-1-i]
		}
		var groups []string
		for i := 0; i+4 <= len(rev); i += 4 {
			groups = append(groups, string(rev[i:i+4]))
		}
		if a, err := ParseIP(strings.Join(groups, ":")); err == nil {
			return a, true
		}
		return nil, true
	}
	return nil, true
}

// Reset drops all evidence-created state: undeclared entities and
// connections become placeholders and accumulated properties are
// cleared.
func (s *System) Reset() {
	s.resetProperties()
	for _, h := range s.Hosts {
		h.resetProperties()
		if !s.IsOriginal(h) {
			h.Status = StatusPlaceholder
		}
		for _, sv := range h.Services {
			sv.resetProperties()
			if !s.IsOriginal(sv) {
				sv.Status = StatusPlaceholder
			}
		}
	}
	for _, h := range s.Hosts {
		for _, c := range h.Connections {
			c.resetConnection(s)
		}
	}
	clear(s.Connections)
}
