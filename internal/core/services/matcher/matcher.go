// Package matcher resolves observed flows into connections of the
// system model. Matching state is kept per evidence source, so sources
// can be interleaved freely while one source's flows stay ordered.
package matcher

import (
	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

// Match is a resolved flow: the connection it belongs to, the resolved
// source and target addresses, and whether the flow was a reply.
type Match struct {
	Connection *domain.Connection
	Source     domain.EndpointAddress
	Target     domain.EndpointAddress
	Reply      bool
}

// SystemMatcher matches flows against the system model with one match
// engine per evidence source.
type SystemMatcher struct {
	system        *domain.System
	engines       map[string]*Engine
	hostAddresses map[*domain.Host][]domain.Address
}

// New creates a matcher over the system and subscribes to its address
// changes.
func New(system *domain.System) *SystemMatcher {
	m := &SystemMatcher{
		system:        system,
		engines:       make(map[string]*Engine),
		hostAddresses: make(map[*domain.Host][]domain.Address),
	}
	for _, h := range system.Hosts {
		m.hostAddresses[h] = append([]domain.Address{}, h.Addresses...)
	}
	system.AddModelListener(m)
	return m
}

// System is the matched system model.
func (m *SystemMatcher) System() *domain.System { return m.system }

// Reset drops all matching state and resets the model.
func (m *SystemMatcher) Reset() {
	clear(m.engines)
	m.system.Reset()
}

// Connection resolves the flow, creating entities and a connection
// when nothing matches.
func (m *SystemMatcher) Connection(flow domain.Flow) Match {
	source := flow.Evidence().Source
	engine := m.engines[source.Label]
	if engine == nil {
		engine = newEngine(m, source)
		m.engines[source.Label] = engine
	}
	cm := engine.getConnection(flow)
	return Match{
		Connection: cm.connection,
		Source:     cm.source.address,
		Target:     cm.target.address,
		Reply:      cm.reply,
	}
}

// AddressChange re-indexes a host whose addresses changed. The only
// allowed change is learning an IP address by DNS name.
func (m *SystemMatcher) AddressChange(host *domain.Host) {
	old := m.hostAddresses[host]
	dns := false
	for _, a := range host.Addresses {
		if _, ok := a.(domain.DNSName); ok {
			dns = true
			break
		}
	}
	if !dns || sameAddresses(old, host.Addresses) {
		return
	}
	m.hostAddresses[host] = append([]domain.Address{}, host.Addresses...)
	for _, engine := range m.engines {
		engine.updateAddresses(host, old)
	}
}

func (m *SystemMatcher) ConnectionChange(*domain.Connection) {}
func (m *SystemMatcher) HostChange(*domain.Host)             {}
func (m *SystemMatcher) ServiceChange(*domain.Service)       {}
func (m *SystemMatcher) PropertyChange(domain.ModelEntity, domain.PropertyKey, domain.PropertyValue) {
}

func sameAddresses(a, b []domain.Address) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[domain.Address]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	for _, x := range b {
		if _, ok := set[x]; !ok {
			return false
		}
	}
	return true
}
