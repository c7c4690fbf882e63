// Package inspector applies evidence events to the system model: it
// matches flows, drives entity statuses and expectation verdicts and
// notifies the model listeners of changes.
package inspector

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/services/matcher"
)

// Inspector is the single-writer state machine over the system model.
type Inspector struct {
	matcher *matcher.SystemMatcher
	system  *domain.System
	logger  *slog.Logger

	// connectionCount counts flows per connection id, the first flow
	// marks the connection seen.
	connectionCount map[int]int
	// sessions are observed flow directions, one event per session.
	sessions map[domain.FlowKey]bool
	// known entities, by id, already reported to the listeners.
	known map[int]struct{}
}

// New creates an inspector over the system.
func New(system *domain.System, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Inspector{
		matcher:         matcher.New(system),
		system:          system,
		logger:          logger.With("component", "inspector"),
		connectionCount: make(map[int]int),
		sessions:        make(map[domain.FlowKey]bool),
		known:           make(map[int]struct{}),
	}
	i.listEntities()
	return i
}

// System is the inspected system model.
func (i *Inspector) System() *domain.System { return i.system }

// Reset drops all evidence-derived state from the model and the
// matching engines.
func (i *Inspector) Reset() {
	i.matcher.Reset()
	clear(i.connectionCount)
	clear(i.sessions)
	i.listEntities()
}

func (i *Inspector) listEntities() {
	clear(i.known)
	for _, e := range i.system.AllEntities() {
		i.known[e.ID()] = struct{}{}
	}
}

// checkEntity reports a newly materialized entity to the listeners.
func (i *Inspector) checkEntity(entity domain.ModelEntity) bool {
	if _, ok := i.known[entity.ID()]; ok {
		return false
	}
	i.known[entity.ID()] = struct{}{}
	switch e := entity.(type) {
	case *domain.Connection:
		i.system.NotifyConnectionChange(e)
	case *domain.Host:
		i.system.NotifyHostChange(e)
	case *domain.Service:
		i.system.NotifyServiceChange(e)
	}
	return true
}

// Connection resolves a flow to its connection, updating statuses and
// expectation verdicts of the connection and both ends.
func (i *Inspector) Connection(flow domain.Flow) *domain.Connection {
	i.logger.Debug("inspect flow", "flow", flow.Info())
	match := i.matcher.Connection(flow)
	conn := match.Connection
	flow.SetReply(match.Reply)

	if conn.Status == domain.StatusPlaceholder {
		panic(fmt.Sprintf("received placeholder connection: %s", conn))
	}

	count := i.connectionCount[conn.ID()] + 1
	i.connectionCount[conn.ID()] = count

	key := flow.Key()
	_, seenSession := i.sessions[key]
	if !seenSession {
		// new session or direction
		i.sessions[key] = match.Reply
	}

	updated := make(map[domain.ModelEntity]struct{})
	updateSeen := func(entity domain.Addressable) {
		var changed []domain.ModelEntity
		entity.SetSeen(&changed)
		for _, c := range changed {
			updated[c] = struct{}{}
		}
	}

	// with a connection, the endpoints cannot be placeholders
	source, target := conn.Source, conn.Target
	if source.Base().Status == domain.StatusPlaceholder {
		source.Base().Status = conn.Status
	}
	if target.Base().Status == domain.StatusPlaceholder {
		target.Base().Status = conn.Status
	}

	if count == 1 {
		// the connection is seen for the first time
		conn.SetSeen(nil)
		updated[conn] = struct{}{}
		if f, ok := flow.(*domain.IPFlow); ok {
			// learn local hardware and IP address pairs
			sender, receiver := source, target
			if match.Reply {
				sender, receiver = target, source
			}
			sender.ParentHost().LearnAddressPair(f.Source.HW, f.Source.IP)
			receiver.ParentHost().LearnAddressPair(f.Target.HW, f.Target.IP)
		}
	}

	if !seenSession {
		if !match.Reply {
			updateSeen(source)
			switch {
			case target.Base().Status == domain.StatusUnexpected:
				// an unexpected target fails instantly
				updateSeen(target)
			case target.IsRelevant() && target.IsMulticast():
				// multicast is seen when sent to
				updateSeen(target)
			case target.Base().Status == domain.StatusExternal:
				// external target stays inconclusive, but gets reported
				if _, ok := target.Base().ExpectedVerdict(); !ok {
					target.Base().SetProperty(domain.KeyExpected, domain.VerdictValue{Verdict: domain.VerdictIncon})
				}
			}
		} else {
			updateSeen(target)
		}
	}

	// entities to report, in this order
	entities := []domain.ModelEntity{conn, source, source.ParentHost(), target, target.ParentHost()}
	for _, ent := range entities {
		if i.checkEntity(ent) {
			delete(updated, ent) // no separate update required
		}
	}

	// flow events can carry properties for an expected connection
	if conn.Status == domain.StatusExpected {
		props := flow.FlowProperties()
		keys := make([]domain.PropertyKey, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
		for _, k := range keys {
			conn.UpdateProperty(k, props[k])
			i.system.NotifyPropertyChange(conn, k, props[k])
		}
	}

	for _, ent := range entities {
		if _, ok := updated[ent]; !ok {
			continue
		}
		delete(updated, ent)
		v := domain.VerdictValue{Verdict: ent.Base().ExpectedOrIncon()}
		i.system.NotifyPropertyChange(ent, domain.KeyExpected, v)
	}
	return conn
}

// Name applies a name binding: the host gains the name, possibly the
// address, and an unexpected host may be tolerated as external when
// the name lookup peers are externally active.
func (i *Inspector) Name(event *domain.NameEvent) *domain.Host {
	address := event.Address
	if event.Service != nil && event.Service.CaptivePortal && address != nil &&
		event.Service.Parent.HasAddress(address) {
		address = nil // the portal just redirects to itself
	}
	h, _ := i.system.LearnNamedAddress(event.Name, address)
	if h == nil {
		return nil
	}
	if _, known := i.known[h.ID()]; !known {
		if h.Status == domain.StatusUnexpected {
			external := true
			for _, pe := range event.Peers {
				if pe.ParentHost().IgnoresName(event.Name) {
					continue // this name is explicitly ok
				}
				if pe.Node().ExternalActivity < domain.ActivityOpen {
					// the peer should not ask or reply with unknown names
					h.SetSeen(nil)
					external = false
					break
				}
			}
			if external {
				h.Status = domain.StatusExternal
			}
		}
		i.known[h.ID()] = struct{}{}
	}
	i.system.NotifyAddressChange(h)
	return h
}

// PropertyUpdate applies a property value to a known entity. Values
// for model properties absent from the model are dropped.
func (i *Inspector) PropertyUpdate(event *domain.PropertyEvent) domain.ModelEntity {
	s := event.Entity
	st := s.Base().Status
	if st == domain.StatusPlaceholder || st == domain.StatusUnexpected {
		return s // no properties for these
	}
	if event.Key.IsModelKey() {
		if _, ok := s.Base().Properties[event.Key]; !ok {
			i.logger.Debug("model property not in model, ignored", "key", string(event.Key))
			return nil
		}
	}
	s.Base().UpdateProperty(event.Key, event.Value)
	i.system.NotifyPropertyChange(s, event.Key, event.Value)
	return s
}

// PropertyAddressUpdate applies a property value to the entity at an
// address, marking it seen.
func (i *Inspector) PropertyAddressUpdate(event *domain.PropertyAddressEvent) domain.ModelEntity {
	s := i.getSeenEntity(event.Address)
	st := s.Base().Status
	if st == domain.StatusPlaceholder || st == domain.StatusUnexpected {
		return s
	}
	if event.Key.IsModelKey() {
		if _, ok := s.Base().Properties[event.Key]; !ok {
			i.logger.Debug("model property not in model, ignored", "key", string(event.Key))
			return s
		}
	}
	s.Base().UpdateProperty(event.Key, event.Value)
	i.system.NotifyPropertyChange(s, event.Key, event.Value)
	return s
}

// ServiceScan applies a single scan result: the endpoint address
// offers a service.
func (i *Inspector) ServiceScan(scan *domain.ServiceScan) *domain.Service {
	ent := i.getSeenEntity(scan.Endpoint)
	s, ok := ent.(*domain.Service)
	if !ok {
		panic(fmt.Sprintf("endpoint %s did not resolve to a service", scan.Endpoint))
	}
	if !i.checkEntity(s.Parent) {
		// known host, but maybe a new service
		i.checkEntity(s)
	}
	return s
}

// HostScan applies a closed-world scan of one host: declared server
// TCP services absent from the scan results fail.
func (i *Inspector) HostScan(scan *domain.HostScan) *domain.Host {
	host, ok := i.system.GetEndpoint(scan.Host).(*domain.Host)
	if !ok {
		panic(fmt.Sprintf("address %s is not for a host", scan.Host))
	}
	for _, c := range host.Services {
		if c.ClientSide || !c.IsTCP() {
			continue // only server TCP services are scannable
		}
		if !c.IsRelevant() {
			continue
		}
		found := false
		for _, a := range c.Addresses {
			if scan.HasEndpoint(a) {
				found = true
				break
			}
			if a.IsWildcard() && scan.HasEndpoint(a.ChangeHost(scan.Host)) {
				found = true
				break
			}
		}
		if !found {
			c.SetProperty(domain.KeyExpected, domain.VerdictValue{Verdict: domain.VerdictFail})
		}
	}
	i.known[host.ID()] = struct{}{}
	i.system.NotifyHostChange(host)
	return host
}

// getSeenEntity resolves an address and marks the entity seen.
func (i *Inspector) getSeenEntity(address domain.Address) domain.Addressable {
	ent := i.system.GetEndpoint(address)
	change := ent.SetSeen(nil)
	if change && ent.Base().Status == domain.StatusExpected {
		v := ent.Base().Properties[domain.KeyExpected]
		i.system.NotifyPropertyChange(ent, domain.KeyExpected, v)
	}
	return ent
}
