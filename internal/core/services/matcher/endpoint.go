package matcher

import (
	"fmt"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

// maxMatchPriority is the sentinel priority of declared services,
// above any host priority.
const maxMatchPriority = 1001

// addressMatch is a candidate match of a resolved endpoint address to
// a match endpoint.
type addressMatch struct {
	address  domain.EndpointAddress
	endpoint *matchEndpoint
}

// connectionMatch is a resolved connection with the flow-source and
// flow-target candidate matches.
type connectionMatch struct {
	connection *domain.Connection
	source     addressMatch
	target     addressMatch
	reply      bool
}

// matchEndpoint wraps a host or service of the model for resolution,
// carrying its priority and policy.
type matchEndpoint struct {
	entity    domain.Addressable
	addresses map[domain.Address]struct{}
	// matchNoService matches flows without any service port.
	matchNoService   bool
	matchPriority    int
	services         map[domain.EndpointAddress][]*matchEndpoint
	externalActivity domain.ExternalActivity
}

func newMatchEndpoint(entity domain.Addressable, matchNoService, priorityServices bool) *matchEndpoint {
	node := entity.Node()
	me := &matchEndpoint{
		entity:           entity,
		addresses:        make(map[domain.Address]struct{}, len(node.Addresses)),
		matchNoService:   matchNoService,
		matchPriority:    node.MatchPriority,
		services:         make(map[domain.EndpointAddress][]*matchEndpoint),
		externalActivity: node.ExternalActivity,
	}
	for _, a := range node.Addresses {
		me.addresses[a] = struct{}{}
	}
	if h, ok := entity.(*domain.Host); ok {
		for _, s := range h.Services {
			me.addService(s, priorityServices)
		}
	}
	return me
}

// addAddress adds a source-mapped address to the endpoint.
func (me *matchEndpoint) addAddress(address domain.Address) *matchEndpoint {
	me.addresses[address] = struct{}{}
	return me
}

// addService indexes a service of the wrapped host. Declared services
// get the max-priority sentinel so an exact service always outranks a
// host-level catch-all.
func (me *matchEndpoint) addService(service *domain.Service, priority bool) {
	for _, a := range service.Addresses {
		ep, ok := a.(domain.EndpointAddress)
		if !ok {
			panic(fmt.Sprintf("non-endpoint service address %s", a))
		}
		sme := newMatchEndpoint(service, false, false)
		if priority {
			sme.matchPriority = maxMatchPriority
		}
		me.services[ep] = append(me.services[ep], sme)
	}
}

// isSameHost tells if the other endpoint belongs to the same host.
func (me *matchEndpoint) isSameHost(other *matchEndpoint) bool {
	return other != nil && other.entity.ParentHost() == me.entity.ParentHost()
}

// newConnections tells if the endpoint can be an end of a new
// connection. An any-host node matches only existing connections.
func (me *matchEndpoint) newConnections() bool {
	return len(me.addresses) > 0
}

// matchService matches the flow against the indexed services of this
// endpoint, by the exact address or the wildcard-host form.
func (me *matchEndpoint) matchService(address domain.Address, flow domain.Flow, target bool) []addressMatch {
	port := flow.FlowPort(target)
	ad := domain.NewEndpointAddress(address, flow.FlowProtocol(), port)
	var matches []addressMatch
	for _, sme := range me.services[ad] {
		matches = append(matches, addressMatch{address: ad, endpoint: sme})
	}
	wad := domain.AnyHostEndpoint(flow.FlowProtocol(), port)
	for _, sme := range me.services[wad] {
		matches = append(matches, addressMatch{address: ad, endpoint: sme})
	}
	return matches
}

// matchConnection matches an existing connection with this endpoint on
// one end and any of the given candidates on the other. Unless
// unexpected connections are asked for, only expected ones match, with
// the exception of services whose replies legitimately come from a
// different address or port.
func (me *matchEndpoint) matchConnection(source addressMatch, ends []addressMatch, unexpected bool) *connectionMatch {
	host := me.entity.ParentHost()
	for _, c := range host.Connections {
		if !c.IsEnd(me.entity) {
			continue
		}
		if !unexpected && !c.IsExpected() {
			t, ok := c.Target.(*domain.Service)
			if !ok || !t.ReplyFromOtherAddress {
				continue // except the unexpected DHCP reply
			}
		}
		for _, end := range ends {
			if me.isSameHost(end.endpoint) || !c.IsEnd(end.endpoint.entity) {
				continue
			}
			reply := domain.Addressable(me.entity) == c.Target
			return &connectionMatch{connection: c, source: source, target: end, reply: reply}
		}
	}
	return nil
}

// connectionFinder accumulates candidate flow ends in priority order
// and asks each source-target pair for an existing connection.
type connectionFinder struct {
	// unexpected also matches unexpected connections.
	unexpected bool
	sources    []addressMatch
	targets    []addressMatch
	sourceSet  map[domain.Addressable]struct{}
	targetSet  map[domain.Addressable]struct{}
}

func newConnectionFinder(unexpected bool) *connectionFinder {
	return &connectionFinder{
		unexpected: unexpected,
		sourceSet:  make(map[domain.Addressable]struct{}),
		targetSet:  make(map[domain.Addressable]struct{}),
	}
}

// addSource accumulates a flow-source candidate, returning a
// connection when one exists to an accumulated target.
func (f *connectionFinder) addSource(source addressMatch) *connectionMatch {
	if _, ok := f.sourceSet[source.endpoint.entity]; ok {
		return nil
	}
	if m := source.endpoint.matchConnection(source, f.targets, f.unexpected); m != nil {
		return m
	}
	f.sourceSet[source.endpoint.entity] = struct{}{}
	f.sources = append(f.sources, source)
	return nil
}

// addTarget accumulates a flow-target candidate, returning a
// connection when an accumulated source has one to it.
func (f *connectionFinder) addTarget(target addressMatch) *connectionMatch {
	if _, ok := f.targetSet[target.endpoint.entity]; ok {
		return nil
	}
	for _, s := range f.sources {
		if m := s.endpoint.matchConnection(s, []addressMatch{target}, f.unexpected); m != nil {
			return m
		}
	}
	f.targetSet[target.endpoint.entity] = struct{}{}
	f.targets = append(f.targets, target)
	return nil
}

// addMatches accumulates candidates for one side, in priority order.
func (f *connectionFinder) addMatches(matches []addressMatch, target bool) *connectionMatch {
	for _, am := range matches {
		var m *connectionMatch
		if target {
			m = f.addTarget(am)
		} else {
			m = f.addSource(am)
		}
		if m != nil {
			return m
		}
	}
	return nil
}

// endForNewConnection picks the best accumulated end for a new
// connection: an endpoint with at least one real address, not on the
// other end's host. The max-priority sentinel short-circuits.
func (f *connectionFinder) endForNewConnection(target bool, otherEnd *addressMatch) *addressMatch {
	list := f.sources
	if target {
		list = f.targets
	}
	var end *addressMatch
	for i := range list {
		ms := &list[i]
		if otherEnd != nil && ms.endpoint.isSameHost(otherEnd.endpoint) {
			continue
		}
		if !ms.endpoint.newConnections() {
			continue
		}
		if ms.endpoint.matchPriority >= maxMatchPriority {
			end = ms // cannot find better
			break
		}
		if end != nil && ms.endpoint.entity.Node().MatchPriority > end.endpoint.entity.Node().MatchPriority {
			end = ms
			continue
		}
		if end == nil {
			end = ms // pick the first host
		}
	}
	return end
}
