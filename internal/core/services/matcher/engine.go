package matcher

import (
	"fmt"
	"sort"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

// Engine matches flows from one evidence source. It indexes every
// addressable entity by every address it can currently be reached at
// and caches every flow already resolved.
type Engine struct {
	matcher *SystemMatcher
	source  *domain.EvidenceSource

	endpoints map[domain.Address][]*matchEndpoint
	observed  map[domain.FlowKey]*connectionMatch
	// observedOrder keeps the resolution order of cached flows, so
	// re-keying on a service split is deterministic.
	observedOrder []domain.FlowKey
}

func newEngine(m *SystemMatcher, source *domain.EvidenceSource) *Engine {
	e := &Engine{
		matcher:   m,
		source:    source,
		endpoints: make(map[domain.Address][]*matchEndpoint),
		observed:  make(map[domain.FlowKey]*connectionMatch),
	}
	for _, h := range m.system.Hosts {
		e.addHost(h)
	}
	if source != nil {
		e.loadSource(source)
	}
	return e
}

// loadSource applies source-specific address mappings and activity
// overrides to the index.
func (e *Engine) loadSource(source *domain.EvidenceSource) {
	ads := make([]domain.Address, 0, len(source.AddressMap))
	for a := range source.AddressMap {
		ads = append(ads, a)
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].Parseable() < ads[j].Parseable() })
	for _, ad := range ads {
		entity := source.AddressMap[ad]
		found := false
		for _, me := range e.endpoints[ad] {
			if me.entity == entity {
				me.addAddress(ad) // entity has a new address
				found = true
				break
			}
		}
		if !found {
			e.endpoints[ad] = append(e.endpoints[ad], e.addHost(entity).addAddress(ad))
		}
	}
	for _, list := range e.endpoints {
		for _, me := range list {
			if act, ok := source.ActivityMap[me.entity]; ok {
				me.externalActivity = act
			}
		}
	}
}

// updateAddresses re-indexes a host after its address set changed.
func (e *Engine) updateAddresses(host *domain.Host, old []domain.Address) {
	for _, ad := range old {
		key := ad.Host()
		ends := e.endpoints[key]
		kept := ends[:0]
		for _, me := range ends {
			if me.entity != domain.Addressable(host) {
				kept = append(kept, me)
			}
		}
		e.endpoints[key] = kept
	}
	e.addHost(host)
}

// addHost indexes an entity: under each host-level address it owns, or
// under the wildcard when it has none.
func (e *Engine) addHost(entity domain.Addressable) *matchEndpoint {
	node := entity.Node()
	var ads []domain.Address
	if !node.AnyHost {
		seen := make(map[domain.Address]struct{})
		for _, a := range entity.AllAddresses() {
			h := a.Host()
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			ads = append(ads, h)
		}
	}
	if len(ads) > 0 {
		// addressed host: match services first, fall back to the host
		me := newMatchEndpoint(entity, true, true)
		for _, ad := range ads {
			e.endpoints[ad] = append(e.endpoints[ad], me)
		}
		return me
	}
	// no addresses but services -> match any host with service ports
	// no addresses and no services -> match any flow
	noChildren := true
	if h, ok := entity.(*domain.Host); ok {
		noChildren = len(h.Services) == 0
	}
	me := newMatchEndpoint(entity, noChildren, false)
	e.endpoints[domain.AnyHost] = append(e.endpoints[domain.AnyHost], me)
	return me
}

// getConnection resolves a flow to a connection match, using the
// observed-flow cache when the flow or its reverse was already seen.
func (e *Engine) getConnection(flow domain.Flow) *connectionMatch {
	system := e.matcher.system
	m := e.getObserved(flow)
	if m != nil {
		if m.reply {
			system.Connections[domain.ConnectionRef{Source: m.target.address, Target: m.source.address}] = m.connection
		}
		if _, targetIsHost := m.connection.Target.(*domain.Host); m.reply && targetIsHost {
			// a reply from a host with no declared service there:
			// materialize the unknown service
			e.createUnknownService(m)
		}
	} else {
		m = e.addConnection(flow)
		if m.connection.Status == domain.StatusPlaceholder {
			// an unexpected connection observed again after a reset
			e.setConnectionStatus(m.connection, m.source, m.target)
		}
		e.remember(flow.Key(), m)
	}
	e.learnDynamicAddress(m, flow)
	system.Connections[domain.ConnectionRef{Source: m.source.address, Target: m.target.address}] = m.connection
	return m
}

// learnDynamicAddress binds the address offered by a DHCP reply to the
// requesting host. The 67 to 68 reply carries the client's dynamic IP
// as the flow target.
func (e *Engine) learnDynamicAddress(m *connectionMatch, flow domain.Flow) {
	if !m.reply {
		return
	}
	svc, ok := m.connection.Target.(*domain.Service)
	if !ok || svc.Protocol != domain.ProtocolDHCP {
		return
	}
	f, ok := flow.(*domain.IPFlow)
	if !ok || f.Source.Port != 67 || f.Target.Port != 68 {
		return
	}
	client := m.connection.Source.ParentHost()
	e.matcher.system.LearnIPAddress(client, f.Target.IP)
}

// getObserved probes the cache by the flow and by its reverse, so a
// request and its reply resolve to the same connection.
func (e *Engine) getObserved(flow domain.Flow) *connectionMatch {
	if c, ok := e.observed[flow.Key()]; ok {
		return c
	}
	c, ok := e.observed[flow.ReverseFlow().Key()]
	if !ok {
		return nil
	}
	if c.connection.Status == domain.StatusExternal {
		// connection from source to target was ok, but the target is
		// now replying
		te := c.target.endpoint
		if te.entity.Base().Status != domain.StatusExternal && te.externalActivity < domain.ActivityOpen {
			// the target should not reply
			c.connection.SetProperty(domain.KeyExpected, domain.VerdictValue{Verdict: domain.VerdictFail})
		}
	}
	rc := &connectionMatch{connection: c.connection, source: c.source, target: c.target, reply: true}
	e.remember(flow.Key(), rc)
	return rc
}

func (e *Engine) remember(key domain.FlowKey, m *connectionMatch) {
	if _, ok := e.observed[key]; !ok {
		e.observedOrder = append(e.observedOrder, key)
	}
	e.observed[key] = m
}

// createUnknownService materializes a service observed replying from
// an address with no declared one, re-points the connection to it and
// splits already-observed flows to other ports of the same host onto
// a new connection.
func (e *Engine) createUnknownService(m *connectionMatch) {
	system := e.matcher.system
	conn := m.connection
	targetHost, ok := conn.Target.(*domain.Host)
	if !ok {
		panic(fmt.Sprintf("unknown-service target is not a host: %s", conn.LongName()))
	}
	serviceAddr := m.target.address
	for _, c := range targetHost.Connections {
		if c == conn {
			panic("connection already added to target host")
		}
	}
	service := targetHost.CreateService(serviceAddr)
	if targetHost.ExternalActivity >= domain.ActivityUnlimited && conn.Status == domain.StatusExternal {
		// the host is free to provide unlisted services
		service.Status = domain.StatusExternal
	}
	targetHost.Connections = append(targetHost.Connections, conn)
	for _, me := range e.endpoints[serviceAddr.Host()] {
		if me.entity == domain.Addressable(targetHost) {
			me.addService(service, true)
		}
	}
	conn.Target = service
	// split flows from the same source to the same host but a
	// different port onto one new connection
	var newConn *domain.Connection
	updates := make(map[domain.FlowKey]*connectionMatch)
	for _, key := range e.observedOrder {
		om := e.observed[key]
		if om.connection != conn || om.target.address == serviceAddr {
			continue
		}
		if newConn == nil {
			newConn = system.NewConnection(conn.Source, om.source.address, targetHost, om.target.address)
			e.setConnectionStatus(newConn, om.source, om.target)
		} else {
			system.Connections[domain.ConnectionRef{Source: om.source.address, Target: om.target.address}] = newConn
		}
		updates[key] = &connectionMatch{connection: newConn, source: om.source, target: om.target, reply: om.reply}
	}
	for key, nm := range updates {
		e.observed[key] = nm
	}
}

// addConnection resolves an uncached flow: an existing connection, a
// reverse-direction one, an unexpected-but-materialized one, or a new
// connection with ends materialized as required.
func (e *Engine) addConnection(flow domain.Flow) *connectionMatch {
	// find expected connections, collecting endpoints in priority
	// order while at it
	finder := newConnectionFinder(false)
	if m := e.findConnection(finder, flow); m != nil {
		return m
	}

	// pick the best target for an unexpected connection
	tar := finder.endForNewConnection(true, nil)
	if tar != nil {
		if _, isHost := tar.endpoint.entity.(*domain.Host); isHost {
			// check a reverse-direction connection, perhaps we missed
			// the earlier request or an unexpected DHCP reply
			if m := tar.endpoint.matchConnection(*tar, finder.sources, false); m != nil {
				m.reply = true
				return m
			}
		}
	}

	// pick the best source for the unexpected connection
	src := finder.endForNewConnection(false, tar)

	if src != nil && tar != nil {
		// is there already an existing, but unexpected, connection?
		f2 := newConnectionFinder(true)
		f2.addSource(*src)
		if m := f2.addTarget(*tar); m != nil {
			return m
		}
	}

	// create new source, target and connection as required
	if src == nil {
		am := e.newEndpoint(flow, false)
		src = &am
	}
	if tar == nil {
		am := e.newEndpoint(flow, true)
		tar = &am
	}
	return e.newConnection(*src, *tar)
}

// findConnection tries the four match passes in priority order,
// stopping at the first existing connection. Both flow directions are
// evaluated within each pass.
func (e *Engine) findConnection(finder *connectionFinder, flow domain.Flow) *connectionMatch {
	directions := []bool{false, true}
	matchAds := [2][]domain.Address{
		e.matchAddresses(flow, false),
		e.matchAddresses(flow, true),
	}

	// 1. exact host address + declared service
	for i, target := range directions {
		for _, ad := range matchAds[i] {
			for _, end := range e.endpoints[ad] {
				if m := finder.addMatches(end.matchService(ad, flow, target), target); m != nil {
					return m
				}
			}
		}
	}

	// 2. exact host address + catch-all endpoint
	for i, target := range directions {
		for _, ad := range matchAds[i] {
			for _, end := range e.endpoints[ad] {
				if !end.matchNoService {
					continue
				}
				am := addressMatch{
					address:  domain.NewEndpointAddress(ad, flow.FlowProtocol(), flow.FlowPort(target)),
					endpoint: end,
				}
				if m := finder.addMatches([]addressMatch{am}, target); m != nil {
					return m
				}
			}
		}
	}

	wildEnds := e.endpoints[domain.AnyHost]

	// 3. wildcard host + declared service
	for i, target := range directions {
		for _, end := range wildEnds {
			for _, ad := range matchAds[i] {
				if m := finder.addMatches(end.matchService(ad, flow, target), target); m != nil {
					return m
				}
			}
		}
	}

	// 4. wildcard host + catch-all endpoint
	for i, target := range directions {
		for _, end := range wildEnds {
			if !end.matchNoService {
				continue
			}
			for _, ad := range matchAds[i] {
				am := addressMatch{
					address:  domain.NewEndpointAddress(ad, flow.FlowProtocol(), flow.FlowPort(target)),
					endpoint: end,
				}
				if m := finder.addMatches([]addressMatch{am}, target); m != nil {
					return m
				}
			}
		}
	}
	return nil
}

// matchAddresses resolves the addresses one flow end can match at. An
// external IP matches by IP only, the hardware address belongs to the
// gateway.
func (e *Engine) matchAddresses(flow domain.Flow, target bool) []domain.Address {
	if f, ok := flow.(*domain.IPFlow); ok {
		end := f.Source
		if target {
			end = f.Target
		}
		if e.matcher.system.IsExternal(end.IP) {
			return []domain.Address{end.IP}
		}
		return []domain.Address{end.HW, end.IP}
	}
	return flow.AddressStack(target)
}

// newEndpoint materializes a flow end, preferring a global, non-null,
// non-multicast address from the flow's address stack.
func (e *Engine) newEndpoint(flow domain.Flow, target bool) addressMatch {
	system := e.matcher.system
	stack := flow.AddressStack(target)
	useAd := stack[0]
	for _, ad := range stack[1:] {
		if ip, ok := ad.(domain.IPAddress); ok && (system.IsExternal(ip) || ip.IsMulticast()) {
			useAd = ad // must use the IP address
			break
		}
		if useAd.IsNull() && !ad.IsNull() {
			useAd = ad // prefer a non-null address
		}
	}
	host := system.GetEndpoint(useAd)
	ad := domain.NewEndpointAddress(useAd, flow.FlowProtocol(), flow.FlowPort(target))
	return addressMatch{address: ad, endpoint: e.addHost(host)}
}

// newConnection creates and classifies a new connection.
func (e *Engine) newConnection(source, target addressMatch) *connectionMatch {
	c := e.matcher.system.NewConnection(
		source.endpoint.entity, source.address,
		target.endpoint.entity, target.address,
	)
	e.setConnectionStatus(c, source, target)
	return &connectionMatch{connection: c, source: source, target: target}
}

// setConnectionStatus classifies a new connection: unexpected by
// default, external when both ends' activity policies allow it.
// External status propagates to still-undetermined ancestors.
func (e *Engine) setConnectionStatus(c *domain.Connection, source, target addressMatch) {
	c.Status = domain.StatusUnexpected

	var setExternal func(ent domain.Addressable)
	setExternal = func(ent domain.Addressable) {
		b := ent.Base()
		if b.Status == domain.StatusUnexpected && ent.Base().ExpectedOrIncon() == domain.VerdictIncon {
			// the entity is fresh and unexpected, make it external
			b.Status = domain.StatusExternal
			if s, ok := ent.(*domain.Service); ok {
				setExternal(s.Parent)
			}
		}
	}

	sourceAct := source.endpoint.externalActivity
	targetAct := target.endpoint.externalActivity
	if sourceAct > domain.ActivityBanned && targetAct > domain.ActivityBanned {
		// unexpected connections may be allowed
		reply := c.Source == target.endpoint.entity
		if sourceAct >= domain.ActivityUnlimited {
			// the source is free to make connections
			c.Status = domain.StatusExternal
			setExternal(c.Source)
		} else if reply && sourceAct >= domain.ActivityOpen {
			// the source can make replies
			c.Status = domain.StatusExternal
			setExternal(c.Source)
		}
		if c.Status == domain.StatusExternal && targetAct >= domain.ActivityPassive {
			// the target is free to receive connections
			setExternal(c.Target)
		}
	}
}
