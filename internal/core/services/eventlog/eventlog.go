// Package eventlog intercepts evidence events on their way to the
// inspector and keeps a log of them and the property changes they
// caused. The log backs reporting and evidence-source attribution.
package eventlog

import (
	"log/slog"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/services/inspector"
)

// LoggedEvent is one stored log entry: the event, the entity it
// resolved to and an optional property change it caused.
type LoggedEvent struct {
	Event  domain.Event
	Entity domain.ModelEntity
	// Key and Value are set when the entry records a property change.
	Key     domain.PropertyKey
	Value   domain.PropertyValue
	Verdict domain.Verdict
}

// HasProperty tells if the entry records a property change.
func (e *LoggedEvent) HasProperty() bool { return e.Key != "" }

// Properties are the implicit and explicit property keys of the entry.
func (e *LoggedEvent) Properties() []domain.PropertyKey {
	var keys []domain.PropertyKey
	if e.Key != "" {
		keys = append(keys, e.Key)
	}
	switch ev := e.Event.(type) {
	case *domain.PropertyEvent:
		if ev.Key != e.Key {
			keys = append(keys, ev.Key)
		}
	case *domain.PropertyAddressEvent:
		if ev.Key != e.Key {
			keys = append(keys, ev.Key)
		}
	}
	return keys
}

func (e *LoggedEvent) pickStatusVerdict(entity domain.ModelEntity) {
	if entity == nil {
		return
	}
	e.Entity = entity
	e.Verdict = entity.Base().ExpectedOrIncon()
}

// EventLogger wraps the inspector, logging every applied event and
// the property changes it triggers.
type EventLogger struct {
	inspector *inspector.Inspector
	logger    *slog.Logger

	logs []*LoggedEvent
	// current is the event being applied, property changes during it
	// are attributed to it.
	current *LoggedEvent
}

// New creates an event logger over the inspector and subscribes to
// the model property changes.
func New(insp *inspector.Inspector, logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &EventLogger{inspector: insp, logger: logger.With("component", "events")}
	insp.System().AddModelListener(l)
	return l
}

// System is the logged system model.
func (l *EventLogger) System() *domain.System { return l.inspector.System() }

// Inspector is the wrapped inspector.
func (l *EventLogger) Inspector() *inspector.Inspector { return l.inspector }

// Logs is the stored event log, in application order.
func (l *EventLogger) Logs() []*LoggedEvent { return l.logs }

// Reset clears the log and resets the inspector.
func (l *EventLogger) Reset() {
	l.logs = nil
	l.current = nil
	l.inspector.Reset()
}

func (l *EventLogger) add(event domain.Event) *LoggedEvent {
	e := &LoggedEvent{Event: event, Verdict: domain.VerdictIncon}
	l.logs = append(l.logs, e)
	l.current = e
	return e
}

// PropertyChange attributes a model property change to the current
// event.
func (l *EventLogger) PropertyChange(entity domain.ModelEntity, key domain.PropertyKey, value domain.PropertyValue) {
	if l.current == nil {
		l.logger.Warn("property change without event to assign it", "key", string(key))
		return
	}
	e := &LoggedEvent{Event: l.current.Event, Entity: entity, Key: key, Value: value, Verdict: domain.VerdictIncon}
	l.logs = append(l.logs, e)
}

func (l *EventLogger) ConnectionChange(*domain.Connection) {}
func (l *EventLogger) HostChange(*domain.Host)             {}
func (l *EventLogger) AddressChange(*domain.Host)          {}
func (l *EventLogger) ServiceChange(*domain.Service)       {}

// Connection logs and applies a flow.
func (l *EventLogger) Connection(flow domain.Flow) *domain.Connection {
	lo := l.add(flow)
	c := l.inspector.Connection(flow)
	if c == nil {
		return nil
	}
	lo.pickStatusVerdict(c)
	l.current = nil
	return c
}

// Name logs and applies a name event.
func (l *EventLogger) Name(event *domain.NameEvent) *domain.Host {
	lo := l.add(event)
	h := l.inspector.Name(event)
	if h == nil {
		return nil // redundant event, no actions
	}
	lo.pickStatusVerdict(h)
	l.current = nil
	return h
}

// PropertyUpdate logs and applies a property event.
func (l *EventLogger) PropertyUpdate(event *domain.PropertyEvent) domain.ModelEntity {
	lo := l.add(event)
	e := l.inspector.PropertyUpdate(event)
	lo.Entity = e
	l.current = nil
	return e
}

// PropertyAddressUpdate logs and applies an addressed property event.
func (l *EventLogger) PropertyAddressUpdate(event *domain.PropertyAddressEvent) domain.ModelEntity {
	lo := l.add(event)
	e := l.inspector.PropertyAddressUpdate(event)
	lo.Entity = e
	l.current = nil
	return e
}

// ServiceScan logs and applies a service scan result.
func (l *EventLogger) ServiceScan(scan *domain.ServiceScan) *domain.Service {
	lo := l.add(scan)
	s := l.inspector.ServiceScan(scan)
	lo.pickStatusVerdict(s)
	l.current = nil
	return s
}

// Consume dispatches an event of any kind to its handler.
func (l *EventLogger) Consume(event domain.Event) {
	switch e := event.(type) {
	case domain.Flow:
		l.Connection(e)
	case *domain.NameEvent:
		l.Name(e)
	case *domain.PropertyEvent:
		l.PropertyUpdate(e)
	case *domain.PropertyAddressEvent:
		l.PropertyAddressUpdate(e)
	case *domain.ServiceScan:
		l.ServiceScan(e)
	case *domain.HostScan:
		l.HostScan(e)
	}
}

// HostScan logs and applies a host scan result.
func (l *EventLogger) HostScan(scan *domain.HostScan) *domain.Host {
	lo := l.add(scan)
	h := l.inspector.HostScan(scan)
	lo.pickStatusVerdict(h)
	l.current = nil
	return h
}

// ConnectionFlow is one logged flow of a connection with its resolved
// source and target addresses.
type ConnectionFlow struct {
	Source domain.Address
	Target domain.Address
	Flow   domain.Flow
}

// CollectFlows groups the logged flows per connection. Relevant
// connections without flows get empty entries.
func (l *EventLogger) CollectFlows() map[*domain.Connection][]ConnectionFlow {
	r := make(map[*domain.Connection][]ConnectionFlow)
	for _, c := range l.System().RelevantConnections() {
		r[c] = nil // expected connections without flows
	}
	for _, lo := range l.logs {
		flow, ok := lo.Event.(domain.Flow)
		if !ok || lo.HasProperty() {
			continue // only pure flows, not property updates
		}
		c, ok := lo.Entity.(*domain.Connection)
		if !ok {
			continue
		}
		r[c] = append(r[c], ConnectionFlow{
			Source: flow.SourceAddress(),
			Target: flow.TargetAddress(),
			Flow:   flow,
		})
	}
	return r
}

// EntityLog is the log filtered to one entity, or everything with a
// nil entity.
func (l *EventLogger) EntityLog(entity domain.ModelEntity) []*LoggedEvent {
	if entity == nil {
		return l.logs
	}
	ids := map[int]struct{}{entity.ID(): {}}
	if h, ok := entity.(*domain.Host); ok {
		for _, s := range h.Services {
			ids[s.ID()] = struct{}{}
		}
	}
	var r []*LoggedEvent
	for _, lo := range l.logs {
		if lo.Entity == nil {
			continue
		}
		if _, ok := ids[lo.Entity.ID()]; ok {
			r = append(r, lo)
		}
	}
	return r
}

// PropertySources resolves the evidence source which set each of the
// given properties on the entity. Later events win.
func (l *EventLogger) PropertySources(entity domain.ModelEntity, keys map[domain.PropertyKey]struct{}) map[domain.PropertyKey]*domain.EvidenceSource {
	r := make(map[domain.PropertyKey]*domain.EvidenceSource)
	for _, lo := range l.logs {
		if lo.Entity == nil || entity == nil || lo.Entity.ID() != entity.ID() {
			continue
		}
		for _, p := range lo.Properties() {
			if _, ok := keys[p]; ok {
				r[p] = lo.Event.Evidence().Source
			}
		}
	}
	return r
}
