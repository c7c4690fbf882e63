// Package registry records, stores and recalls evidence events. It is
// the serialized entry point of the core: events flow through it into
// the event logger and the inspector, and the recorded trail can be
// replayed with a changed evidence filter.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/services/eventlog"
	"github.com/lcalzada-xor/flowmap/internal/telemetry"
)

// replayChunk is the number of events replayed between cancellation
// checks.
const replayChunk = 100

// Journal persists recorded events as they arrive.
type Journal interface {
	Record(event domain.Event) error
}

// Registry records every incoming event to the trail and applies it
// through the event logger. All entry points serialize on one mutex;
// the core below is a single-writer state machine.
type Registry struct {
	mu      sync.Mutex
	logger  *slog.Logger
	logging *eventlog.EventLogger
	journal Journal

	// passThrough applies events as they arrive. When false, events
	// are only recorded for a later replay.
	passThrough bool
	allSources  map[*domain.EvidenceSource]struct{}
	trail       []domain.Event
	// filter enables sources by label, absent means disabled.
	filter map[string]bool
	cursor int
}

// New creates a registry over the event logger.
func New(logging *eventlog.EventLogger, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:      logger.With("component", "registry"),
		logging:     logging,
		passThrough: true,
		allSources:  make(map[*domain.EvidenceSource]struct{}),
		filter:      make(map[string]bool),
	}
}

// WithJournal sets the journal new events are persisted to.
func (r *Registry) WithJournal(journal Journal) *Registry {
	r.journal = journal
	return r
}

// System is the system model behind the registry.
func (r *Registry) System() *domain.System { return r.logging.System() }

// Logging is the event logger behind the registry.
func (r *Registry) Logging() *eventlog.EventLogger { return r.logging }

// Sources are the evidence sources seen so far.
func (r *Registry) Sources() []*domain.EvidenceSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	sources := make([]*domain.EvidenceSource, 0, len(r.allSources))
	for s := range r.allSources {
		sources = append(sources, s)
	}
	return sources
}

// SourceFilter is a copy of the current filter by source label.
func (r *Registry) SourceFilter() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := make(map[string]bool, len(r.filter))
	for k, v := range r.filter {
		f[k] = v
	}
	return f
}

// newEvent records an event to the trail, the journal and the filter.
func (r *Registry) newEvent(event domain.Event) {
	if r.passThrough && r.cursor == len(r.trail) {
		r.cursor++
	}
	r.trail = append(r.trail, event)
	source := event.Evidence().Source
	r.allSources[source] = struct{}{}
	if _, ok := r.filter[source.Label]; !ok {
		r.filter[source.Label] = true
	}
	if r.journal != nil {
		if err := r.journal.Record(event); err != nil {
			r.logger.Error("journal record failed", "error", err)
		}
	}
}

// doTask processes the next trail event, filtered or not. False when
// the trail is exhausted. Callers hold the mutex.
func (r *Registry) doTask() bool {
	if r.cursor >= len(r.trail) {
		return false
	}
	e := r.trail[r.cursor]
	source := e.Evidence().Source
	if r.filter[source.Label] {
		r.logger.Debug("process event", "index", r.cursor, "event", e.Info())
		r.logging.Consume(e)
	} else {
		r.logger.Debug("filtered event", "index", r.cursor, "event", e.Info())
	}
	r.cursor++
	return true
}

// DoTask processes the next pending trail event, if any.
func (r *Registry) DoTask() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doTask()
}

// DoAllTasks replays the pending trail, checking for cancellation
// between chunks.
func (r *Registry) DoAllTasks(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doAllTasks(ctx)
}

func (r *Registry) doAllTasks(ctx context.Context) error {
	for {
		for n := 0; n < replayChunk; n++ {
			if !r.doTask() {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// resetTrail resets the model and rewinds the trail under the given
// filter. Callers hold the mutex.
func (r *Registry) resetTrail(filter map[string]bool) {
	r.filter = make(map[string]bool, len(filter))
	for k, v := range filter {
		r.filter[k] = v
	}
	r.logging.Reset()
	r.cursor = 0
}

// Reset replays the whole trail under a new source filter. On
// cancellation the previous filter is restored by a full replay, so
// the model never stays half-applied.
func (r *Registry) Reset(ctx context.Context, filter map[string]bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := make(map[string]bool, len(r.filter))
	for k, v := range r.filter {
		old[k] = v
	}
	r.logger.Info("reset with filter", "sources", len(filter))
	r.resetTrail(filter)
	if err := r.doAllTasks(ctx); err != nil {
		r.logger.Warn("reset cancelled, restoring previous filter", "error", err)
		r.resetTrail(old)
		_ = r.doAllTasks(context.Background())
		return err
	}
	return nil
}

// ResetAll replays the whole trail with every seen source enabled.
func (r *Registry) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	filter := make(map[string]bool, len(r.allSources))
	for s := range r.allSources {
		filter[s.Label] = true
	}
	r.resetTrail(filter)
	return r.doAllTasks(ctx)
}

// View runs fn while no events are being applied. Readers of the
// model use it to get a consistent snapshot.
func (r *Registry) View(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// Ingest decodes a batch of events and applies them in order, all
// under the registry lock. Decoding may resolve addresses against the
// model and create placeholder entities, so it must not run while a
// replay or another writer touches the model.
func (r *Registry) Ingest(decode func() ([]domain.Event, error)) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events, err := decode()
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		r.apply(e)
	}
	return events, nil
}

// apply records and applies one event. Callers hold the mutex.
func (r *Registry) apply(event domain.Event) {
	r.newEvent(event)
	if !r.passThrough {
		return
	}
	switch e := event.(type) {
	case domain.Flow:
		if c := r.logging.Connection(e); c != nil {
			telemetry.FlowsMatched.WithLabelValues(string(c.Status)).Inc()
		}
	case *domain.NameEvent:
		r.logging.Name(e)
	case *domain.PropertyEvent:
		r.logging.PropertyUpdate(e)
	case *domain.PropertyAddressEvent:
		r.logging.PropertyAddressUpdate(e)
	case *domain.ServiceScan:
		r.logging.ServiceScan(e)
	case *domain.HostScan:
		r.logging.HostScan(e)
	}
}

// Consume records and applies an event of any kind.
func (r *Registry) Consume(event domain.Event) {
	switch e := event.(type) {
	case domain.Flow:
		r.Connection(e)
	case *domain.NameEvent:
		r.Name(e)
	case *domain.PropertyEvent:
		r.PropertyUpdate(e)
	case *domain.PropertyAddressEvent:
		r.PropertyAddressUpdate(e)
	case *domain.ServiceScan:
		r.ServiceScan(e)
	case *domain.HostScan:
		r.HostScan(e)
	}
}

// Connection records and applies a flow.
func (r *Registry) Connection(flow domain.Flow) *domain.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newEvent(flow)
	if !r.passThrough {
		return nil
	}
	c := r.logging.Connection(flow)
	if c != nil {
		telemetry.FlowsMatched.WithLabelValues(string(c.Status)).Inc()
	}
	return c
}

// Name records and applies a name event.
func (r *Registry) Name(event *domain.NameEvent) *domain.Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newEvent(event)
	if !r.passThrough {
		return nil
	}
	return r.logging.Name(event)
}

// PropertyUpdate records and applies a property event.
func (r *Registry) PropertyUpdate(event *domain.PropertyEvent) domain.ModelEntity {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newEvent(event)
	if !r.passThrough {
		return nil
	}
	return r.logging.PropertyUpdate(event)
}

// PropertyAddressUpdate records and applies an addressed property event.
func (r *Registry) PropertyAddressUpdate(event *domain.PropertyAddressEvent) domain.ModelEntity {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newEvent(event)
	if !r.passThrough {
		return nil
	}
	return r.logging.PropertyAddressUpdate(event)
}

// ServiceScan records and applies a service scan result.
func (r *Registry) ServiceScan(scan *domain.ServiceScan) *domain.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newEvent(scan)
	if !r.passThrough {
		return nil
	}
	return r.logging.ServiceScan(scan)
}

// HostScan records and applies a host scan result.
func (r *Registry) HostScan(scan *domain.HostScan) *domain.Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newEvent(scan)
	if !r.passThrough {
		return nil
	}
	return r.logging.HostScan(scan)
}
