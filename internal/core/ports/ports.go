package ports

import (
	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

// EventSink consumes evidence events and applies them to the model.
// Implementations must be called from one goroutine at a time; the
// core is a single-writer state machine.
type EventSink interface {
	System() *domain.System
	// Connection resolves a flow to its connection. Nil when the event
	// was only recorded, not applied.
	Connection(flow domain.Flow) *domain.Connection
	// Name applies a name-to-address binding.
	Name(event *domain.NameEvent) *domain.Host
	// PropertyUpdate applies a property value to a known entity.
	PropertyUpdate(event *domain.PropertyEvent) domain.ModelEntity
	// PropertyAddressUpdate applies a property value to the entity at
	// an address.
	PropertyAddressUpdate(event *domain.PropertyAddressEvent) domain.ModelEntity
	// ServiceScan applies a single service presence result.
	ServiceScan(scan *domain.ServiceScan) *domain.Service
	// HostScan applies a closed-world scan of one host.
	HostScan(scan *domain.HostScan) *domain.Host
}

// EventRecord is the storable form of an evidence event.
type EventRecord struct {
	Kind       string
	SourceName string
	BaseRef    string
	Label      string
	TailRef    string
	// Data is the JSON payload of the event.
	Data string
}

// EventStore persists the evidence event trail.
type EventStore interface {
	AppendEvent(record EventRecord) error
	// LoadEvents returns the stored trail in append order.
	LoadEvents() ([]EventRecord, error)
	Close() error
}

// VendorLookup resolves a hardware address prefix to a vendor name.
type VendorLookup interface {
	Vendor(address domain.HWAddress) (string, bool)
}
