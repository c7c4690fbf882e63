package domain

import (
	"fmt"
	"time"
)

// EvidenceSource identifies one evidence producer, e.g. a capture file
// or a scanner run. Matching state is kept per source.
type EvidenceSource struct {
	Name    string
	BaseRef string
	// Label groups sources for the replay filter. Defaults to the base
	// reference or the name.
	Label string
	// ModelOverride lets the source override model-declared values.
	ModelOverride bool
	Timestamp     time.Time

	// AddressMap maps observed addresses to modeled entities, applied
	// before matching.
	AddressMap map[Address]Addressable
	// ActivityMap overrides external-activity policies per entity for
	// flows from this source.
	ActivityMap map[Addressable]ExternalActivity
}

// NewEvidenceSource creates an evidence source with the label defaulted
// from the base reference or name.
func NewEvidenceSource(name, baseRef, label string) *EvidenceSource {
	if label == "" {
		label = baseRef
	}
	if label == "" {
		label = name
	}
	return &EvidenceSource{Name: name, BaseRef: baseRef, Label: label}
}

// MapAddress maps an observed address to a modeled entity.
func (s *EvidenceSource) MapAddress(address Address, entity Addressable) *EvidenceSource {
	if s.AddressMap == nil {
		s.AddressMap = make(map[Address]Addressable)
	}
	s.AddressMap[address] = entity
	return s
}

// OverrideActivity overrides the external-activity policy of an entity
// for this source.
func (s *EvidenceSource) OverrideActivity(entity Addressable, activity ExternalActivity) *EvidenceSource {
	if s.ActivityMap == nil {
		s.ActivityMap = make(map[Addressable]ExternalActivity)
	}
	s.ActivityMap[entity] = activity
	return s
}

// Evidence is a piece of evidence from a source.
type Evidence struct {
	Source  *EvidenceSource
	TailRef string
}

// NoEvidence is the placeholder evidence for synthetic events.
var NoEvidence = Evidence{Source: NewEvidenceSource("No evidence", "", "")}

// Ref is the full evidence reference.
func (e Evidence) Ref() string { return e.Source.BaseRef + e.TailRef }

// Event is one piece of evidence fed to the core. The variant set is
// closed: the flows, ServiceScan, HostScan, NameEvent, PropertyEvent
// and PropertyAddressEvent.
type Event interface {
	Evidence() Evidence
	// Info is a short description of the event for logging.
	Info() string

	sealedEvent()
}

// FlowPoint is one comparable end of a flow key.
type FlowPoint struct {
	HW   HWAddress
	IP   IPAddress
	Port int
}

// FlowKey is the comparable identity of a flow, usable as a cache key.
// Evidence and properties are excluded, observations of the same
// exchange share a key.
type FlowKey struct {
	Protocol Protocol
	Source   FlowPoint
	Target   FlowPoint
}

// Flow is one observed exchange between two network points. The
// variant set is closed: EthernetFlow, IPFlow and BLEAdvertisementFlow.
type Flow interface {
	Event
	FlowProtocol() Protocol
	// AddressStack is the source or target address stack, link address
	// first.
	AddressStack(target bool) []Address
	// FlowPort is the source or target port, -1 when none.
	FlowPort(target bool) int
	// ReverseFlow swaps the flow ends.
	ReverseFlow() Flow
	// Key is the cache identity of the flow.
	Key() FlowKey
	SourceAddress() Address
	TargetAddress() Address
	// FlowProperties are optional property overrides for the connection.
	FlowProperties() map[PropertyKey]PropertyValue
	// SetReply records the resolved flow direction for event logging.
	SetReply(reply bool)
	IsReply() bool
}

type flowBase struct {
	evidence   Evidence
	Timestamp  time.Time
	Properties map[PropertyKey]PropertyValue
	reply      bool
}

func (f *flowBase) Evidence() Evidence                            { return f.evidence }
func (f *flowBase) FlowProperties() map[PropertyKey]PropertyValue { return f.Properties }
func (f *flowBase) SetReply(reply bool)                           { f.reply = reply }
func (f *flowBase) IsReply() bool                                 { return f.reply }
func (f *flowBase) sealedEvent()                                  {}

// WithProperty adds a property override carried by the flow.
func (f *flowBase) withProperty(key PropertyKey, value PropertyValue) {
	if f.Properties == nil {
		f.Properties = make(map[PropertyKey]PropertyValue)
	}
	f.Properties[key] = value
}

// EthernetFlow is a link-layer flow identified by an Ethernet payload type.
type EthernetFlow struct {
	flowBase
	Source  HWAddress
	Target  HWAddress
	Payload int
	Proto   Protocol
}

// NewEthernetFlow creates an Ethernet flow.
func NewEthernetFlow(evidence Evidence, source, target HWAddress, payload int, protocol Protocol) *EthernetFlow {
	return &EthernetFlow{
		flowBase: flowBase{evidence: evidence},
		Source:   source, Target: target, Payload: payload, Proto: protocol,
	}
}

func (f *EthernetFlow) FlowProtocol() Protocol { return f.Proto }
func (f *EthernetFlow) FlowPort(_ bool) int    { return f.Payload } // both ways
func (f *EthernetFlow) SourceAddress() Address { return f.Source }
func (f *EthernetFlow) TargetAddress() Address { return f.Target }

func (f *EthernetFlow) AddressStack(target bool) []Address {
	if target {
		return []Address{f.Target}
	}
	return []Address{f.Source}
}

func (f *EthernetFlow) ReverseFlow() Flow {
	r := NewEthernetFlow(f.evidence, f.Target, f.Source, f.Payload, f.Proto)
	r.Timestamp, r.Properties = f.Timestamp, f.Properties
	return r
}

func (f *EthernetFlow) Key() FlowKey {
	return FlowKey{
		Protocol: f.Proto,
		Source:   FlowPoint{HW: f.Source, Port: f.Payload},
		Target:   FlowPoint{HW: f.Target, Port: f.Payload},
	}
}

func (f *EthernetFlow) Info() string {
	return fmt.Sprintf("%s >> %s %s", f.Source, f.Target, f.Proto)
}

// FlowEnd is one end of an IP flow: the link and IP addresses with
// the port.
type FlowEnd struct {
	HW   HWAddress
	IP   IPAddress
	Port int
}

func (e FlowEnd) String() string {
	return fmt.Sprintf("%s %s:%d", e.HW, e.IP, e.Port)
}

// IPFlow is a flow between two IP network points.
type IPFlow struct {
	flowBase
	Source FlowEnd
	Target FlowEnd
	Proto  Protocol
}

// NewIPFlow creates an IP flow.
func NewIPFlow(evidence Evidence, source, target FlowEnd, protocol Protocol) *IPFlow {
	return &IPFlow{flowBase: flowBase{evidence: evidence}, Source: source, Target: target, Proto: protocol}
}

// UDP creates an UDP flow for tests and synthetic events.
func UDP(evidence Evidence, source, target FlowEnd) *IPFlow {
	return NewIPFlow(evidence, source, target, ProtocolUDP)
}

// TCP creates a TCP flow for tests and synthetic events.
func TCP(evidence Evidence, source, target FlowEnd) *IPFlow {
	return NewIPFlow(evidence, source, target, ProtocolTCP)
}

// WithProperty adds a property override carried by the flow.
func (f *IPFlow) WithProperty(key PropertyKey, value PropertyValue) *IPFlow {
	f.withProperty(key, value)
	return f
}

func (f *IPFlow) FlowProtocol() Protocol { return f.Proto }

func (f *IPFlow) FlowPort(target bool) int {
	if target {
		return f.Target.Port
	}
	return f.Source.Port
}

func (f *IPFlow) AddressStack(target bool) []Address {
	end := f.Source
	if target {
		end = f.Target
	}
	return []Address{end.HW, end.IP}
}

func (f *IPFlow) SourceAddress() Address {
	if f.Source.IP.IsNull() {
		return f.Source.HW
	}
	return f.Source.IP
}

func (f *IPFlow) TargetAddress() Address {
	if f.Target.IP.IsNull() {
		return f.Target.HW
	}
	return f.Target.IP
}

func (f *IPFlow) ReverseFlow() Flow {
	r := NewIPFlow(f.evidence, f.Target, f.Source, f.Proto)
	r.Timestamp, r.Properties = f.Timestamp, f.Properties
	return r
}

func (f *IPFlow) Key() FlowKey {
	return FlowKey{
		Protocol: f.Proto,
		Source:   FlowPoint(f.Source),
		Target:   FlowPoint(f.Target),
	}
}

func (f *IPFlow) Info() string {
	return fmt.Sprintf("%s >> %s %s", f.Source, f.Target, f.Proto)
}

// BLEAdvertisementFlow is a Bluetooth Low-Energy advertisement,
// targeting the BLE advertisement pseudo-address.
type BLEAdvertisementFlow struct {
	flowBase
	Source    HWAddress
	EventType int
}

// NewBLEAdvertisementFlow creates a BLE advertisement flow.
func NewBLEAdvertisementFlow(evidence Evidence, source HWAddress, eventType int) *BLEAdvertisementFlow {
	return &BLEAdvertisementFlow{flowBase: flowBase{evidence: evidence}, Source: source, EventType: eventType}
}

func (f *BLEAdvertisementFlow) FlowProtocol() Protocol { return ProtocolBLE }

func (f *BLEAdvertisementFlow) FlowPort(target bool) int {
	if target {
		return f.EventType
	}
	return -1
}

func (f *BLEAdvertisementFlow) AddressStack(target bool) []Address {
	if target {
		return []Address{BLEAd}
	}
	return []Address{f.Source}
}

// ReverseFlow on an advertisement is the advertisement itself, there
// is no reply direction.
func (f *BLEAdvertisementFlow) ReverseFlow() Flow { return f }

func (f *BLEAdvertisementFlow) SourceAddress() Address {
	if f.reply {
		return BLEAd
	}
	return f.Source
}

func (f *BLEAdvertisementFlow) TargetAddress() Address {
	if f.reply {
		return f.Source
	}
	return BLEAd
}

func (f *BLEAdvertisementFlow) Key() FlowKey {
	return FlowKey{
		Protocol: ProtocolBLE,
		Source:   FlowPoint{HW: f.Source},
		Target:   FlowPoint{Port: f.EventType},
	}
}

func (f *BLEAdvertisementFlow) Info() string {
	return fmt.Sprintf("%s >> 0x%02x BLE", f.Source, f.EventType)
}

// ServiceScan is an individual scan result: the address was found to
// offer a service.
type ServiceScan struct {
	evidence    Evidence
	Endpoint    EndpointAddress
	ServiceName string
}

// NewServiceScan creates a service scan result.
func NewServiceScan(evidence Evidence, endpoint EndpointAddress, serviceName string) *ServiceScan {
	return &ServiceScan{evidence: evidence, Endpoint: endpoint, ServiceName: serviceName}
}

func (s *ServiceScan) Evidence() Evidence { return s.evidence }
func (s *ServiceScan) Info() string       { return s.Endpoint.String() }
func (s *ServiceScan) sealedEvent()       {}

// HostScan is a host scan result carrying the complete set of
// endpoints found on the host. The set is closed-world: declared
// endpoints absent from it are missing.
type HostScan struct {
	evidence  Evidence
	Host      Address
	Endpoints []EndpointAddress
}

// NewHostScan creates a host scan result.
func NewHostScan(evidence Evidence, host Address, endpoints []EndpointAddress) *HostScan {
	return &HostScan{evidence: evidence, Host: host, Endpoints: endpoints}
}

func (s *HostScan) Evidence() Evidence { return s.evidence }
func (s *HostScan) Info() string       { return "scan " + s.Host.String() }
func (s *HostScan) sealedEvent()       {}

// HasEndpoint tells if the endpoint is in the scan results.
func (s *HostScan) HasEndpoint(address Address) bool {
	for _, e := range s.Endpoints {
		if Address(e) == address {
			return true
		}
	}
	return false
}

// NameEvent is an observed name binding: a DNS name or explicit tag,
// an optional resolved address, and the communicating peers.
type NameEvent struct {
	evidence Evidence
	// Service is the name service which produced the binding, if known.
	Service *Service
	Name    DNSName
	Address Address
	// Peers are the entities which requested or served the name.
	Peers []Addressable
}

// NewNameEvent creates a name event.
func NewNameEvent(evidence Evidence, service *Service, name DNSName, address Address, peers ...Addressable) *NameEvent {
	return &NameEvent{evidence: evidence, Service: service, Name: name, Address: address, Peers: peers}
}

func (e *NameEvent) Evidence() Evidence { return e.evidence }
func (e *NameEvent) sealedEvent()       {}

func (e *NameEvent) Info() string {
	if e.Address != nil {
		return e.Name.Name + "=" + e.Address.String()
	}
	return e.Name.Name
}

// PropertyEvent carries a property value for a known entity.
type PropertyEvent struct {
	evidence Evidence
	Entity   ModelEntity
	Key      PropertyKey
	Value    PropertyValue
}

// NewPropertyEvent creates a property event for an entity.
func NewPropertyEvent(evidence Evidence, entity ModelEntity, key PropertyKey, value PropertyValue) *PropertyEvent {
	return &PropertyEvent{evidence: evidence, Entity: entity, Key: key, Value: value}
}

func (e *PropertyEvent) Evidence() Evidence { return e.evidence }
func (e *PropertyEvent) Info() string       { return string(e.Key) }
func (e *PropertyEvent) sealedEvent()       {}

// PropertyAddressEvent carries a property value for an entity
// resolved by address.
type PropertyAddressEvent struct {
	evidence Evidence
	Address  Address
	Key      PropertyKey
	Value    PropertyValue
}

// NewPropertyAddressEvent creates a property event resolved by address.
func NewPropertyAddressEvent(evidence Evidence, address Address, key PropertyKey, value PropertyValue) *PropertyAddressEvent {
	return &PropertyAddressEvent{evidence: evidence, Address: address, Key: key, Value: value}
}

func (e *PropertyAddressEvent) Evidence() Evidence { return e.evidence }
func (e *PropertyAddressEvent) sealedEvent()       {}

func (e *PropertyAddressEvent) Info() string {
	return e.Address.String() + " " + string(e.Key)
}
