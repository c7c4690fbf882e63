package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
)

// Event kind tokens stored in the database.
const (
	kindEthernetFlow = "ethernet-flow"
	kindIPFlow       = "ip-flow"
	kindBLEAdFlow    = "ble-ad-flow"
	kindServiceScan  = "service-scan"
	kindHostScan     = "host-scan"
	kindName         = "name"
	kindPropertyAddr = "property-address"
)

type flowEndJSON struct {
	HW   string `json:"hw,omitempty"`
	IP   string `json:"ip,omitempty"`
	Port int    `json:"port"`
}

type flowJSON struct {
	Protocol  string       `json:"protocol"`
	Source    *flowEndJSON `json:"source,omitempty"`
	Target    *flowEndJSON `json:"target,omitempty"`
	SourceHW  string       `json:"source_hw,omitempty"`
	TargetHW  string       `json:"target_hw,omitempty"`
	Payload   int          `json:"payload,omitempty"`
	EventType int          `json:"event_type,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

type scanJSON struct {
	Endpoint    string   `json:"endpoint,omitempty"`
	ServiceName string   `json:"service_name,omitempty"`
	Host        string   `json:"host,omitempty"`
	Endpoints   []string `json:"endpoints,omitempty"`
}

type nameJSON struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	// Peers are host addresses of the requesting or serving peers.
	Peers []string `json:"peers,omitempty"`
}

type propertyJSON struct {
	Address string `json:"address"`
	Key     string `json:"key"`
	Verdict string `json:"verdict,omitempty"`
	Explain string `json:"explanation,omitempty"`
	Value   string `json:"value,omitempty"`
}

type sourceJSON struct {
	// AddressMap maps observed addresses to modeled entity addresses.
	AddressMap map[string]string `json:"address_map,omitempty"`
	// ActivityMap overrides activity policies, keyed by entity address.
	ActivityMap map[string]string `json:"activity_map,omitempty"`
}

// EncodeEvent encodes an event into its storable record. The second
// return is false for event kinds which are not persisted.
func EncodeEvent(event domain.Event) (ports.EventRecord, bool, error) {
	var kind string
	var data any
	switch e := event.(type) {
	case *domain.EthernetFlow:
		kind = kindEthernetFlow
		data = flowJSON{
			Protocol: string(e.Proto),
			SourceHW: e.Source.Data, TargetHW: e.Target.Data,
			Payload:   e.Payload,
			Timestamp: timeString(e.Timestamp),
		}
	case *domain.IPFlow:
		kind = kindIPFlow
		data = flowJSON{
			Protocol:  string(e.Proto),
			Source:    &flowEndJSON{HW: e.Source.HW.Data, IP: e.Source.IP.Parseable(), Port: e.Source.Port},
			Target:    &flowEndJSON{HW: e.Target.HW.Data, IP: e.Target.IP.Parseable(), Port: e.Target.Port},
			Timestamp: timeString(e.Timestamp),
		}
	case *domain.BLEAdvertisementFlow:
		kind = kindBLEAdFlow
		data = flowJSON{
			Protocol: string(domain.ProtocolBLE),
			SourceHW: e.Source.Data, EventType: e.EventType,
			Timestamp: timeString(e.Timestamp),
		}
	case *domain.ServiceScan:
		kind = kindServiceScan
		data = scanJSON{Endpoint: e.Endpoint.Parseable(), ServiceName: e.ServiceName}
	case *domain.HostScan:
		eps := make([]string, len(e.Endpoints))
		for i, ep := range e.Endpoints {
			eps[i] = ep.Parseable()
		}
		kind = kindHostScan
		data = scanJSON{Host: e.Host.Parseable(), Endpoints: eps}
	case *domain.NameEvent:
		j := nameJSON{Name: e.Name.Name}
		if e.Address != nil {
			j.Address = e.Address.Parseable()
		}
		for _, p := range e.Peers {
			j.Peers = append(j.Peers, domain.GetPrioritized(p.AllAddresses()).Parseable())
		}
		kind = kindName
		data = j
	case *domain.PropertyAddressEvent:
		j := propertyJSON{Address: e.Address.Parseable(), Key: string(e.Key)}
		switch v := e.Value.(type) {
		case domain.VerdictValue:
			j.Verdict, j.Explain = string(v.Verdict), v.Explanation
		case domain.StringValue:
			j.Value = string(v)
		default:
			return ports.EventRecord{}, false, fmt.Errorf("property value %T not storable", e.Value)
		}
		kind = kindPropertyAddr
		data = j
	default:
		// property events reference entities without addresses, they
		// are session-local and not persisted
		return ports.EventRecord{}, false, nil
	}
	js, err := json.Marshal(data)
	if err != nil {
		return ports.EventRecord{}, false, err
	}
	ev := event.Evidence()
	return ports.EventRecord{
		Kind:       kind,
		SourceName: ev.Source.Name,
		BaseRef:    ev.Source.BaseRef,
		Label:      ev.Source.Label,
		TailRef:    ev.TailRef,
		Data:       string(js),
	}, true, nil
}

// EncodeSource encodes the source mappings into their storable JSON.
func EncodeSource(source *domain.EvidenceSource) (string, error) {
	j := sourceJSON{}
	if len(source.AddressMap) > 0 {
		j.AddressMap = make(map[string]string, len(source.AddressMap))
		for a, e := range source.AddressMap {
			j.AddressMap[a.Parseable()] = domain.GetPrioritized(e.AllAddresses()).Parseable()
		}
	}
	if len(source.ActivityMap) > 0 {
		j.ActivityMap = make(map[string]string, len(source.ActivityMap))
		for e, act := range source.ActivityMap {
			j.ActivityMap[domain.GetPrioritized(e.AllAddresses()).Parseable()] = act.String()
		}
	}
	js, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(js), nil
}

// DecodeSource applies stored source mappings, resolving entities by
// address against the system.
func DecodeSource(source *domain.EvidenceSource, data string, system *domain.System) error {
	if data == "" {
		return nil
	}
	var j sourceJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return err
	}
	for as, es := range j.AddressMap {
		a, err := domain.ParseEndpoint(as)
		if err != nil {
			return err
		}
		ea, err := domain.ParseEndpoint(es)
		if err != nil {
			return err
		}
		source.MapAddress(a, system.GetEndpoint(ea))
	}
	for es, acts := range j.ActivityMap {
		ea, err := domain.ParseEndpoint(es)
		if err != nil {
			return err
		}
		act, ok := domain.ParseExternalActivity(acts)
		if !ok {
			return fmt.Errorf("bad activity %q", acts)
		}
		source.OverrideActivity(system.GetEndpoint(ea), act)
	}
	return nil
}

// DecodeEvent decodes a stored record back into an event, resolving
// entity references against the system.
func DecodeEvent(record ports.EventRecord, source *domain.EvidenceSource, system *domain.System) (domain.Event, error) {
	evidence := domain.Evidence{Source: source, TailRef: record.TailRef}
	switch record.Kind {
	case kindEthernetFlow, kindIPFlow, kindBLEAdFlow:
		var j flowJSON
		if err := json.Unmarshal([]byte(record.Data), &j); err != nil {
			return nil, err
		}
		return decodeFlow(record.Kind, j, evidence)
	case kindServiceScan:
		var j scanJSON
		if err := json.Unmarshal([]byte(record.Data), &j); err != nil {
			return nil, err
		}
		ep, err := parseEndpointAddress(j.Endpoint)
		if err != nil {
			return nil, err
		}
		return domain.NewServiceScan(evidence, ep, j.ServiceName), nil
	case kindHostScan:
		var j scanJSON
		if err := json.Unmarshal([]byte(record.Data), &j); err != nil {
			return nil, err
		}
		host, err := domain.ParseAddress(j.Host)
		if err != nil {
			return nil, err
		}
		eps := make([]domain.EndpointAddress, len(j.Endpoints))
		for i, s := range j.Endpoints {
			if eps[i], err = parseEndpointAddress(s); err != nil {
				return nil, err
			}
		}
		return domain.NewHostScan(evidence, host, eps), nil
	case kindName:
		var j nameJSON
		if err := json.Unmarshal([]byte(record.Data), &j); err != nil {
			return nil, err
		}
		var address domain.Address
		if j.Address != "" {
			a, err := domain.ParseAddress(j.Address)
			if err != nil {
				return nil, err
			}
			address = a
		}
		var peers []domain.Addressable
		for _, ps := range j.Peers {
			pa, err := domain.ParseEndpoint(ps)
			if err != nil {
				return nil, err
			}
			peers = append(peers, system.GetEndpoint(pa))
		}
		return domain.NewNameEvent(evidence, nil, domain.DNSName{Name: j.Name}, address, peers...), nil
	case kindPropertyAddr:
		var j propertyJSON
		if err := json.Unmarshal([]byte(record.Data), &j); err != nil {
			return nil, err
		}
		address, err := domain.ParseEndpoint(j.Address)
		if err != nil {
			return nil, err
		}
		var value domain.PropertyValue
		if j.Verdict != "" {
			v, ok := domain.ParseVerdict(j.Verdict)
			if !ok {
				return nil, fmt.Errorf("bad verdict %q", j.Verdict)
			}
			value = domain.VerdictValue{Verdict: v, Explanation: j.Explain}
		} else {
			value = domain.StringValue(j.Value)
		}
		return domain.NewPropertyAddressEvent(evidence, address, domain.PropertyKey(j.Key), value), nil
	}
	return nil, fmt.Errorf("unknown event kind %q", record.Kind)
}

func decodeFlow(kind string, j flowJSON, evidence domain.Evidence) (domain.Event, error) {
	protocol, ok := domain.ParseProtocol(j.Protocol)
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q", j.Protocol)
	}
	switch kind {
	case kindEthernetFlow:
		source, err := domain.ParseHW(j.SourceHW)
		if err != nil {
			return nil, err
		}
		target, err := domain.ParseHW(j.TargetHW)
		if err != nil {
			return nil, err
		}
		f := domain.NewEthernetFlow(evidence, source, target, j.Payload, protocol)
		f.Timestamp = parseTime(j.Timestamp)
		return f, nil
	case kindIPFlow:
		source, err := decodeFlowEnd(j.Source)
		if err != nil {
			return nil, err
		}
		target, err := decodeFlowEnd(j.Target)
		if err != nil {
			return nil, err
		}
		f := domain.NewIPFlow(evidence, source, target, protocol)
		f.Timestamp = parseTime(j.Timestamp)
		return f, nil
	default: // kindBLEAdFlow
		source, err := domain.ParseHW(j.SourceHW)
		if err != nil {
			return nil, err
		}
		f := domain.NewBLEAdvertisementFlow(evidence, source, j.EventType)
		f.Timestamp = parseTime(j.Timestamp)
		return f, nil
	}
}

func decodeFlowEnd(j *flowEndJSON) (domain.FlowEnd, error) {
	if j == nil {
		return domain.FlowEnd{}, fmt.Errorf("missing flow end")
	}
	hw, err := domain.ParseHW(j.HW)
	if err != nil {
		return domain.FlowEnd{}, err
	}
	ip, err := domain.ParseIP(j.IP)
	if err != nil {
		return domain.FlowEnd{}, err
	}
	return domain.FlowEnd{HW: hw, IP: ip, Port: j.Port}, nil
}

func parseEndpointAddress(value string) (domain.EndpointAddress, error) {
	a, err := domain.ParseEndpoint(value)
	if err != nil {
		return domain.EndpointAddress{}, err
	}
	ep, ok := a.(domain.EndpointAddress)
	if !ok {
		return domain.EndpointAddress{}, fmt.Errorf("not an endpoint address: %q", value)
	}
	return ep, nil
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
