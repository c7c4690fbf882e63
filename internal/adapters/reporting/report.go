// Package reporting renders verification results of a system model as
// text or PDF reports.
package reporting

import (
	"time"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
	"github.com/lcalzada-xor/flowmap/internal/core/services/eventlog"
)

// Report is the rendered verification state of a system model.
type Report struct {
	SystemName  string             `json:"system_name"`
	GeneratedAt time.Time          `json:"generated_at"`
	Verdict     domain.Verdict     `json:"verdict"`
	Hosts       []HostReport       `json:"hosts"`
	Connections []ConnectionReport `json:"connections"`
	// Sources are the evidence sources behind the results.
	Sources []string `json:"sources,omitempty"`
}

// HostReport is one host with its services.
type HostReport struct {
	Name     string          `json:"name"`
	Address  string          `json:"address"`
	Vendor   string          `json:"vendor,omitempty"`
	Status   string          `json:"status"`
	Verdict  domain.Verdict  `json:"verdict"`
	Services []ServiceReport `json:"services,omitempty"`
}

// ServiceReport is one service of a host.
type ServiceReport struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Verdict domain.Verdict `json:"verdict"`
}

// ConnectionReport is one connection with its observed flow count.
type ConnectionReport struct {
	Source  string         `json:"source"`
	Target  string         `json:"target"`
	Status  string         `json:"status"`
	Verdict domain.Verdict `json:"verdict"`
	Flows   int            `json:"flows"`
}

// Build collects a report from the logged model state. The vendor
// lookup is optional.
func Build(logging *eventlog.EventLogger, vendors ports.VendorLookup) *Report {
	system := logging.System()
	cache := make(domain.VerdictCache)

	r := &Report{
		SystemName:  system.Name,
		GeneratedAt: time.Now(),
		Verdict:     system.CombinedVerdict(cache),
	}

	for _, h := range system.Hosts {
		if h.Status == domain.StatusPlaceholder {
			continue
		}
		hr := HostReport{
			Name:    h.Name,
			Address: h.PreferredAddress().String(),
			Status:  domain.StatusString(h),
			Verdict: h.CombinedVerdict(cache),
			Vendor:  hostVendor(h, vendors),
		}
		for _, s := range h.Services {
			if s.Status == domain.StatusPlaceholder {
				continue
			}
			hr.Services = append(hr.Services, ServiceReport{
				Name:    s.Name,
				Status:  domain.StatusString(s),
				Verdict: s.CombinedVerdict(cache),
			})
		}
		r.Hosts = append(r.Hosts, hr)
	}

	flows := logging.CollectFlows()
	for _, c := range system.RelevantConnections() {
		r.Connections = append(r.Connections, ConnectionReport{
			Source:  c.Source.LongName(),
			Target:  c.Target.LongName(),
			Status:  domain.StatusString(c),
			Verdict: c.CombinedVerdict(cache),
			Flows:   len(flows[c]),
		})
	}

	seen := make(map[string]struct{})
	for _, lo := range logging.Logs() {
		name := lo.Event.Evidence().Source.Name
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			r.Sources = append(r.Sources, name)
		}
	}
	return r
}

func hostVendor(h *domain.Host, vendors ports.VendorLookup) string {
	if vendors == nil {
		return ""
	}
	for _, a := range h.Addresses {
		if hw, ok := a.(domain.HWAddress); ok {
			if v, found := vendors.Vendor(hw); found {
				return v
			}
		}
	}
	return ""
}
