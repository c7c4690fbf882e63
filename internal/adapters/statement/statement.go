// Package statement loads a declared system model from a security
// statement YAML file.
package statement

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

// Statement is the YAML form of a declared system model.
type Statement struct {
	System   string   `yaml:"system"`
	Networks []string `yaml:"networks"`
	Hosts    []HostDecl
	// Broadcasts declare multicast and broadcast targets.
	Broadcasts []BroadcastDecl `yaml:"broadcasts"`
}

// HostDecl declares one host.
type HostDecl struct {
	Name string `yaml:"name"`
	// Kind is one of device, remote, mobile, browser, infra or any.
	Kind               string   `yaml:"kind"`
	HW                 []string `yaml:"hw"`
	IP                 []string `yaml:"ip"`
	Names              []string `yaml:"names"`
	ExternalActivity   string   `yaml:"external_activity"`
	IgnoreNameRequests []string `yaml:"ignore_name_requests"`
	Services           []ServiceDecl
	Connections        []ConnectionDecl
}

// ServiceDecl declares one service of a host.
type ServiceDecl struct {
	Protocol              string `yaml:"protocol"`
	Port                  *int   `yaml:"port"`
	Authenticated         bool   `yaml:"authenticated"`
	Kind                  string `yaml:"kind"`
	ClientSide            bool   `yaml:"client_side"`
	ReplyFromOtherAddress bool   `yaml:"reply_from_other_address"`
	ExternalActivity      string `yaml:"external_activity"`
	CaptivePortal         bool   `yaml:"captive_portal"`
}

// ConnectionDecl declares a connection from the host to a service of
// another host, e.g. to: Backend, service: tls:443.
type ConnectionDecl struct {
	To      string `yaml:"to"`
	Service string `yaml:"service"`
}

// BroadcastDecl declares a multicast or broadcast service target.
type BroadcastDecl struct {
	Protocol string `yaml:"protocol"`
	Port     int    `yaml:"port"`
	// Address is an explicit multicast address. Empty uses the
	// protocol's broadcast address.
	Address string `yaml:"address"`
}

// LoadFile loads a statement file and builds the declared system model.
func LoadFile(path string) (*domain.System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load parses statement YAML and builds the declared system model.
func Load(data []byte) (*domain.System, error) {
	var st Statement
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse statement: %w", err)
	}
	return Build(&st)
}

// Build builds a declared system model from a parsed statement.
func Build(st *Statement) (*domain.System, error) {
	name := st.System
	if name == "" {
		name = "System"
	}
	b := domain.NewSystemBuilder(name)

	if len(st.Networks) > 0 {
		var networks []netip.Prefix
		for _, n := range st.Networks {
			p, err := netip.ParsePrefix(n)
			if err != nil {
				return nil, fmt.Errorf("bad network %q: %w", n, err)
			}
			networks = append(networks, p)
		}
		b.System().Networks = networks
	}

	// declare hosts and services first, connections resolve by name
	hosts := make(map[string]*domain.HostBuilder, len(st.Hosts))
	services := make(map[string]map[string]*domain.ServiceBuilder, len(st.Hosts))
	for i := range st.Hosts {
		decl := &st.Hosts[i]
		hb, err := declareHost(b, decl)
		if err != nil {
			return nil, err
		}
		hosts[decl.Name] = hb
		svcs := make(map[string]*domain.ServiceBuilder, len(decl.Services))
		for _, sd := range decl.Services {
			sb, key, err := declareService(hb, sd)
			if err != nil {
				return nil, fmt.Errorf("host %q: %w", decl.Name, err)
			}
			svcs[key] = sb
		}
		services[decl.Name] = svcs
	}

	for _, bd := range st.Broadcasts {
		if err := declareBroadcast(b, bd); err != nil {
			return nil, err
		}
	}

	for i := range st.Hosts {
		decl := &st.Hosts[i]
		for _, cd := range decl.Connections {
			target, ok := services[cd.To][cd.Service]
			if !ok {
				return nil, fmt.Errorf("host %q: connection target %q %q not declared",
					decl.Name, cd.To, cd.Service)
			}
			hosts[decl.Name].ConnectTo(target)
		}
	}
	return b.System(), nil
}

func declareHost(b *domain.SystemBuilder, decl *HostDecl) (*domain.HostBuilder, error) {
	if decl.Name == "" {
		return nil, fmt.Errorf("host without a name")
	}
	var hb *domain.HostBuilder
	switch strings.ToLower(decl.Kind) {
	case "", "device":
		hb = b.Device(decl.Name)
	case "remote":
		hb = b.Remote(decl.Name)
	case "mobile":
		hb = b.Mobile(decl.Name)
	case "browser":
		hb = b.Browser(decl.Name)
	case "infra":
		hb = b.Infra(decl.Name)
	case "any":
		hb = b.AnyHost(decl.Name)
	default:
		return nil, fmt.Errorf("host %q: unknown kind %q", decl.Name, decl.Kind)
	}
	for _, a := range decl.HW {
		if _, err := domain.ParseHW(a); err != nil {
			return nil, fmt.Errorf("host %q: %w", decl.Name, err)
		}
		hb.HW(a)
	}
	for _, a := range decl.IP {
		if _, err := domain.ParseIP(a); err != nil {
			return nil, fmt.Errorf("host %q: %w", decl.Name, err)
		}
		hb.IP(a)
	}
	for _, n := range decl.Names {
		hb.Name(n)
	}
	if decl.ExternalActivity != "" {
		act, ok := domain.ParseExternalActivity(decl.ExternalActivity)
		if !ok {
			return nil, fmt.Errorf("host %q: unknown external activity %q", decl.Name, decl.ExternalActivity)
		}
		hb.ExternalActivity(act)
	}
	if len(decl.IgnoreNameRequests) > 0 {
		hb.IgnoreNameRequests(decl.IgnoreNameRequests...)
	}
	return hb, nil
}

func declareService(hb *domain.HostBuilder, decl ServiceDecl) (*domain.ServiceBuilder, string, error) {
	protocol, ok := domain.ParseProtocol(decl.Protocol)
	if !ok || protocol == domain.ProtocolAny {
		return nil, "", fmt.Errorf("unknown service protocol %q", decl.Protocol)
	}
	port := defaultPort(protocol)
	if decl.Port != nil {
		port = *decl.Port
	}
	sb := hb.Service(protocol, port)
	sb.Authenticated(decl.Authenticated)
	if decl.Kind != "" {
		sb.Kind(domain.ConnectionKind(decl.Kind))
	}
	if decl.ClientSide {
		sb.ClientSide()
	}
	if decl.ReplyFromOtherAddress {
		sb.ReplyFromOtherAddress()
	}
	if decl.ExternalActivity != "" {
		act, ok := domain.ParseExternalActivity(decl.ExternalActivity)
		if !ok {
			return nil, "", fmt.Errorf("unknown external activity %q", decl.ExternalActivity)
		}
		sb.ExternalActivity(act)
	}
	if decl.CaptivePortal {
		sb.CaptivePortal()
	}
	return sb, string(protocol) + ":" + strconv.Itoa(port), nil
}

func declareBroadcast(b *domain.SystemBuilder, decl BroadcastDecl) error {
	protocol, ok := domain.ParseProtocol(decl.Protocol)
	if !ok || protocol == domain.ProtocolAny {
		return fmt.Errorf("broadcast: unknown protocol %q", decl.Protocol)
	}
	if decl.Address == "" {
		b.Broadcast(protocol, decl.Port)
		return nil
	}
	address, err := domain.ParseAddress(decl.Address)
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	b.Multicast(address, protocol, decl.Port)
	return nil
}

// defaultPort is the well-known port of a protocol, -1 when none.
func defaultPort(protocol domain.Protocol) int {
	switch protocol {
	case domain.ProtocolDNS:
		return 53
	case domain.ProtocolDHCP:
		return 67
	case domain.ProtocolHTTP:
		return 80
	case domain.ProtocolTLS:
		return 443
	case domain.ProtocolSSH:
		return 22
	case domain.ProtocolNTP:
		return 123
	default:
		return -1
	}
}
