package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDeclaresHosts(t *testing.T) {
	b := NewSystemBuilder("Test system")
	device := b.Device("Camera").HW("aa:bb:cc:dd:ee:01").IP("192.168.0.10")
	backend := b.Remote("Backend").Name("backend.example.com").IP("8.8.8.8")
	mobile := b.Mobile("App")

	system := b.System()
	assert.Equal(t, "Test system", system.Name)
	assert.Len(t, system.Hosts, 3)

	h := device.Host()
	assert.Equal(t, StatusExpected, h.Status)
	assert.Equal(t, HostDevice, h.Kind)
	assert.True(t, h.HasAddress(MustParseHW("aa:bb:cc:dd:ee:01")))
	assert.True(t, h.HasAddress(MustParseIP("192.168.0.10")))
	assert.True(t, system.IsOriginal(h), "declared hosts survive resets")

	assert.Equal(t, HostRemote, backend.Host().Kind)
	assert.True(t, backend.Host().HasAddress(DNSName{Name: "backend.example.com"}))

	assert.Equal(t, ActivityUnlimited, mobile.Host().ExternalActivity, "mobiles run anything")

	assert.Same(t, device.Host(), b.Device("Camera").Host(), "same name reuses the declaration")
}

func TestBuilderDeclaresServices(t *testing.T) {
	b := NewSystemBuilder("Test")
	backend := b.Remote("Backend").IP("8.8.8.8")
	svc := backend.Service(ProtocolTLS, 443).Authenticated(true).Kind(ConnectionEncrypted)

	s := svc.Service()
	assert.Equal(t, "TLS:443", s.Name)
	assert.Equal(t, StatusExpected, s.Status)
	assert.True(t, s.Authentication)
	assert.Equal(t, ConnectionEncrypted, s.ConnKind)
	require.Len(t, s.Addresses, 1)
	assert.True(t, s.Addresses[0].IsWildcard(), "service binds at any host address")

	assert.Same(t, s, backend.Service(ProtocolTLS, 443).Service(), "same endpoint reuses the service")

	all := s.AllAddresses()
	require.Len(t, all, 1)
	assert.Equal(t, Address(NewEndpointAddress(MustParseIP("8.8.8.8"), ProtocolTLS, 443)), all[0],
		"wildcard expands over the host addresses")
}

func TestBuilderDeclaresConnections(t *testing.T) {
	b := NewSystemBuilder("Test")
	device := b.Device("Camera").IP("192.168.0.10")
	svc := b.Remote("Backend").IP("8.8.8.8").Service(ProtocolTLS, 443)

	c := device.ConnectTo(svc)
	assert.Equal(t, StatusExpected, c.Status)
	assert.Same(t, c, device.ConnectTo(svc), "duplicate declaration reuses the connection")
	assert.Same(t, c, svc.ConnectFrom(device))

	// the connection is listed at both end hosts
	assert.Contains(t, device.Host().Connections, c)
	assert.Contains(t, svc.Service().Parent.Connections, c)
	assert.Equal(t, "Camera => Backend TLS:443", c.LongName())
}

func TestBuilderBroadcast(t *testing.T) {
	b := NewSystemBuilder("Test")
	udp := b.Broadcast(ProtocolUDP, 5353)
	arp := b.Broadcast(ProtocolARP, -1)

	assert.True(t, udp.Service().Parent.HasAddress(BroadcastIP))
	assert.Equal(t, HostAdministrative, udp.Service().Parent.Kind)
	assert.True(t, udp.Service().Parent.IsMulticast())
	assert.True(t, arp.Service().Parent.HasAddress(BroadcastHW))

	mdns := b.Multicast(MustParseIP("224.0.0.251"), ProtocolUDP, 5353)
	assert.True(t, mdns.Service().Parent.HasAddress(MustParseIP("224.0.0.251")))
}

func TestBuilderInfraPriority(t *testing.T) {
	b := NewSystemBuilder("Test")
	infra := b.Infra("Test gateway")
	device := b.Device("Camera")

	assert.Less(t, infra.Host().MatchPriority, device.Host().MatchPriority,
		"infrastructure yields to declared devices when matching")
	assert.Equal(t, ActivityUnlimited, infra.Host().ExternalActivity)
}

func TestBuilderAnyHost(t *testing.T) {
	b := NewSystemBuilder("Test")
	any := b.AnyHost("LAN peers")
	assert.True(t, any.Host().AnyHost)
	assert.Equal(t, ActivityUnlimited, any.Host().ExternalActivity)
}
