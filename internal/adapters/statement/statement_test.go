package statement

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

const sampleStatement = `
system: IoT camera setup
networks:
  - 192.168.1.0/24
hosts:
  - name: Camera
    hw: ["aa:bb:cc:dd:ee:01"]
    ip: ["192.168.1.10"]
    connections:
      - to: Backend
        service: tls:443
      - to: Gateway
        service: dns:53
  - name: Backend
    kind: remote
    names: ["backend.example.com"]
    services:
      - protocol: tls
  - name: Gateway
    kind: infra
    ip: ["192.168.1.1"]
    services:
      - protocol: dns
      - protocol: dhcp
        port: 67
        reply_from_other_address: true
  - name: App
    kind: mobile
    external_activity: unlimited
broadcasts:
  - protocol: udp
    port: 5353
    address: 224.0.0.251
  - protocol: arp
    port: -1
`

func TestLoad(t *testing.T) {
	system, err := Load([]byte(sampleStatement))
	require.NoError(t, err)

	assert.Equal(t, "IoT camera setup", system.Name)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("192.168.1.0/24")}, system.Networks)

	byName := make(map[string]*domain.Host)
	for _, h := range system.Hosts {
		byName[h.Name] = h
	}

	camera := byName["Camera"]
	require.NotNil(t, camera)
	assert.Equal(t, domain.HostDevice, camera.Kind)
	assert.True(t, camera.HasAddress(domain.MustParseHW("aa:bb:cc:dd:ee:01")))
	assert.True(t, camera.HasAddress(domain.MustParseIP("192.168.1.10")))
	assert.Len(t, camera.Connections, 2)

	backend := byName["Backend"]
	require.NotNil(t, backend)
	assert.Equal(t, domain.HostRemote, backend.Kind)
	assert.True(t, backend.HasAddress(domain.DNSName{Name: "backend.example.com"}))
	require.Len(t, backend.Services, 1)
	assert.Equal(t, "TLS:443", backend.Services[0].Name, "default port filled in")

	gateway := byName["Gateway"]
	require.NotNil(t, gateway)
	assert.Equal(t, domain.HostAdministrative, gateway.Kind)
	require.Len(t, gateway.Services, 2)
	assert.Equal(t, "DNS:53", gateway.Services[0].Name)
	assert.Equal(t, "DHCP:67", gateway.Services[1].Name)
	assert.True(t, gateway.Services[1].ReplyFromOtherAddress)

	app := byName["App"]
	require.NotNil(t, app)
	assert.Equal(t, domain.HostMobile, app.Kind)
	assert.Equal(t, domain.ActivityUnlimited, app.ExternalActivity)

	mdns := byName["224.0.0.251"]
	require.NotNil(t, mdns, "multicast target declared as a host")
	assert.True(t, mdns.IsMulticast())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "hosts: {"},
		{"bad network", "networks: [\"not-a-prefix\"]"},
		{"missing host name", "hosts:\n  - kind: device"},
		{"unknown kind", "hosts:\n  - name: X\n    kind: phone"},
		{"bad hardware address", "hosts:\n  - name: X\n    hw: [\"zz:zz\"]"},
		{"bad ip address", "hosts:\n  - name: X\n    ip: [\"999.1.1.1\"]"},
		{"unknown activity", "hosts:\n  - name: X\n    external_activity: sometimes"},
		{"unknown protocol", "hosts:\n  - name: X\n    services:\n      - protocol: gopher"},
		{"unknown connection target", "hosts:\n  - name: X\n    connections:\n      - to: Y\n        service: tls:443"},
		{"unknown broadcast protocol", "broadcasts:\n  - protocol: gopher\n    port: 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefaultsSystemName(t *testing.T) {
	system, err := Load([]byte("hosts: []"))
	require.NoError(t, err)
	assert.Equal(t, "System", system.Name)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("192.168.0.0/16")}, system.Networks,
		"default network stands without a declaration")
}

func TestLoadFile(t *testing.T) {
	_, err := LoadFile("does-not-exist.yaml")
	assert.Error(t, err)
}
