package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHW(t *testing.T) {
	hw, err := ParseHW("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", hw.Data, "stored lower-case")

	hw, err = ParseHW("1:2:3:4:5:6")
	require.NoError(t, err)
	assert.Equal(t, "01:02:03:04:05:06", hw.Data, "short octets zero-prefixed")

	_, err = ParseHW("aa:bb:cc:dd:ee")
	assert.Error(t, err)
	_, err = ParseHW("aa:bb:cc:dd:ee:gg")
	assert.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  Address
	}{
		{"plain IP", "192.168.0.1", MustParseIP("192.168.0.1")},
		{"typed IP", "10.0.0.1|ip", MustParseIP("10.0.0.1")},
		{"IPv6", "2001:db8::1", MustParseIP("2001:db8::1")},
		{"hardware", "aa:bb:cc:dd:ee:ff|hw", MustParseHW("aa:bb:cc:dd:ee:ff")},
		{"DNS name", "example.com|name", DNSName{Name: "example.com"}},
		{"wildcard", "*", AnyHost},
		{"path qualifier", "10.0.0.1(/api)", NewPathAddress(MustParseIP("10.0.0.1"), "/api")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseAddress("something|dns")
	assert.Error(t, err, "unknown address type")
	_, err = ParseAddress("not-an-ip")
	assert.Error(t, err)
}

func TestParseEndpoint(t *testing.T) {
	a, err := ParseEndpoint("192.168.0.1/tcp:80")
	require.NoError(t, err)
	ep, ok := a.(EndpointAddress)
	require.True(t, ok)
	assert.Equal(t, MustParseIP("192.168.0.1"), ep.Host())
	assert.Equal(t, ProtocolTCP, ep.Protocol())
	assert.Equal(t, 80, ep.Port())

	a, err = ParseEndpoint("example.com|name/tls")
	require.NoError(t, err)
	ep = a.(EndpointAddress)
	assert.Equal(t, DNSName{Name: "example.com"}, ep.Host())
	assert.Equal(t, -1, ep.Port(), "missing port parses as -1")

	a, err = ParseEndpoint("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, MustParseIP("10.0.0.1"), a, "no suffix is a plain address")

	_, err = ParseEndpoint("10.0.0.1/ftp:21")
	assert.Error(t, err, "unknown protocol")
	_, err = ParseEndpoint("10.0.0.1/tcp:eighty")
	assert.Error(t, err, "bad port")
}

func TestParseableRoundTrip(t *testing.T) {
	addresses := []Address{
		MustParseIP("192.168.0.1"),
		MustParseIP("2001:db8::1"),
		MustParseHW("aa:bb:cc:dd:ee:ff"),
		DNSName{Name: "device.example.com"},
		NewEndpointAddress(MustParseIP("192.168.0.1"), ProtocolTCP, 22),
		NewEndpointAddress(DNSName{Name: "backend.example.com"}, ProtocolTLS, 443),
		NewEndpointAddress(MustParseHW("aa:bb:cc:dd:ee:ff"), ProtocolARP, -1),
		AnyHostEndpoint(ProtocolUDP, 53),
	}
	for _, a := range addresses {
		got, err := ParseEndpoint(a.Parseable())
		require.NoError(t, err, a.Parseable())
		assert.Equal(t, a, got, a.Parseable())
	}
}

func TestAddressPriority(t *testing.T) {
	hw := MustParseHW("aa:bb:cc:dd:ee:ff")
	ip := MustParseIP("192.168.0.1")
	name := DNSName{Name: "device.local"}

	assert.Equal(t, name, GetPrioritized([]Address{hw, ip, name}), "name wins over addresses")
	assert.Equal(t, ip, GetPrioritized([]Address{hw, ip}), "IP wins over hardware")
	assert.Equal(t, BroadcastHW, GetPrioritized([]Address{BroadcastHW, name}), "broadcast always shows")
	assert.Equal(t, NullIP, GetPrioritized(nil), "empty defaults to the null IP")
}

func TestChangeHost(t *testing.T) {
	wild := AnyHostEndpoint(ProtocolTLS, 443)
	ip := MustParseIP("10.0.0.1")

	bound := wild.ChangeHost(ip)
	assert.Equal(t, NewEndpointAddress(ip, ProtocolTLS, 443), bound)
	assert.Equal(t, ip, bound.Host())

	p := NewPathAddress(wild, "/login")
	moved := p.ChangeHost(ip).(PathAddress)
	assert.Equal(t, "/login", moved.Path())
	assert.Equal(t, ip, moved.Host().Host())

	assert.Equal(t, Address(ip), ip.ChangeHost(MustParseIP("10.0.0.2")), "plain hosts never change")
}

func TestAddressClassification(t *testing.T) {
	assert.True(t, MustParseIP("8.8.8.8").IsGlobal())
	assert.False(t, MustParseIP("192.168.1.1").IsGlobal())
	assert.False(t, MustParseIP("127.0.0.1").IsGlobal())
	assert.True(t, MustParseIP("224.0.0.251").IsMulticast())
	assert.True(t, BroadcastIP.IsMulticast())
	assert.True(t, BroadcastHW.IsMulticast())
	assert.True(t, NullIP.IsNull())
	assert.True(t, NullHW.IsNull())
	assert.True(t, AnyHost.IsWildcard())
	assert.True(t, BLEAd.IsMulticast())
	assert.True(t, BLEAd.IsHardware())
}

func TestLooksLikeName(t *testing.T) {
	assert.True(t, LooksLikeName("example.com"))
	assert.False(t, LooksLikeName("192.168.0.1"))
	assert.False(t, LooksLikeName("localhost"), "no dot, no name")
	assert.False(t, LooksLikeName("::1"))
}

func TestNameOrIP(t *testing.T) {
	assert.Equal(t, Address(MustParseIP("10.0.0.1")), NameOrIP("10.0.0.1"))
	assert.Equal(t, Address(DNSName{Name: "example.com"}), NameOrIP("example.com"))
}

func TestOpenEnvelope(t *testing.T) {
	origin := MustParseIP("10.0.0.1")
	a, path := OpenEnvelope(NewPathAddress(origin, "/api"))
	assert.Equal(t, Address(origin), a)
	assert.Equal(t, "/api", path)

	a, path = OpenEnvelope(origin)
	assert.Equal(t, Address(origin), a)
	assert.Empty(t, path)
}
