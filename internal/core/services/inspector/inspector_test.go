package inspector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

// recorder collects model notifications for assertions.
type recorder struct {
	connections []*domain.Connection
	hosts       []*domain.Host
	services    []*domain.Service
	properties  []propertyNote
}

type propertyNote struct {
	entity domain.ModelEntity
	key    domain.PropertyKey
	value  domain.PropertyValue
}

func (r *recorder) AddressChange(*domain.Host)                 {}
func (r *recorder) ConnectionChange(c *domain.Connection)      { r.connections = append(r.connections, c) }
func (r *recorder) HostChange(h *domain.Host)                  { r.hosts = append(r.hosts, h) }
func (r *recorder) ServiceChange(s *domain.Service)            { r.services = append(r.services, s) }
func (r *recorder) PropertyChange(e domain.ModelEntity, k domain.PropertyKey, v domain.PropertyValue) {
	r.properties = append(r.properties, propertyNote{e, k, v})
}

func testEvidence() domain.Evidence {
	return domain.Evidence{Source: domain.NewEvidenceSource("capture", "cap.pcap", "")}
}

func declaredSystem() (*domain.System, *domain.Host, *domain.Service, *domain.Connection) {
	b := domain.NewSystemBuilder("Test")
	device := b.Device("Camera").HW("aa:bb:cc:dd:ee:01").IP("192.168.0.10")
	svc := b.Remote("Backend").IP("8.8.8.8").Service(domain.ProtocolTLS, 443)
	conn := device.ConnectTo(svc)
	return b.System(), device.Host(), svc.Service(), conn
}

func deviceEnd(port int) domain.FlowEnd {
	return domain.FlowEnd{
		HW: domain.MustParseHW("aa:bb:cc:dd:ee:01"), IP: domain.MustParseIP("192.168.0.10"), Port: port,
	}
}

func backendEnd(port int) domain.FlowEnd {
	return domain.FlowEnd{
		HW: domain.MustParseHW("02:00:00:00:00:99"), IP: domain.MustParseIP("8.8.8.8"), Port: port,
	}
}

func TestDeclaredConnectionPasses(t *testing.T) {
	system, device, svc, conn := declaredSystem()
	insp := New(system, nil)
	ev := testEvidence()

	request := domain.NewIPFlow(ev, deviceEnd(40001), backendEnd(443), domain.ProtocolTLS)
	got := insp.Connection(request)
	require.Same(t, conn, got)
	assert.Equal(t, domain.VerdictPass, conn.ExpectedOrIncon(), "declared connection seen")
	assert.Equal(t, domain.VerdictPass, device.ExpectedOrIncon(), "sender seen")
	assert.Equal(t, domain.VerdictIncon, svc.ExpectedOrIncon(), "no reply yet")

	reply := insp.Connection(request.ReverseFlow())
	require.Same(t, conn, reply)
	assert.Equal(t, domain.VerdictPass, svc.ExpectedOrIncon(), "the reply proves the service")
	assert.Equal(t, domain.VerdictPass, svc.Parent.ExpectedOrIncon())

	assert.Equal(t, domain.VerdictPass, system.CombinedVerdict(make(domain.VerdictCache)))
}

func TestUnexpectedConnectionFails(t *testing.T) {
	system, device, _, _ := declaredSystem()
	insp := New(system, nil)

	flow := domain.NewIPFlow(testEvidence(), deviceEnd(40001), backendEnd(8080), domain.ProtocolTCP)
	conn := insp.Connection(flow)
	assert.Equal(t, domain.StatusUnexpected, conn.Status)
	assert.Equal(t, domain.VerdictFail, conn.ExpectedOrIncon())
	assert.Equal(t, domain.VerdictPass, device.ExpectedOrIncon(), "the sender itself is fine")

	assert.Equal(t, domain.VerdictFail, system.CombinedVerdict(make(domain.VerdictCache)))
}

func TestAddressPairLearnedFromFirstFlow(t *testing.T) {
	system, device, _, _ := declaredSystem()
	insp := New(system, nil)

	insp.Connection(domain.NewIPFlow(testEvidence(), deviceEnd(40001), backendEnd(443), domain.ProtocolTLS))
	assert.True(t, device.HasAddress(domain.MustParseHW("aa:bb:cc:dd:ee:01")))
}

func TestFirstFlowNotifications(t *testing.T) {
	system, device, _, conn := declaredSystem()
	insp := New(system, nil)
	rec := &recorder{}
	system.AddModelListener(rec)

	insp.Connection(domain.NewIPFlow(testEvidence(), deviceEnd(40001), backendEnd(443), domain.ProtocolTLS))

	// the connection is new to the listeners, so it is reported as an
	// entity change, not as a property update
	require.Len(t, rec.connections, 1)
	assert.Same(t, conn, rec.connections[0])
	for _, p := range rec.properties {
		assert.NotSame(t, conn, p.entity)
	}

	// the declared source host was already known, its verdict is a
	// property update
	found := false
	for _, p := range rec.properties {
		if p.entity == domain.ModelEntity(device) && p.key == domain.KeyExpected {
			found = true
			assert.Equal(t, domain.VerdictPass, p.value.(domain.VerdictValue).Verdict)
		}
	}
	assert.True(t, found, "source host verdict reported")
}

func TestFlowPropertiesOnExpectedConnection(t *testing.T) {
	system, _, _, conn := declaredSystem()
	insp := New(system, nil)
	key := domain.NewPropertyKey("check", "encryption")

	flow := domain.NewIPFlow(testEvidence(), deviceEnd(40001), backendEnd(443), domain.ProtocolTLS).
		WithProperty(key, domain.VerdictValue{Verdict: domain.VerdictPass})
	insp.Connection(flow)

	v, ok := conn.Properties[key].(domain.VerdictValue)
	require.True(t, ok, "flow properties land on the expected connection")
	assert.Equal(t, domain.VerdictPass, v.Verdict)

	// unexpected connections never take flow properties
	other := domain.NewIPFlow(testEvidence(), deviceEnd(40002), backendEnd(8080), domain.ProtocolTCP).
		WithProperty(key, domain.VerdictValue{Verdict: domain.VerdictPass})
	bad := insp.Connection(other)
	_, ok = bad.Properties[key]
	assert.False(t, ok)
}

func TestNamePromotesTolerablePeers(t *testing.T) {
	b := domain.NewSystemBuilder("Test")
	mobile := b.Mobile("App")
	system := b.System()
	insp := New(system, nil)

	// a mobile may look up any name, the host is tolerated as external
	event := domain.NewNameEvent(testEvidence(), nil, domain.DNSName{Name: "cdn.example.com"},
		domain.MustParseIP("9.9.9.9"), mobile.Host())
	h := insp.Name(event)
	require.NotNil(t, h)
	assert.Equal(t, domain.StatusExternal, h.Status)
	assert.True(t, h.HasAddress(domain.DNSName{Name: "cdn.example.com"}))
}

func TestNameFailsRestrictedPeers(t *testing.T) {
	b := domain.NewSystemBuilder("Test")
	device := b.Device("Camera").IP("192.168.0.10")
	system := b.System()
	insp := New(system, nil)

	// a banned device asking for an unknown name is a failure
	event := domain.NewNameEvent(testEvidence(), nil, domain.DNSName{Name: "evil.example.com"},
		domain.MustParseIP("9.9.9.9"), device.Host())
	h := insp.Name(event)
	require.NotNil(t, h)
	assert.Equal(t, domain.StatusUnexpected, h.Status)
	assert.Equal(t, domain.VerdictFail, h.ExpectedOrIncon())
}

func TestNameForDeclaredHost(t *testing.T) {
	system, _, svc, _ := declaredSystem()
	insp := New(system, nil)

	name := domain.DNSName{Name: "backend.example.com"}
	h := insp.Name(domain.NewNameEvent(testEvidence(), nil, name, domain.MustParseIP("8.8.8.8")))
	require.Same(t, svc.Parent, h)
	assert.True(t, h.HasAddress(name))
	assert.Equal(t, domain.StatusExpected, h.Status)
}

func TestPropertyUpdateGating(t *testing.T) {
	system, device, _, _ := declaredSystem()
	insp := New(system, nil)
	key := domain.NewPropertyKey("check", "firmware")

	got := insp.PropertyUpdate(domain.NewPropertyEvent(testEvidence(), device, key,
		domain.VerdictValue{Verdict: domain.VerdictPass}))
	require.Same(t, domain.ModelEntity(device), got)
	assert.Contains(t, device.Properties, key)

	// model keys must be declared in the model
	got = insp.PropertyUpdate(domain.NewPropertyEvent(testEvidence(), device, domain.KeyAuthenticationData,
		domain.VerdictValue{Verdict: domain.VerdictPass}))
	assert.Nil(t, got, "undeclared model property is dropped")

	// unexpected entities take no properties
	stray, _ := system.GetEndpoint(domain.MustParseIP("192.168.0.99")).(*domain.Host)
	insp.PropertyUpdate(domain.NewPropertyEvent(testEvidence(), stray, key,
		domain.VerdictValue{Verdict: domain.VerdictPass}))
	assert.NotContains(t, stray.Properties, key)
}

func TestPropertyAddressUpdate(t *testing.T) {
	system, device, _, _ := declaredSystem()
	insp := New(system, nil)
	key := domain.NewPropertyKey("check", "firmware")

	got := insp.PropertyAddressUpdate(domain.NewPropertyAddressEvent(testEvidence(),
		domain.MustParseIP("192.168.0.10"), key, domain.VerdictValue{Verdict: domain.VerdictPass}))
	require.Same(t, domain.ModelEntity(device), got)
	assert.Contains(t, device.Properties, key)
	assert.Equal(t, domain.VerdictPass, device.ExpectedOrIncon(), "the address update marks the host seen")
}

func TestServiceScan(t *testing.T) {
	system, _, svc, _ := declaredSystem()
	insp := New(system, nil)

	scan := domain.NewServiceScan(testEvidence(),
		domain.NewEndpointAddress(domain.MustParseIP("8.8.8.8"), domain.ProtocolTLS, 443), "tls server")
	got := insp.ServiceScan(scan)
	require.Same(t, svc, got)
	assert.Equal(t, domain.VerdictPass, svc.ExpectedOrIncon())
}

func TestHostScanClosesTheWorld(t *testing.T) {
	b := domain.NewSystemBuilder("Test")
	device := b.Device("Camera").IP("192.168.0.10")
	ssh := device.Service(domain.ProtocolTCP, 22)
	web := device.Service(domain.ProtocolTCP, 80)
	system := b.System()
	insp := New(system, nil)

	// the scan sees port 80 but not port 22
	scan := domain.NewHostScan(testEvidence(), domain.MustParseIP("192.168.0.10"),
		[]domain.EndpointAddress{
			domain.NewEndpointAddress(domain.MustParseIP("192.168.0.10"), domain.ProtocolTCP, 80),
		})
	got := insp.HostScan(scan)
	require.Same(t, device.Host(), got)

	assert.Equal(t, domain.VerdictFail, ssh.Service().ExpectedOrIncon(), "declared service missing from scan")
	assert.Equal(t, domain.VerdictIncon, web.Service().ExpectedOrIncon(), "present service stays open")
}

func TestResetClearsEvidence(t *testing.T) {
	system, device, _, conn := declaredSystem()
	insp := New(system, nil)
	ev := testEvidence()

	flow := domain.NewIPFlow(ev, deviceEnd(40001), backendEnd(443), domain.ProtocolTLS)
	insp.Connection(flow)
	require.Equal(t, domain.VerdictPass, conn.ExpectedOrIncon())

	insp.Reset()
	assert.Equal(t, domain.VerdictIncon, conn.ExpectedOrIncon())
	assert.Equal(t, domain.VerdictIncon, device.ExpectedOrIncon())

	// the same flow can be replayed after the reset
	again := insp.Connection(domain.NewIPFlow(ev, deviceEnd(40001), backendEnd(443), domain.ProtocolTLS))
	assert.Same(t, conn, again)
	assert.Equal(t, domain.VerdictPass, conn.ExpectedOrIncon())
}
