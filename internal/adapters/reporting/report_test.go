package reporting

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/services/eventlog"
	"github.com/lcalzada-xor/flowmap/internal/core/services/inspector"
)

type staticVendors map[string]string

func (v staticVendors) Vendor(address domain.HWAddress) (string, bool) {
	name, ok := v[address.Data]
	return name, ok
}

func verifiedLogger(t *testing.T) *eventlog.EventLogger {
	t.Helper()
	b := domain.NewSystemBuilder("IoT camera setup")
	device := b.Device("Camera").HW("aa:bb:cc:dd:ee:01").IP("192.168.0.10")
	svc := b.Remote("Backend").IP("8.8.8.8").Service(domain.ProtocolTLS, 443)
	device.ConnectTo(svc)

	l := eventlog.New(inspector.New(b.System(), nil), nil)
	flow := domain.NewIPFlow(
		domain.Evidence{Source: domain.NewEvidenceSource("capture", "cap.pcap", "")},
		domain.FlowEnd{HW: domain.MustParseHW("aa:bb:cc:dd:ee:01"), IP: domain.MustParseIP("192.168.0.10"), Port: 40001},
		domain.FlowEnd{HW: domain.MustParseHW("02:00:00:00:00:99"), IP: domain.MustParseIP("8.8.8.8"), Port: 443},
		domain.ProtocolTLS)
	l.Connection(flow)
	l.Connection(flow.ReverseFlow())
	return l
}

func TestBuild(t *testing.T) {
	l := verifiedLogger(t)
	vendors := staticVendors{"aa:bb:cc:dd:ee:01": "Acme"}
	r := Build(l, vendors)

	assert.Equal(t, "IoT camera setup", r.SystemName)
	assert.Equal(t, domain.VerdictPass, r.Verdict)
	assert.False(t, r.GeneratedAt.IsZero())
	assert.Equal(t, []string{"capture"}, r.Sources)

	require.Len(t, r.Hosts, 2)
	byName := make(map[string]HostReport)
	for _, h := range r.Hosts {
		byName[h.Name] = h
	}
	camera := byName["Camera"]
	assert.Equal(t, domain.VerdictPass, camera.Verdict)
	assert.Equal(t, "Acme", camera.Vendor)

	backend := byName["Backend"]
	require.Len(t, backend.Services, 1)
	assert.Equal(t, "TLS:443", backend.Services[0].Name)
	assert.Equal(t, domain.VerdictPass, backend.Services[0].Verdict)

	require.Len(t, r.Connections, 1)
	assert.Equal(t, "Camera", r.Connections[0].Source)
	assert.Equal(t, "Backend TLS:443", r.Connections[0].Target)
	assert.Equal(t, domain.VerdictPass, r.Connections[0].Verdict)
	assert.Equal(t, 2, r.Connections[0].Flows, "request and reply both counted")
}

func TestBuildWithoutEvidence(t *testing.T) {
	b := domain.NewSystemBuilder("Empty")
	b.Device("Camera")
	l := eventlog.New(inspector.New(b.System(), nil), nil)

	r := Build(l, nil)
	assert.Equal(t, domain.VerdictIncon, r.Verdict, "nothing observed, nothing concluded")
	require.Len(t, r.Hosts, 1)
	assert.Empty(t, r.Hosts[0].Vendor)
	assert.Empty(t, r.Sources)
}

func TestWriteText(t *testing.T) {
	l := verifiedLogger(t)
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, Build(l, nil)))

	text := buf.String()
	assert.Contains(t, text, "IoT camera setup")
	assert.Contains(t, text, "Camera")
	assert.Contains(t, text, "Backend")
	assert.Contains(t, text, "TLS:443")
}

func TestPDFExport(t *testing.T) {
	l := verifiedLogger(t)
	data, err := NewPDFExporter().Export(Build(l, nil))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")), "PDF magic header")
	assert.Greater(t, len(data), 500)
}
