package pcapfile

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/services/eventlog"
	"github.com/lcalzada-xor/flowmap/internal/core/services/inspector"
	"github.com/lcalzada-xor/flowmap/internal/core/services/registry"
)

var (
	cameraMAC  = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
	gatewayMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x02}
	backendMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x99}
	cameraIP   = net.IP{192, 168, 0, 10}
	gatewayIP  = net.IP{192, 168, 0, 1}
	backendIP  = net.IP{8, 8, 8, 8}
)

// capture builds an in-memory pcap file from serializable packet layers.
type capture struct {
	buf    bytes.Buffer
	writer *pcapgo.Writer
	t      *testing.T
}

func newCapture(t *testing.T) *capture {
	t.Helper()
	c := &capture{t: t}
	c.writer = pcapgo.NewWriter(&c.buf)
	require.NoError(t, c.writer.WriteFileHeader(65536, layers.LinkTypeEthernet))
	return c
}

func (c *capture) packet(l ...gopacket.SerializableLayer) {
	c.t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(c.t, gopacket.SerializeLayers(buf, opts, l...))
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		CaptureLength: len(data),
		Length:        len(data),
	}
	require.NoError(c.t, c.writer.WritePacket(ci, data))
}

func ethernet(src, dst net.HardwareAddr, etherType layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: etherType}
}

func ipv4(src, dst net.IP, protocol layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, IHL: 5, TTL: 64, SrcIP: src, DstIP: dst, Protocol: protocol}
}

func declaredSink() (*registry.Registry, *domain.System) {
	b := domain.NewSystemBuilder("Test")
	camera := b.Device("Camera").HW("aa:bb:cc:dd:ee:01").IP("192.168.0.10")
	gateway := b.Infra("Gateway").HW("aa:bb:cc:dd:ee:02").IP("192.168.0.1")
	dns := gateway.Service(domain.ProtocolDNS, 53)
	backend := b.Remote("Backend").IP("8.8.8.8").Service(domain.ProtocolTCP, 443)
	camera.ConnectTo(dns)
	camera.ConnectTo(backend)
	camera.ConnectTo(b.Broadcast(domain.ProtocolARP, -1))
	system := b.System()
	return registry.New(eventlog.New(inspector.New(system, nil), nil), nil), system
}

func TestImport(t *testing.T) {
	c := newCapture(t)

	// DNS question and the A answer
	c.packet(
		ethernet(cameraMAC, gatewayMAC, layers.EthernetTypeIPv4),
		ipv4(cameraIP, gatewayIP, layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 40000, DstPort: 53},
		&layers.DNS{ID: 1, OpCode: layers.DNSOpCodeQuery, Questions: []layers.DNSQuestion{
			{Name: []byte("backend.example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN},
		}})
	c.packet(
		ethernet(gatewayMAC, cameraMAC, layers.EthernetTypeIPv4),
		ipv4(gatewayIP, cameraIP, layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 53, DstPort: 40000},
		&layers.DNS{ID: 1, QR: true, OpCode: layers.DNSOpCodeQuery, Answers: []layers.DNSResourceRecord{
			{Name: []byte("backend.example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN,
				TTL: 300, IP: backendIP},
		}})

	// TCP connection attempt, the handshake ACK is not a new event
	c.packet(
		ethernet(cameraMAC, backendMAC, layers.EthernetTypeIPv4),
		ipv4(cameraIP, backendIP, layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 40001, DstPort: 443, SYN: true})
	c.packet(
		ethernet(cameraMAC, backendMAC, layers.EthernetTypeIPv4),
		ipv4(cameraIP, backendIP, layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 40001, DstPort: 443, ACK: true})

	// ARP request to the broadcast address
	c.packet(
		ethernet(cameraMAC, net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, layers.EthernetTypeARP),
		&layers.ARP{
			AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
			HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
			SourceHwAddress: cameraMAC, SourceProtAddress: cameraIP.To4(),
			DstHwAddress: make([]byte, 6), DstProtAddress: gatewayIP.To4(),
		})

	sink, system := declaredSink()
	source := domain.NewEvidenceSource("test.pcap", "test.pcap", "")
	frames, err := New(sink, nil).Import(bytes.NewReader(c.buf.Bytes()), source)
	require.NoError(t, err)
	assert.Equal(t, 5, frames)

	// the DNS exchange verified the gateway service and named the backend
	var camera, backend *domain.Host
	for _, h := range system.Hosts {
		switch h.Name {
		case "Camera":
			camera = h
		case "Backend":
			backend = h
		}
	}
	require.NotNil(t, camera)
	require.NotNil(t, backend)
	assert.Equal(t, domain.VerdictPass, camera.ExpectedOrIncon())
	assert.True(t, backend.HasAddress(domain.DNSName{Name: "backend.example.com"}))

	verdicts := make(map[string]domain.Verdict)
	for _, conn := range system.RelevantConnections() {
		verdicts[conn.LongName()] = conn.ExpectedOrIncon()
	}
	assert.Equal(t, domain.VerdictPass, verdicts["Camera => Gateway DNS:53"])
	assert.Equal(t, domain.VerdictPass, verdicts["Camera => Backend TCP:443"])

	assert.Equal(t, domain.VerdictIncon, system.CombinedVerdict(make(domain.VerdictCache)),
		"the backend service never replied, no conclusion yet")
}

func TestImportBadData(t *testing.T) {
	sink, _ := declaredSink()
	source := domain.NewEvidenceSource("bad", "bad", "")
	_, err := New(sink, nil).Import(strings.NewReader("not a capture"), source)
	assert.Error(t, err)
}

func TestImportFileMissing(t *testing.T) {
	sink, _ := declaredSink()
	_, _, err := New(sink, nil).ImportFile("does-not-exist.pcap")
	assert.Error(t, err)
}

func TestEvidenceTailRefCountsFrames(t *testing.T) {
	c := newCapture(t)
	c.packet(
		ethernet(cameraMAC, backendMAC, layers.EthernetTypeIPv4),
		ipv4(cameraIP, backendIP, layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 40001, DstPort: 443, SYN: true})

	sink, _ := declaredSink()
	source := domain.NewEvidenceSource("test.pcap", "test.pcap", "")
	_, err := New(sink, nil).Import(bytes.NewReader(c.buf.Bytes()), source)
	require.NoError(t, err)

	logs := sink.Logging().Logs()
	require.NotEmpty(t, logs)
	assert.Equal(t, "test.pcap:1", logs[0].Event.Evidence().Ref())
}
