// Package pcapfile imports capture files, turning packets into flow
// and name events for the core.
package pcapfile

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
	"github.com/lcalzada-xor/flowmap/internal/telemetry"
)

// Reader imports one capture file into an event sink.
type Reader struct {
	sink   ports.EventSink
	logger *slog.Logger

	source      *domain.EvidenceSource
	frameNumber int
}

// New creates a capture file reader over the sink.
func New(sink ports.EventSink, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{sink: sink, logger: logger.With("component", "pcap")}
}

// ImportFile reads a capture file and feeds its packets to the sink
// as events. It returns the evidence source of the file and the
// number of frames read.
func (r *Reader) ImportFile(path string) (*domain.EvidenceSource, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	name := filepath.Base(path)
	source := domain.NewEvidenceSource(name, name, "")
	n, err := r.Import(f, source)
	return source, n, err
}

// Import reads capture data and feeds its packets to the sink.
func (r *Reader) Import(data io.Reader, source *domain.EvidenceSource) (int, error) {
	reader, err := pcapgo.NewReader(data)
	if err != nil {
		return 0, fmt.Errorf("open capture: %w", err)
	}
	r.source = source
	r.frameNumber = 0

	packets := gopacket.NewPacketSource(reader, reader.LinkType())
	packets.Lazy = true
	packets.NoCopy = true
	for packet := range packets.Packets() {
		r.frameNumber++
		r.source.Timestamp = packet.Metadata().Timestamp
		r.packet(packet)
	}
	return r.frameNumber, nil
}

func (r *Reader) evidence() domain.Evidence {
	return domain.Evidence{Source: r.source, TailRef: fmt.Sprintf(":%d", r.frameNumber)}
}

func (r *Reader) packet(packet gopacket.Packet) {
	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		telemetry.PacketsSkipped.WithLabelValues(r.source.Name, "no-ethernet").Inc()
		return
	}
	telemetry.PacketsImported.WithLabelValues(r.source.Name).Inc()

	srcHW := hwAddress(eth.SrcMAC.String())
	dstHW := hwAddress(eth.DstMAC.String())

	srcIP, dstIP, ipOK, ipProto := ipLayer(packet)
	if !ipOK {
		r.ethernetFrame(packet, eth, srcHW, dstHW)
		return
	}

	timestamp := packet.Metadata().Timestamp
	switch {
	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		flow := domain.NewIPFlow(r.evidence(),
			domain.FlowEnd{HW: srcHW, IP: srcIP, Port: int(udp.SrcPort)},
			domain.FlowEnd{HW: dstHW, IP: dstIP, Port: int(udp.DstPort)},
			domain.ProtocolUDP)
		flow.Timestamp = timestamp
		conn := r.sink.Connection(flow)
		if conn != nil && isDNS(conn.Target, int(udp.SrcPort), int(udp.DstPort)) {
			r.dnsMessage(packet, conn)
		}
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !tcp.SYN {
			return // SYN marks a connection attempt and accepting it
		}
		flow := domain.NewIPFlow(r.evidence(),
			domain.FlowEnd{HW: srcHW, IP: srcIP, Port: int(tcp.SrcPort)},
			domain.FlowEnd{HW: dstHW, IP: dstIP, Port: int(tcp.DstPort)},
			domain.ProtocolTCP)
		flow.Timestamp = timestamp
		r.sink.Connection(flow)
	default:
		// other IP traffic keys by the IP protocol number
		flow := domain.NewIPFlow(r.evidence(),
			domain.FlowEnd{HW: srcHW, IP: srcIP, Port: ipProto},
			domain.FlowEnd{HW: dstHW, IP: dstIP, Port: ipProto},
			domain.ProtocolIP)
		flow.Timestamp = timestamp
		r.sink.Connection(flow)
	}
}

// ethernetFrame handles non-IP traffic, named protocols match by
// protocol and others by the Ethernet payload type.
func (r *Reader) ethernetFrame(packet gopacket.Packet, eth *layers.Ethernet, srcHW, dstHW domain.HWAddress) {
	payload := int(eth.EthernetType)
	protocol := domain.ProtocolEthernet
	if eth.EthernetType == layers.EthernetTypeARP {
		protocol = domain.ProtocolARP
		payload = -1
	}
	flow := domain.NewEthernetFlow(r.evidence(), srcHW, dstHW, payload, protocol)
	flow.Timestamp = packet.Metadata().Timestamp
	r.sink.Connection(flow)
}

// dnsMessage turns DNS questions and address answers into name events.
func (r *Reader) dnsMessage(packet gopacket.Packet, conn *domain.Connection) {
	dns, ok := packet.Layer(layers.LayerTypeDNS).(*layers.DNS)
	if !ok {
		return
	}
	service, _ := conn.Target.(*domain.Service)
	peers := []domain.Addressable{conn.Source, conn.Target}
	evidence := r.evidence()

	var events []*domain.NameEvent
	for _, q := range dns.Questions {
		name := domain.DNSName{Name: string(q.Name)}
		events = append(events, domain.NewNameEvent(evidence, service, name, nil, peers...))
	}
	records := make([]layers.DNSResourceRecord, 0, len(dns.Answers)+len(dns.Authorities)+len(dns.Additionals))
	records = append(records, dns.Answers...)
	records = append(records, dns.Authorities...)
	records = append(records, dns.Additionals...)
	for _, rec := range records {
		if rec.Type != layers.DNSTypeA && rec.Type != layers.DNSTypeAAAA {
			continue
		}
		addr, ok := netip.AddrFromSlice(rec.IP)
		if !ok {
			continue
		}
		name := domain.DNSName{Name: string(rec.Name)}
		ip := domain.IPAddress{Addr: addr.Unmap()}
		events = append(events, domain.NewNameEvent(evidence, service, name, ip, peers...))
	}
	for _, e := range events {
		r.sink.Name(e)
	}
}

// isDNS recognizes DNS traffic by the declared service protocol or,
// for undeclared services, by the well-known ports.
func isDNS(target domain.Addressable, srcPort, dstPort int) bool {
	if s, ok := target.(*domain.Service); ok && s.Protocol == domain.ProtocolDNS {
		return true
	}
	return srcPort == 53 || dstPort == 53 || srcPort == 5353 || dstPort == 5353
}

// ipLayer resolves the network layer addresses and protocol number.
func ipLayer(packet gopacket.Packet) (src, dst domain.IPAddress, ok bool, proto int) {
	if ip4, is := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); is {
		return ipAddress(ip4.SrcIP), ipAddress(ip4.DstIP), true, int(ip4.Protocol)
	}
	if ip6, is := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); is {
		return ipAddress(ip6.SrcIP), ipAddress(ip6.DstIP), true, int(ip6.NextHeader)
	}
	return domain.IPAddress{}, domain.IPAddress{}, false, 0
}

func ipAddress(ip []byte) domain.IPAddress {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return domain.NullIP
	}
	return domain.IPAddress{Addr: addr.Unmap()}
}

func hwAddress(mac string) domain.HWAddress {
	hw, err := domain.ParseHW(mac)
	if err != nil {
		return domain.NullHW
	}
	return hw
}
