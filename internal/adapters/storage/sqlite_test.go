package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
)

func testFlow(source *domain.EvidenceSource, sourcePort int) *domain.IPFlow {
	return domain.NewIPFlow(domain.Evidence{Source: source, TailRef: ":1"},
		domain.FlowEnd{HW: domain.MustParseHW("aa:bb:cc:dd:ee:01"), IP: domain.MustParseIP("192.168.0.10"), Port: sourcePort},
		domain.FlowEnd{HW: domain.MustParseHW("02:00:00:00:00:99"), IP: domain.MustParseIP("8.8.8.8"), Port: 443},
		domain.ProtocolTLS)
}

func TestRecordAndLoadEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := NewEventDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	source := domain.NewEvidenceSource("capture", "cap.pcap", "")
	require.NoError(t, db.Record(testFlow(source, 40001)))
	require.NoError(t, db.Record(testFlow(source, 40002)))
	require.NoError(t, db.Record(domain.NewHostScan(domain.Evidence{Source: source},
		domain.MustParseIP("192.168.0.10"), nil)))

	records, err := db.LoadEvents()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "ip-flow", records[0].Kind)
	assert.Equal(t, "ip-flow", records[1].Kind)
	assert.Equal(t, "host-scan", records[2].Kind)
	assert.Equal(t, "capture", records[0].SourceName)
	assert.Equal(t, "cap.pcap", records[0].BaseRef)
	assert.Equal(t, ":1", records[0].TailRef)
}

func TestRecordSkipsSessionLocalEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := NewEventDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	b := domain.NewSystemBuilder("Test")
	device := b.Device("Camera").Host()
	event := domain.NewPropertyEvent(domain.Evidence{Source: domain.NewEvidenceSource("s", "", "")},
		device, domain.NewPropertyKey("check", "x"), domain.VerdictValue{Verdict: domain.VerdictPass})

	require.NoError(t, db.Record(event))
	records, err := db.LoadEvents()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := NewEventDatabase(path)
	require.NoError(t, err)

	source := domain.NewEvidenceSource("capture", "cap.pcap", "")
	require.NoError(t, db.Record(testFlow(source, 40001)))
	require.NoError(t, db.Record(domain.NewNameEvent(domain.Evidence{Source: source}, nil,
		domain.DNSName{Name: "backend.example.com"}, domain.MustParseIP("8.8.8.8"))))
	require.NoError(t, db.Close())

	// a fresh process restores the trail from disk
	db, err = NewEventDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	system := domain.NewSystem("Test")
	var events []domain.Event
	require.NoError(t, db.Restore(system, func(e domain.Event) {
		events = append(events, e)
	}))
	require.Len(t, events, 2)

	flow, ok := events[0].(*domain.IPFlow)
	require.True(t, ok)
	assert.Equal(t, "cap.pcap", flow.Evidence().Source.BaseRef)

	name, ok := events[1].(*domain.NameEvent)
	require.True(t, ok)
	assert.Equal(t, "backend.example.com", name.Name.Name)
	assert.Same(t, flow.Evidence().Source, name.Evidence().Source,
		"events of one source share the restored source")
}

func TestAppendEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := NewEventDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	record := ports.EventRecord{
		Kind: "ip-flow", SourceName: "api", BaseRef: "batch-1", Label: "batch-1", TailRef: ":7",
		Data: `{"protocol":"tls","source":{"hw":"aa:bb:cc:dd:ee:01","ip":"192.168.0.10","port":40001},` +
			`"target":{"hw":"02:00:00:00:00:99","ip":"8.8.8.8","port":443}}`,
	}
	require.NoError(t, db.AppendEvent(record))
	require.NoError(t, db.AppendEvent(record), "the source row is reused")

	records, err := db.LoadEvents()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "api", records[0].SourceName)
	assert.Equal(t, ":7", records[1].TailRef)
}

func TestModelOverridePurge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := NewEventDatabase(path)
	require.NoError(t, err)

	model := domain.NewEvidenceSource("statement", "model.yaml", "")
	model.ModelOverride = true
	capture := domain.NewEvidenceSource("capture", "cap.pcap", "")
	require.NoError(t, db.Record(testFlow(model, 40001)))
	require.NoError(t, db.Record(testFlow(capture, 40002)))
	require.NoError(t, db.Close())

	// reopening purges model-override sources and their events
	db, err = NewEventDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	records, err := db.LoadEvents()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "capture", records[0].SourceName)
}
