package storage

import (
	"log"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// restoreBatch is the number of event rows loaded per query during
// restore.
const restoreBatch = 1000

// SourceModel is the GORM model for evidence sources.
type SourceModel struct {
	ID      uint `gorm:"primaryKey"`
	Name    string
	Label   string `gorm:"index"`
	BaseRef string
	// Model marks a model-override source, purged on startup.
	Model bool
	Data  string // JSON
}

// EventModel is the GORM model for stored events.
type EventModel struct {
	ID       uint   `gorm:"primaryKey"`
	Kind     string `gorm:"index"`
	SourceID uint   `gorm:"index"`
	TailRef  string
	Data     string // JSON
}

// EventDatabase persists the evidence event trail using GORM and
// SQLite.
type EventDatabase struct {
	db *gorm.DB
	// sourceIDs caches the database row id per live source.
	sourceIDs map[*domain.EvidenceSource]uint
}

// NewEventDatabase initializes the database and migrates schema.
// Model-override sources and their events are purged, they are
// rebuilt from the declared model on every run.
func NewEventDatabase(path string) (*EventDatabase, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&SourceModel{}, &EventModel{}); err != nil {
		return nil, err
	}

	d := &EventDatabase{db: db, sourceIDs: make(map[*domain.EvidenceSource]uint)}
	if err := d.purgeModelEvents(); err != nil {
		return nil, err
	}
	return d, nil
}

// purgeModelEvents deletes model-override sources and their events.
func (d *EventDatabase) purgeModelEvents() error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&SourceModel{}).Where("model = ?", true).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("source_id IN ?", ids).Delete(&EventModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&SourceModel{}).Error
	})
}

// Record persists an event as it arrives. Unsupported event kinds are
// skipped silently.
func (d *EventDatabase) Record(event domain.Event) error {
	record, ok, err := EncodeEvent(event)
	if err != nil || !ok {
		return err
	}
	source := event.Evidence().Source
	sourceID, cached := d.sourceIDs[source]
	return d.db.Transaction(func(tx *gorm.DB) error {
		if !cached {
			data, err := EncodeSource(source)
			if err != nil {
				return err
			}
			row := SourceModel{
				Name: source.Name, Label: source.Label, BaseRef: source.BaseRef,
				Model: source.ModelOverride, Data: data,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			sourceID = row.ID
			d.sourceIDs[source] = sourceID
		}
		ev := EventModel{Kind: record.Kind, SourceID: sourceID, TailRef: record.TailRef, Data: record.Data}
		return tx.Create(&ev).Error
	})
}

// AppendEvent persists a pre-encoded event record.
func (d *EventDatabase) AppendEvent(record ports.EventRecord) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var src SourceModel
		err := tx.Where("name = ? AND label = ? AND base_ref = ?",
			record.SourceName, record.Label, record.BaseRef).First(&src).Error
		if err == gorm.ErrRecordNotFound {
			src = SourceModel{Name: record.SourceName, Label: record.Label, BaseRef: record.BaseRef}
			err = tx.Create(&src).Error
		}
		if err != nil {
			return err
		}
		ev := EventModel{Kind: record.Kind, SourceID: src.ID, TailRef: record.TailRef, Data: record.Data}
		return tx.Create(&ev).Error
	})
}

// LoadEvents returns the stored trail in append order.
func (d *EventDatabase) LoadEvents() ([]ports.EventRecord, error) {
	sources, err := d.loadSources()
	if err != nil {
		return nil, err
	}
	var records []ports.EventRecord
	err = d.forEachEvent(func(row EventModel) error {
		src := sources[row.SourceID]
		records = append(records, ports.EventRecord{
			Kind:       row.Kind,
			SourceName: src.Name,
			BaseRef:    src.BaseRef,
			Label:      src.Label,
			TailRef:    row.TailRef,
			Data:       row.Data,
		})
		return nil
	})
	return records, err
}

// Restore decodes the stored trail and feeds each event to consume,
// in append order. Sources are reconstructed once and shared by their
// events so the matcher keeps per-source state intact.
func (d *EventDatabase) Restore(system *domain.System, consume func(domain.Event)) error {
	rows, err := d.loadSources()
	if err != nil {
		return err
	}
	sources := make(map[uint]*domain.EvidenceSource, len(rows))
	for id, row := range rows {
		src := domain.NewEvidenceSource(row.Name, row.BaseRef, row.Label)
		src.ModelOverride = row.Model
		if err := DecodeSource(src, row.Data, system); err != nil {
			return err
		}
		sources[id] = src
	}
	return d.forEachEvent(func(row EventModel) error {
		src, ok := sources[row.SourceID]
		if !ok {
			log.Printf("Warning: event %d references unknown source %d, skipped", row.ID, row.SourceID)
			return nil
		}
		record := ports.EventRecord{Kind: row.Kind, TailRef: row.TailRef, Data: row.Data}
		event, err := DecodeEvent(record, src, system)
		if err != nil {
			return err
		}
		consume(event)
		return nil
	})
}

func (d *EventDatabase) loadSources() (map[uint]SourceModel, error) {
	var rows []SourceModel
	if err := d.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	sources := make(map[uint]SourceModel, len(rows))
	for _, r := range rows {
		sources[r.ID] = r
	}
	return sources, nil
}

// forEachEvent reads event rows in batches, in insertion order.
func (d *EventDatabase) forEachEvent(fn func(row EventModel) error) error {
	var lastID uint
	for {
		var batch []EventModel
		err := d.db.Where("id > ?", lastID).Order("id").Limit(restoreBatch).Find(&batch).Error
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, row := range batch {
			if err := fn(row); err != nil {
				return err
			}
			lastID = row.ID
		}
	}
}

func (d *EventDatabase) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure interface compliance
var _ ports.EventStore = (*EventDatabase)(nil)
