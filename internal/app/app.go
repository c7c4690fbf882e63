// Package app wires the flowmap components together: declared model,
// core services, persistence, importers and the API server.
package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lcalzada-xor/flowmap/internal/adapters/pcapfile"
	"github.com/lcalzada-xor/flowmap/internal/adapters/reporting"
	"github.com/lcalzada-xor/flowmap/internal/adapters/statement"
	"github.com/lcalzada-xor/flowmap/internal/adapters/storage"
	"github.com/lcalzada-xor/flowmap/internal/adapters/vendordb"
	"github.com/lcalzada-xor/flowmap/internal/adapters/web"
	"github.com/lcalzada-xor/flowmap/internal/config"
	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
	"github.com/lcalzada-xor/flowmap/internal/core/services/eventlog"
	"github.com/lcalzada-xor/flowmap/internal/core/services/inspector"
	"github.com/lcalzada-xor/flowmap/internal/core/services/registry"
	"github.com/lcalzada-xor/flowmap/internal/telemetry"
)

// Application holds the core components of the application. It acts as
// the facade for the whole system, orchestrating services and adapters.
type Application struct {
	Config    *config.Config
	System    *domain.System
	Registry  *registry.Registry
	WebServer *web.Server

	eventDB *storage.EventDatabase
	vendors *vendordb.VendorDatabase
}

// New creates a new Application instance and bootstraps its components.
func New(cfg *config.Config) (*Application, error) {
	app := &Application{Config: cfg}
	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}
	return app, nil
}

// bootstrap orchestrates the initialization sequence.
func (app *Application) bootstrap() error {
	telemetry.InitMetrics()

	if err := app.initModel(); err != nil {
		return err
	}

	logger := slog.Default()
	insp := inspector.New(app.System, logger)
	logging := eventlog.New(insp, logger)
	app.Registry = registry.New(logging, logger)

	if err := app.initStorage(); err != nil {
		return err
	}
	if err := app.initVendorDB(); err != nil {
		log.Printf("Warning: vendor database unavailable: %v", err)
	}

	keys := web.NewAPIKeys()
	if app.Config.APIKey != "" {
		if _, err := keys.Add(app.Config.APIKey); err != nil {
			return err
		}
	} else {
		log.Println("No API key configured, the HTTP API is open")
	}
	app.WebServer = web.NewServer(app.Config.Addr, app.Registry, app.vendorLookup(), keys)
	return nil
}

// initModel loads the declared security statement, or starts with an
// empty model when none is configured.
func (app *Application) initModel() error {
	if app.Config.StatementPath == "" {
		log.Println("No security statement configured, starting with an empty model")
		app.System = domain.NewSystem("Unnamed system")
		return nil
	}
	system, err := statement.LoadFile(app.Config.StatementPath)
	if err != nil {
		return fmt.Errorf("load statement: %w", err)
	}
	log.Printf("Loaded statement %q: %d hosts", system.Name, len(system.Hosts))
	app.System = system
	return nil
}

// initStorage opens the event database and replays the stored trail.
// The journal is attached only after the restore, so restored events
// are not written back.
func (app *Application) initStorage() error {
	if app.Config.NoPersist {
		log.Println("Event persistence disabled")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}
	db, err := storage.NewEventDatabase(app.Config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init event storage: %w", err)
	}
	app.eventDB = db

	count := 0
	err = db.Restore(app.System, func(e domain.Event) {
		app.Registry.Consume(e)
		count++
	})
	if err != nil {
		return fmt.Errorf("restore event trail: %w", err)
	}
	if count > 0 {
		log.Printf("Restored %d events from %s", count, app.Config.DBPath)
	}
	app.Registry.WithJournal(db)
	return nil
}

func (app *Application) initVendorDB() error {
	if app.Config.VendorDBPath == "" {
		return nil
	}
	v, err := vendordb.Open(app.Config.VendorDBPath)
	if err != nil {
		return err
	}
	app.vendors = v
	return nil
}

// vendorLookup avoids handing out a typed nil behind the interface.
func (app *Application) vendorLookup() ports.VendorLookup {
	if app.vendors == nil {
		return nil
	}
	return app.vendors
}

// importCaptures feeds the configured capture files to the registry.
func (app *Application) importCaptures() error {
	if len(app.Config.PcapPaths) == 0 {
		return nil
	}
	reader := pcapfile.New(app.Registry, slog.Default())
	for _, path := range app.Config.PcapPaths {
		source, n, err := reader.ImportFile(path)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		log.Printf("Imported %d frames from %s (source %q)", n, path, source.Label)
	}
	return nil
}

// writeReport renders the verification report to the configured path.
func (app *Application) writeReport() error {
	var report *reporting.Report
	app.Registry.View(func() {
		report = reporting.Build(app.Registry.Logging(), app.vendorLookup())
	})

	if strings.HasSuffix(strings.ToLower(app.Config.ReportPath), ".pdf") {
		data, err := reporting.NewPDFExporter().Export(report)
		if err != nil {
			return err
		}
		return os.WriteFile(app.Config.ReportPath, data, 0644)
	}

	f, err := os.Create(app.Config.ReportPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return reporting.WriteText(f, report)
}

// Run starts the application components and manages their lifecycle.
// In report mode it imports, writes the report and returns without
// serving.
func (app *Application) Run(ctx context.Context) error {
	defer app.cleanup()

	if err := app.importCaptures(); err != nil {
		return err
	}

	if app.Config.ReportPath != "" {
		if err := app.writeReport(); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		log.Printf("Report written to %s", app.Config.ReportPath)
		return nil
	}

	slog.Info("flowmap ready", "addr", app.Config.Addr)
	return app.WebServer.Run(ctx)
}

func (app *Application) cleanup() {
	slog.Info("Cleaning up resources...")
	if app.vendors != nil {
		if err := app.vendors.Close(); err != nil {
			log.Printf("Vendor DB close error: %v", err)
		}
	}
	if app.eventDB != nil {
		if err := app.eventDB.Close(); err != nil {
			log.Printf("Event DB close error: %v", err)
		}
	}
}
