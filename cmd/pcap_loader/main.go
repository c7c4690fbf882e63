// Command pcap_loader imports capture files into a flowmap event
// database offline, so the hub can replay them later.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/lcalzada-xor/flowmap/internal/adapters/pcapfile"
	"github.com/lcalzada-xor/flowmap/internal/adapters/statement"
	"github.com/lcalzada-xor/flowmap/internal/adapters/storage"
	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/services/eventlog"
	"github.com/lcalzada-xor/flowmap/internal/core/services/inspector"
	"github.com/lcalzada-xor/flowmap/internal/core/services/registry"
	"github.com/lcalzada-xor/flowmap/internal/telemetry"
)

func main() {
	dbPath := flag.String("db", "flowmap.db", "Path to SQLite event database")
	statementPath := flag.String("statement", "", "Path to the security statement YAML")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [-db path] [-statement path] capture.pcap...\n", os.Args[0])
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)
	telemetry.InitMetrics()

	if err := run(*dbPath, *statementPath, flag.Args()); err != nil {
		slog.Error("Import failed", "error", err)
		os.Exit(1)
	}
}

func run(dbPath, statementPath string, paths []string) error {
	system := domain.NewSystem("Unnamed system")
	if statementPath != "" {
		var err error
		if system, err = statement.LoadFile(statementPath); err != nil {
			return fmt.Errorf("load statement: %w", err)
		}
	}

	db, err := storage.NewEventDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("open event database: %w", err)
	}
	defer db.Close()

	// The full pipeline runs so DNS traffic resolves to name events,
	// the journal records everything as it applies.
	logging := eventlog.New(inspector.New(system, nil), nil)
	reg := registry.New(logging, nil).WithJournal(db)

	reader := pcapfile.New(reg, nil)
	for _, path := range paths {
		source, n, err := reader.ImportFile(path)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		slog.Info("Imported capture", "path", path, "frames", n, "source", source.Label)
	}
	return nil
}
