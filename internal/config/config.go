package config

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Addr          string
	DBPath        string
	StatementPath string
	PcapPaths     []string
	VendorDBPath  string
	ReportPath    string
	APIKey        string
	Debug         bool
	// NoPersist disables the event journal database.
	NoPersist bool
}

// Load parses command line flags and environment variables to populate Config.
// Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{}

	// Defaults and Environment Variables
	cfg.Addr = getEnv("FLOWMAP_ADDR", ":8080")
	cfg.DBPath = getEnv("FLOWMAP_DB", getDefaultDBPath())
	cfg.StatementPath = getEnv("FLOWMAP_STATEMENT", "")
	cfg.VendorDBPath = getEnv("FLOWMAP_VENDOR_DB", "")
	cfg.APIKey = getEnv("FLOWMAP_API_KEY", "")
	cfg.NoPersist = getEnvBool("FLOWMAP_NO_PERSIST", false)
	pcapStr := getEnv("FLOWMAP_PCAP", "")

	// Command Line Flags (Override Env)
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite event database")
	flag.StringVar(&cfg.StatementPath, "statement", cfg.StatementPath, "Path to the security statement YAML")
	flag.StringVar(&pcapStr, "pcap", pcapStr, "Capture file(s) to import (comma separated)")
	flag.StringVar(&cfg.VendorDBPath, "vendor-db", cfg.VendorDBPath, "Path to the OUI vendor SQLite database (empty to disable)")
	flag.StringVar(&cfg.ReportPath, "report", "", "Write a report to the path and exit (.pdf for PDF)")
	flag.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "Static API key for the HTTP API (empty leaves it open)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")
	flag.BoolVar(&cfg.NoPersist, "no-persist", cfg.NoPersist, "Do not persist events to the database")

	flag.Parse()

	cfg.PcapPaths = parseList(pcapStr)

	return cfg
}

func parseList(s string) []string {
	var items []string
	if s == "" {
		return items
	}
	parts := strings.Split(s, ",")
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getDefaultDBPath returns the default database path in user's home directory.
// Creates the directory if it doesn't exist.
func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Warning: Could not get user home directory, using current dir: %v", err)
		return "flowmap.db"
	}

	// Use ~/.flowmap directory
	dir := filepath.Join(home, ".flowmap")

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: Could not create .flowmap directory, using current dir: %v", err)
		return "flowmap.db"
	}

	return filepath.Join(dir, "flowmap.db")
}
