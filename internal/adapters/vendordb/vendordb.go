// Package vendordb resolves hardware address prefixes to vendor names
// from an OUI registry SQLite database.
package vendordb

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
)

// VendorDatabase provides vendor lookup from an OUI registry database.
type VendorDatabase struct {
	db *sql.DB

	mu     sync.RWMutex
	cache  map[string]string
	closed bool

	lookupStmt *sql.Stmt
}

// Open opens the OUI registry database, creating the schema when it
// does not exist.
func Open(path string) (*VendorDatabase, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open vendor db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping vendor db: %w", err)
	}

	v := &VendorDatabase{db: db, cache: make(map[string]string)}
	if err := v.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	stmt, err := db.Prepare("SELECT COALESCE(vendor_short, vendor) FROM oui_registry WHERE prefix = ?")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare lookup: %w", err)
	}
	v.lookupStmt = stmt
	return v, nil
}

func (v *VendorDatabase) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS oui_registry (
		prefix TEXT PRIMARY KEY,
		vendor TEXT NOT NULL,
		vendor_short TEXT,
		last_updated INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_vendor ON oui_registry(vendor);
	`
	if _, err := v.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Vendor resolves a hardware address to its vendor name.
func (v *VendorDatabase) Vendor(address domain.HWAddress) (string, bool) {
	prefix := ouiPrefix(address)
	if prefix == "" {
		return "", false
	}

	v.mu.RLock()
	if v.closed {
		v.mu.RUnlock()
		return "", false
	}
	if vendor, ok := v.cache[prefix]; ok {
		v.mu.RUnlock()
		return vendor, vendor != ""
	}
	v.mu.RUnlock()

	var vendor string
	err := v.lookupStmt.QueryRow(prefix).Scan(&vendor)
	if err != nil {
		vendor = "" // cache the miss too
	}

	v.mu.Lock()
	if !v.closed {
		v.cache[prefix] = vendor
	}
	v.mu.Unlock()
	return vendor, vendor != ""
}

// Insert adds or replaces an OUI registry entry.
func (v *VendorDatabase) Insert(prefix, vendor, vendorShort string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vendor db closed")
	}
	// empty short names stay NULL so the lookup falls back to vendor
	var short any
	if vendorShort != "" {
		short = vendorShort
	}
	_, err := v.db.Exec(`
		INSERT OR REPLACE INTO oui_registry (prefix, vendor, vendor_short, last_updated)
		VALUES (?, ?, ?, ?)
	`, normalizePrefix(prefix), vendor, short, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert oui: %w", err)
	}
	delete(v.cache, normalizePrefix(prefix))
	return nil
}

func (v *VendorDatabase) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	if v.lookupStmt != nil {
		v.lookupStmt.Close()
	}
	return v.db.Close()
}

// ouiPrefix is the upper-case XX:XX:XX prefix of the address.
func ouiPrefix(address domain.HWAddress) string {
	if address.IsNull() || address.IsMulticast() {
		return ""
	}
	if len(address.Data) < 8 {
		return ""
	}
	return strings.ToUpper(address.Data[:8])
}

// normalizePrefix converts a MAC prefix to standard XX:XX:XX format.
func normalizePrefix(prefix string) string {
	prefix = strings.ReplaceAll(prefix, "-", ":")
	prefix = strings.ReplaceAll(prefix, ".", ":")
	prefix = strings.ToUpper(prefix)
	if len(prefix) >= 8 && prefix[2] == ':' && prefix[5] == ':' {
		return prefix[:8]
	}
	if len(prefix) >= 6 && !strings.Contains(prefix, ":") {
		return fmt.Sprintf("%s:%s:%s", prefix[0:2], prefix[2:4], prefix[4:6])
	}
	return prefix
}

// Ensure interface compliance
var _ ports.VendorLookup = (*VendorDatabase)(nil)
