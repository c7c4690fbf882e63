package vendordb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/flowmap/internal/core/domain"
)

func openTestDB(t *testing.T) *VendorDatabase {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "oui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVendorLookup(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert("AA:BB:CC", "Acme Corporation", "Acme"))

	vendor, ok := db.Vendor(domain.MustParseHW("aa:bb:cc:11:22:33"))
	require.True(t, ok)
	assert.Equal(t, "Acme", vendor, "the short name is preferred")

	// cached lookup gives the same answer
	vendor, ok = db.Vendor(domain.MustParseHW("aa:bb:cc:44:55:66"))
	require.True(t, ok)
	assert.Equal(t, "Acme", vendor)

	_, ok = db.Vendor(domain.MustParseHW("11:22:33:44:55:66"))
	assert.False(t, ok, "unknown prefix")
	_, ok = db.Vendor(domain.MustParseHW("11:22:33:44:55:66"))
	assert.False(t, ok, "the miss is cached too")
}

func TestVendorLongNameFallback(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert("AA:BB:CC", "Acme Corporation", ""))

	vendor, ok := db.Vendor(domain.MustParseHW("aa:bb:cc:11:22:33"))
	require.True(t, ok)
	assert.Equal(t, "Acme Corporation", vendor)
}

func TestVendorSpecialAddresses(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert("FF:FF:FF", "Nobody", ""))

	_, ok := db.Vendor(domain.NullHW)
	assert.False(t, ok, "null has no vendor")
	_, ok = db.Vendor(domain.BroadcastHW)
	assert.False(t, ok, "broadcast has no vendor")
}

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AA:BB:CC", "AA:BB:CC"},
		{"aa:bb:cc", "AA:BB:CC"},
		{"AA-BB-CC", "AA:BB:CC"},
		{"aabbcc", "AA:BB:CC"},
		{"aa.bb.cc", "AA:BB:CC"},
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePrefix(tt.in), tt.in)
	}
}

func TestInsertReplaces(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert("aabbcc", "Old Name", "Old"))

	vendor, _ := db.Vendor(domain.MustParseHW("aa:bb:cc:00:00:01"))
	assert.Equal(t, "Old", vendor)

	// the replacement invalidates the cache entry
	require.NoError(t, db.Insert("aabbcc", "New Name", "New"))
	vendor, _ = db.Vendor(domain.MustParseHW("aa:bb:cc:00:00:01"))
	assert.Equal(t, "New", vendor)
}

func TestClosedDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	_, ok := db.Vendor(domain.MustParseHW("aa:bb:cc:11:22:33"))
	assert.False(t, ok)
	assert.Error(t, db.Insert("AA:BB:CC", "Acme", ""))
	assert.NoError(t, db.Close(), "double close is fine")
}
