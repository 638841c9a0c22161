package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsSortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_sales.sql":   {Data: []byte("CREATE TABLE b ();")},
		"m/001_init.sql":    {Data: []byte("CREATE TABLE a ();")},
		"m/README.md":       {Data: []byte("notes")},
		"m/old/000_x.sql":   {Data: []byte("SELECT 1;")},
		"m/003_indexes.sql": {Data: []byte("CREATE INDEX i ON a (id);")},
	}

	all, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "001_init.sql", all[0].version)
	assert.Equal(t, "002_sales.sql", all[1].version)
	assert.Equal(t, "003_indexes.sql", all[2].version)
	assert.Equal(t, "CREATE TABLE a ();", all[0].body)
	assert.Len(t, all[0].checksum, 64)
	assert.NotEqual(t, all[0].checksum, all[1].checksum)
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	all, err := loadMigrations(migrationFiles, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "001_init.sql", all[0].version)
	assert.Contains(t, all[0].body, "idempotency_keys")
}

func TestPendingSkipsAppliedAndRejectsEdits(t *testing.T) {
	all := []migration{
		{version: "001_init.sql", checksum: "aaa"},
		{version: "002_sales.sql", checksum: "bbb"},
		{version: "003_indexes.sql", checksum: "ccc"},
	}

	todo, err := pending(all, map[string]string{"001_init.sql": "aaa", "002_sales.sql": ""})
	require.NoError(t, err)
	require.Len(t, todo, 1)
	assert.Equal(t, "003_indexes.sql", todo[0].version)

	_, err = pending(all, map[string]string{"001_init.sql": "zzz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_init.sql")
}
