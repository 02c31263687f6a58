package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsPairsAndSorts(t *testing.T) {
	fsys := fstest.MapFS{
		"002_views.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"002_views.down.sql": {Data: []byte("DROP TABLE b;")},
		"001_init.up.sql":    {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"README.md":          {Data: []byte("ignored")},
		"bad.sql":            {Data: []byte("ignored")},
	}

	got, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Version)
	assert.Empty(t, got[0].Down)
	assert.Equal(t, 2, got[1].Version)
	assert.Equal(t, "DROP TABLE b;", got[1].Down)
}

func TestEmbeddedMigrationsRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	files, err := LoadMigrations(Files)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	require.NoError(t, RunMigrations(db, files))
	// Second run is a no-op.
	require.NoError(t, RunMigrations(db, files))

	_, err = db.Exec("SELECT id FROM posts LIMIT 1")
	require.NoError(t, err)

	require.NoError(t, RollbackMigrations(db, files, len(files)))
	_, err = db.Exec("SELECT id FROM posts LIMIT 1")
	assert.Error(t, err)
}
