package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShippedMigrationsLoadInOrder(t *testing.T) {
	migrations, err := LoadMigrations(filepath.Join("..", "..", "db", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Number, "migration numbers must be contiguous")
		assert.FileExists(t, m.Up)
		assert.FileExists(t, m.Down)
	}
	last := migrations[len(migrations)-1]
	assert.Equal(t, "0004_quote_counters.up.sql", last.Version())
}

func writeMigrationFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	return dir
}

func TestLoadMigrationsPairsScripts(t *testing.T) {
	dir := writeMigrationFiles(t,
		"0002_tags.down.sql", "0002_tags.up.sql",
		"0010_late.up.sql", "0010_late.down.sql",
		"0001_init.up.sql", "0001_init.down.sql",
		"README.md", "notes.sql",
	)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.up.sql"), 0o755))

	migrations, err := LoadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{migrations[0].Number, migrations[1].Number, migrations[2].Number})
	assert.Equal(t, filepath.Join(dir, "0002_tags.down.sql"), migrations[1].Down)
	assert.Equal(t, "0010_late.up.sql", migrations[2].Version())
}

func TestLoadMigrationsRejectsBrokenSets(t *testing.T) {
	cases := map[string][]string{
		"missing down":  {"0001_init.up.sql"},
		"missing up":    {"0001_init.down.sql"},
		"reused number": {"0001_init.up.sql", "0001_init.down.sql", "0001_other.up.sql", "0001_other.down.sql"},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMigrations(writeMigrationFiles(t, files...))
			assert.Error(t, err)
		})
	}
}

func TestRollbackNeedsAStep(t *testing.T) {
	_, err := NewMigrator(nil, t.TempDir(), nil).Down(t.Context(), 0)
	assert.Error(t, err)
}
