package pg

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	migrations "github.com/dropDatabas3/cfihub/migrations/postgres"
)

func TestParseMigrations_OrdersAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0002_more.sql": {Data: []byte("SELECT 2;")},
		"sql/0001_init.sql": {Data: []byte("SELECT 1;")},
		"sql/README.md":     {Data: []byte("ignore")},
	}
	migs, err := ParseMigrations(fsys, "sql")
	require.NoError(t, err)
	require.Len(t, migs, 2)
	require.Equal(t, 1, migs[0].Version)
	require.Equal(t, "init", migs[0].Name)
	require.Equal(t, "more", migs[1].Name)
}

func TestParseMigrations_Embedded(t *testing.T) {
	migs, err := ParseMigrations(migrations.FS, migrations.Dir)
	require.NoError(t, err)
	require.NotEmpty(t, migs)
	require.Contains(t, migs[0].SQL, "generation_tasks")
}
