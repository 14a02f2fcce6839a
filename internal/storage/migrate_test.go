package storage

import (
	"os"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/ephemera/migrations"
)

func TestEmbeddedMigrationsParse(t *testing.T) {
	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.EqualValues(t, 1, first)

	up, name, err := src.ReadUp(first)
	require.NoError(t, err)
	defer up.Close()
	assert.Equal(t, "create_messages", name)

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	down.Close()
}

func TestOnDiskMigrationsMatchEmbedded(t *testing.T) {
	_, err := iofs.New(os.DirFS("../../migrations"), ".")
	require.NoError(t, err)
}

func TestRunMigrationsUnreachableDatabase(t *testing.T) {
	err := RunMigrations("postgres://ephemera:x@127.0.0.1:1/ephemera?sslmode=disable&connect_timeout=1", migrations.FS)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating migrate instance")
}

func TestRunMigrationsUnknownScheme(t *testing.T) {
	err := RunMigrations("nosuchdb://localhost/x", migrations.FS)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating migrate instance")
}
