package reliability

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileBackedDB(t *testing.T) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Conn().Exec(`CREATE TABLE trades (id INTEGER PRIMARY KEY, symbol TEXT)`)
	require.NoError(t, err)
	_, err = db.Conn().Exec(`INSERT INTO trades (symbol) VALUES ('KO')`)
	require.NoError(t, err)

	return db
}

func TestNewBackupService_RequiresBucket(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})

	_, err := NewBackupService(context.Background(), newFileBackedDB(t), Config{}, log)
	assert.Error(t, err)
}

func TestBackupService_SnapshotProducesConsistentCopy(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	db := newFileBackedDB(t)

	svc, err := NewBackupService(context.Background(), db, Config{
		Bucket:    "backups",
		AccessKey: "test",
		SecretKey: "test",
	}, log)
	require.NoError(t, err)

	snapshotPath := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, svc.snapshot(context.Background(), snapshotPath))

	info, err := os.Stat(snapshotPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// The snapshot is a standalone database with the same rows
	copy, err := database.New(database.Config{
		Path:    snapshotPath,
		Profile: database.ProfileCache,
		Name:    "snapshot",
	})
	require.NoError(t, err)
	defer copy.Close()

	var count int
	require.NoError(t, copy.Conn().QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestBackupService_SnapshotOverwritesStaleFile(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	db := newFileBackedDB(t)

	svc, err := NewBackupService(context.Background(), db, Config{
		Bucket:    "backups",
		AccessKey: "test",
		SecretKey: "test",
	}, log)
	require.NoError(t, err)

	snapshotPath := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, os.WriteFile(snapshotPath, []byte("stale"), 0644))

	require.NoError(t, svc.snapshot(context.Background(), snapshotPath))

	info, err := os.Stat(snapshotPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(5))
}
