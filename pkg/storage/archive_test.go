package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSavePartitionsByDate(t *testing.T) {
	store, err := NewArchiveStore(t.TempDir())
	require.NoError(t, err)

	rel, err := store.Save("quotes_q-1_20260828.csv", []byte("Workshop,Total\n"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(time.Now().UTC().Format("2006-01-02"), "quotes_q-1_20260828.csv"), rel)
}

func TestSaveStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	store, err := NewArchiveStore(dir)
	require.NoError(t, err)

	rel, err := store.Save("../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "passwd", filepath.Base(rel))
	_, err = os.Stat(filepath.Join(dir, rel))
	require.NoError(t, err)
}

func TestPruneRemovesExpiredDays(t *testing.T) {
	dir := t.TempDir()
	store, err := NewArchiveStore(dir)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-72 * time.Hour).Format("2006-01-02")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, old), 0o755))
	recent := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, recent), 0o755))

	removed, err := store.Prune(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(dir, recent))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, old))
	require.True(t, os.IsNotExist(err))
}
