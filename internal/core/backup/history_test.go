package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"archivarius/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStoreEmptyLedger(t *testing.T) {
	store := NewHistoryStore()

	entries, err := store.Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistoryStoreAppendAndFind(t *testing.T) {
	store := NewHistoryStore()
	dir := t.TempDir()

	info := types.BackupInfo{
		BackupID:        "backup_20260830_120000",
		Timestamp:       time.Now(),
		BackupType:      types.BackupTypeFull,
		CompressionType: types.CompressionZip,
	}
	require.NoError(t, store.Append(dir, info))

	// Журнал хранится как JSON-массив
	raw, err := os.ReadFile(filepath.Join(dir, HistoryFileName))
	require.NoError(t, err)
	var asArray []map[string]any
	require.NoError(t, json.Unmarshal(raw, &asArray))
	assert.Len(t, asArray, 1)

	found, err := store.Find(dir, info.BackupID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, info.BackupID, found.BackupID)

	missing, err := store.Find(dir, "backup_00000000_000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHistoryStoreRemove(t *testing.T) {
	store := NewHistoryStore()
	dir := t.TempDir()

	require.NoError(t, store.Append(dir, types.BackupInfo{BackupID: "a"}))
	require.NoError(t, store.Append(dir, types.BackupInfo{BackupID: "b"}))

	removed, err := store.Remove(dir, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	entries, err := store.Load(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].BackupID)

	removed, err = store.Remove(dir, "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestHistoryStoreCorruptedLedger(t *testing.T) {
	store := NewHistoryStore()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, HistoryFileName), []byte("не json"), 0644))

	_, err := store.Load(dir)
	assert.Error(t, err)
}

func TestSortedByTime(t *testing.T) {
	now := time.Now()
	entries := []types.BackupInfo{
		{BackupID: "old", Timestamp: now.Add(-2 * time.Hour)},
		{BackupID: "new", Timestamp: now},
		{BackupID: "mid", Timestamp: now.Add(-time.Hour)},
	}

	sorted := SortedByTime(entries)
	assert.Equal(t, []string{"new", "mid", "old"},
		[]string{sorted[0].BackupID, sorted[1].BackupID, sorted[2].BackupID})

	// Исходный срез не изменяется
	assert.Equal(t, "old", entries[0].BackupID)
}
