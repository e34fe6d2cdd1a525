package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackupType(t *testing.T) {
	for _, valid := range []string{"full", "incremental", "differential"} {
		parsed, err := ParseBackupType(valid)
		require.NoError(t, err)
		assert.Equal(t, BackupType(valid), parsed)
	}

	_, err := ParseBackupType("snapshot")
	assert.Error(t, err)
}

func TestParseCompressionType(t *testing.T) {
	for _, valid := range []string{"none", "zip", "tar.gz", "tar.bz2"} {
		parsed, err := ParseCompressionType(valid)
		require.NoError(t, err)
		assert.Equal(t, CompressionType(valid), parsed)
	}

	_, err := ParseCompressionType("rar")
	assert.Error(t, err)
}

func TestCompressionExtension(t *testing.T) {
	assert.Equal(t, ".zip", CompressionZip.Extension())
	assert.Equal(t, ".tar.gz", CompressionTarGz.Extension())
	assert.Equal(t, ".tar.bz2", CompressionTarBz2.Extension())
	assert.Equal(t, "", CompressionNone.Extension())
}

func TestNewBackupConfigDefaults(t *testing.T) {
	cfg := NewBackupConfig([]string{"/data"}, "/backups")

	assert.Equal(t, BackupTypeFull, cfg.BackupType)
	assert.Equal(t, CompressionZip, cfg.CompressionType)
	assert.Equal(t, 10, cfg.MaxBackups)
	assert.True(t, cfg.AutoCleanup)
	assert.True(t, cfg.VerifyBackup)
	assert.False(t, cfg.EncryptBackup)
	assert.Equal(t, []string{"*"}, cfg.IncludePatterns)
	assert.Equal(t, DefaultExcludePatterns, cfg.ExcludePatterns)
}

func TestBackupConfigPasswordNotSerialized(t *testing.T) {
	cfg := NewBackupConfig([]string{"/data"}, "/backups")
	cfg.EncryptBackup = true
	cfg.EncryptionPassword = "secret"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestBackupInfoJSONLayout(t *testing.T) {
	size := int64(512)
	info := BackupInfo{
		BackupID:        "backup_20260830_120000",
		Timestamp:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		BackupType:      BackupTypeFull,
		SourcePath:      "/data;/etc",
		BackupPath:      "/backups/backup_20260830_120000.zip",
		CompressionType: CompressionZip,
		FileCount:       3,
		TotalSize:       1024,
		CompressedSize:  &size,
		Encrypted:       false,
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "backup_20260830_120000", decoded["backup_id"])
	assert.Equal(t, "full", decoded["backup_type"])
	assert.Equal(t, "zip", decoded["compression_type"])
	assert.Equal(t, "/data;/etc", decoded["source_path"])
	assert.Equal(t, float64(512), decoded["compressed_size"])
	assert.NotContains(t, decoded, "checksum")
}
