package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "kvcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaultsEngineToHash(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "data_dir: "+dir+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, EngineHash, cfg.Engine)
}

func TestLoadRejectsMissingDataDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "engine: lsm\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadParsesLSMBlock(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
data_dir: `+dir+`
engine: lsm
lsm:
  mem_threshold: 1048576
  max_l0_files: 8
  compression_enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, EngineLSM, cfg.Engine)
	require.Equal(t, 1048576, cfg.LSM.MemThreshold)
	require.Equal(t, 8, cfg.LSM.MaxL0Files)
	require.True(t, cfg.LSM.CompressionEnabled)

	lsmCfg := cfg.LSMStoreConfig()
	require.Equal(t, 1048576, lsmCfg.MemThreshold)
	require.Equal(t, 8, lsmCfg.MaxL0Files)
	require.True(t, lsmCfg.CompressionEnabled)
	// Unset fields fall back to defaults rather than zero values.
	require.NotZero(t, lsmCfg.SstFileSize)
	require.NotZero(t, lsmCfg.BloomFPRate)
}

func TestHashStoreConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "data_dir: "+dir+"\nengine: hash\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	hashCfg := cfg.HashStoreConfig()
	require.Equal(t, dir, hashCfg.DataDir)
	require.NotZero(t, hashCfg.SegmentSizeBytes)
	require.NotZero(t, hashCfg.CompactionThreshold)
}

func TestExternalStoreConfigOverridesFileName(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
data_dir: `+dir+`
engine: external
external:
  file_name: custom.db
  no_sync: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	extCfg := cfg.ExternalStoreConfig()
	require.Equal(t, "custom.db", extCfg.FileName)
	require.True(t, extCfg.NoSync)
}
