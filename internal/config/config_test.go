package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/cvmfs/cms.cern.ch/rsync/cms-nanoAOD/jsonpog-integration/", cfg.Veto.POGDir)
	assert.Equal(t, "jetvetomap", cfg.Veto.VetoMapName)
	assert.Equal(t, "auto", cfg.Veto.Mode)
	assert.True(t, cfg.Veto.IsMC)
	assert.Empty(t, cfg.Veto.Profile)
	assert.Equal(t, 4, cfg.Job.Concurrency)
	assert.Equal(t, "out", cfg.Job.OutputDir)
	assert.False(t, cfg.Job.Compress)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
veto:
  profile: jetvetomap2022
  pog_dir: /data/pog
job:
  concurrency: 8
  compress: true
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "jetvetomap2022", cfg.Veto.Profile)
	assert.Equal(t, "/data/pog", cfg.Veto.POGDir)
	assert.Equal(t, 8, cfg.Job.Concurrency)
	assert.True(t, cfg.Job.Compress)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, "out", cfg.Job.OutputDir)
	assert.Equal(t, "jetvetomap", cfg.Veto.VetoMapName)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
veto:
  era: 2017_UL
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("JETVETO_VETO_ERA", "2018_UL")
	t.Setenv("JETVETO_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "2018_UL", cfg.Veto.Era)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("veto: [\n"), 0644))
	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Veto.POGDir = "/data/pog"
	cfg.Veto.Mode = "auto"
	cfg.Job.Concurrency = 4
	cfg.Job.OutputDir = "out"
	return cfg
}

func TestValidateProcess_Profile(t *testing.T) {
	cfg := validDefaults()
	cfg.Veto.Profile = "jetvetomapUL2018"
	assert.NoError(t, cfg.Validate("process"))
}

func TestValidateProcess_EraAndCorrection(t *testing.T) {
	cfg := validDefaults()
	cfg.Veto.Era = "2022_Summer22"
	cfg.Veto.Correction = "Summer22_23Sep2023_RunCD_V1"
	assert.NoError(t, cfg.Validate("process"))

	cfg.Veto.Correction = ""
	err := cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "veto.profile or both veto.era and veto.correction are required")
}

func TestValidateProcess_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Veto.Profile = "jetvetomap2022"

	cfg.Job.Concurrency = 0
	err := cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "job.concurrency must be between 1 and 64")

	cfg.Job.Concurrency = 64
	assert.NoError(t, cfg.Validate("process"))

	cfg.Job.OutputDir = ""
	err = cfg.Validate("process")
	assert.Contains(t, err.Error(), "job.output_dir is required")

	// lookup does not write files
	assert.NoError(t, cfg.Validate("lookup"))
}

func TestValidateMode(t *testing.T) {
	cfg := validDefaults()
	cfg.Veto.Profile = "jetvetomap2022"

	cfg.Veto.Mode = "PerJet"
	assert.NoError(t, cfg.Validate("process"))

	cfg.Veto.Mode = "weekly"
	err := cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "veto.mode")
}

func TestValidateRuns(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("runs")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.path is required")

	cfg.Store.Path = "jetveto.db"
	assert.NoError(t, cfg.Validate("runs"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
