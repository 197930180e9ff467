package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommandHelp(t *testing.T) {
	cmd := GetRootCmd()
	cmd.SetArgs([]string{"serve", "--help"})

	output := &bytes.Buffer{}
	cmd.SetOut(output)

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, output.String(), "Run the Outrigger daemon in the foreground")
}

func TestPIDFileLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "outrigger.pid")

	assert.False(t, isRunning(pidFile))

	require.NoError(t, writePIDFile(pidFile))
	pid, err := readPID(pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// The test process itself is alive
	assert.True(t, isRunning(pidFile))
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "outrigger.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("not a pid"), 0o644))

	_, err := readPID(pidFile)
	assert.Error(t, err)
	assert.False(t, isRunning(pidFile))
}

func TestLoadConfigAppliesLogLevelOverride(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "missing.json")

	origCfg, origLevel := cfgFile, logLevel
	defer func() { cfgFile, logLevel = origCfg, origLevel }()

	cfgFile = cfgPath
	logLevel = "debug"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m3s", formatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "1h0m0s", formatDuration(time.Hour))
}
