package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrigger-ai/outrigger/internal/config"
)

func TestConfigureWritesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "outrigger.json")

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"configure", "--config", cfgPath})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, 5, cfg.Recommend.MaxRecommendations)
	assert.Equal(t, "anthropic", cfg.Providers.Default)
}

func TestConfigureRefusesOverwrite(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "outrigger.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{}"), 0o600))

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"configure", "--config", cfgPath})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "already exists")

	// --force replaces the file
	cmd = GetRootCmd()
	cmd.SetArgs([]string{"configure", "--config", cfgPath, "--force"})
	cmd.SetOut(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_recommendations")
}
