package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProfile = `
name: suporte
description: agente de suporte
provider: anthropic
model: claude-sonnet
actions:
  - echo
  - classify
max_recommendations: 3
exploration_pct: 0.25
preferences:
  resumo: true
`

func writeProfile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "suporte.yaml", validProfile)

	p, err := NewLoader(dir).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "suporte", p.Name)
	assert.Equal(t, "anthropic", p.Provider)
	assert.Equal(t, []string{"echo", "classify"}, p.Actions)
	assert.Equal(t, 3, p.MaxRecommendations)
	assert.InDelta(t, 0.25, p.ExplorationPct, 1e-9)
	assert.True(t, p.Preferences["resumo"])
}

func TestLoaderRejectsSchemaViolations(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)

	cases := map[string]string{
		"missing-name.yaml":  "provider: anthropic\n",
		"bad-provider.yaml":  "name: x\nprovider: cohere\n",
		"bad-pct.yaml":       "name: x\nexploration_pct: 1.5\n",
		"unknown-field.yaml": "name: x\nsurprise: true\n",
	}
	for file, content := range cases {
		path := writeProfile(t, dir, file, content)
		_, err := loader.LoadFile(path)
		assert.Error(t, err, file)
	}
}

func TestLoaderRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "broken.yaml", "name: [unclosed\n")

	_, err := NewLoader(dir).LoadFile(path)
	assert.Error(t, err)
}

func TestLoadAllSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "good.yaml", "name: good\n")
	writeProfile(t, dir, "bad.yaml", "provider: anthropic\n")
	writeProfile(t, dir, "notes.txt", "not a profile")

	profiles, failures, err := NewLoader(dir).LoadAll()
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
	assert.Contains(t, profiles, "good")
	assert.Len(t, failures, 1)
	assert.Contains(t, failures, "bad.yaml")
}

func TestAllowsAction(t *testing.T) {
	open := &Profile{Name: "open"}
	assert.True(t, open.AllowsAction("anything"))

	restricted := &Profile{Name: "restricted", Actions: []string{"echo"}}
	assert.True(t, restricted.AllowsAction("echo"))
	assert.False(t, restricted.AllowsAction("delete-all"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Put(&Profile{Name: "b"})
	r.Put(&Profile{Name: "a"})

	assert.Equal(t, []string{"a", "b"}, r.List())

	p, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name)

	r.Remove("a")
	_, err = r.Get("a")
	assert.Error(t, err)
}

func TestManagerInitialLoad(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "suporte.yaml", validProfile)
	writeProfile(t, dir, "vendas.yaml", "name: vendas\n")

	m, err := NewManager(Config{Dir: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	assert.Equal(t, []string{"suporte", "vendas"}, m.List())

	p, err := m.Get("suporte")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Provider)
}

func TestManagerHotReload(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "suporte.yaml", "name: suporte\nmodel: first\n")

	m, err := NewManager(Config{Dir: dir, Watch: true, SettleDelay: 20 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	writeProfile(t, dir, "suporte.yaml", "name: suporte\nmodel: second\n")

	require.Eventually(t, func() bool {
		p, err := m.Get("suporte")
		return err == nil && p.Model == "second"
	}, 2*time.Second, 25*time.Millisecond)
}

func TestManagerReloadKeepsPreviousOnInvalidWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "suporte.yaml", "name: suporte\nmodel: first\n")

	m, err := NewManager(Config{Dir: dir, Watch: true, SettleDelay: 20 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("provider: anthropic\n"), 0o644))

	// the invalid write must not evict the previous version
	time.Sleep(200 * time.Millisecond)
	p, err := m.Get("suporte")
	require.NoError(t, err)
	assert.Equal(t, "first", p.Model)
}

func TestManagerRemoveOnDelete(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "suporte.yaml", "name: suporte\n")

	m, err := NewManager(Config{Dir: dir, Watch: true, SettleDelay: 20 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, err := m.Get("suporte")
		return err != nil
	}, 2*time.Second, 25*time.Millisecond)
}
