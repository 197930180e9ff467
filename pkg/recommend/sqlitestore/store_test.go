package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outrigger-ai/outrigger/pkg/recommend"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{
		Path:   filepath.Join(t.TempDir(), "state.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	scope := recommend.Scope{TenantID: "t1", WorkspaceID: "w1", AgentID: "a1"}

	loaded, err := store.Load(context.Background(), scope)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	state := recommend.NewAgentState()
	state.Entries["key-1"] = &recommend.StateEntry{
		Accepts: 2,
		Rejects: 1,
		Status:  recommend.EntryStatusPending,
		Score:   0.61,
	}
	state.Preferences = map[string]bool{"resumo": true}
	state.Version = 4
	require.NoError(t, store.Save(context.Background(), scope, state))

	loaded, err = store.Load(context.Background(), scope)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(4), loaded.Version)
	assert.Equal(t, 2, loaded.Entries["key-1"].Accepts)
	assert.Equal(t, recommend.EntryStatusPending, loaded.Entries["key-1"].Status)
	assert.True(t, loaded.Preferences["resumo"])
}

func TestStoreUpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	scope := recommend.Scope{TenantID: "t1", WorkspaceID: "w1", AgentID: "a1"}

	first := recommend.NewAgentState()
	first.Version = 1
	require.NoError(t, store.Save(context.Background(), scope, first))

	second := recommend.NewAgentState()
	second.Entries["k"] = &recommend.StateEntry{Accepts: 1, Status: recommend.EntryStatusAdopted, Adopted: true}
	second.Version = 2
	require.NoError(t, store.Save(context.Background(), scope, second))

	loaded, err := store.Load(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.True(t, loaded.Entries["k"].Adopted)
}

func TestStoreScopesAreIsolated(t *testing.T) {
	store := newTestStore(t)

	a := recommend.Scope{TenantID: "t1", WorkspaceID: "w1", AgentID: "agent-a"}
	b := recommend.Scope{TenantID: "t1", WorkspaceID: "w1", AgentID: "agent-b"}

	state := recommend.NewAgentState()
	state.Version = 9
	require.NoError(t, store.Save(context.Background(), a, state))

	loaded, err := store.Load(context.Background(), b)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreRequiresPath(t *testing.T) {
	_, err := New(Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}
