package companystate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/replicator/pkg/logging"
	"github.com/ledgersync/replicator/pkg/store"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Config{Path: filepath.Join(dir, "replicator.db")}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewRepository(s.DB())
}

func TestGetReturnsNotOkWhenMissing(t *testing.T) {
	r := newTestRepository(t)
	_, ok, err := r.Get("Acme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	r := newTestRepository(t)

	require.NoError(t, r.Upsert(State{
		Company: "Acme", GUID: "guid-1", AlterID: 10,
		LastAlterIDMaster: 10, LastAlterIDTransaction: 5, LastSyncKind: "full",
	}))

	s, ok, err := r.Get("Acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "guid-1", s.GUID)
	assert.Equal(t, int64(10), s.LastAlterIDMaster)
	assert.Equal(t, 1, s.SyncCount)

	require.NoError(t, r.Upsert(State{
		Company: "Acme", LastAlterIDMaster: 15, LastAlterIDTransaction: 8, LastSyncKind: "incremental",
	}))

	s, ok, err = r.Get("Acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "guid-1", s.GUID, "empty guid on the second upsert must not clobber the stored one")
	assert.Equal(t, int64(15), s.LastAlterIDMaster)
	assert.Equal(t, "incremental", s.LastSyncKind)
	assert.Equal(t, 2, s.SyncCount)
}

func TestListOrdersByCompanyName(t *testing.T) {
	r := newTestRepository(t)
	require.NoError(t, r.Upsert(State{Company: "Zeta"}))
	require.NoError(t, r.Upsert(State{Company: "Acme"}))

	states, err := r.List()
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "Acme", states[0].Company)
	assert.Equal(t, "Zeta", states[1].Company)
}
