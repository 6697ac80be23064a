package health

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReturnsPositiveTotals(t *testing.T) {
	dir := t.TempDir()
	snap, err := Read(filepath.Join(dir, "replicator.db"))
	require.NoError(t, err)

	assert.Equal(t, dir, snap.DiskPath)
	assert.Greater(t, snap.DiskTotalBytes, uint64(0))
	assert.Greater(t, snap.MemTotalBytes, uint64(0))
}

func TestLowDiskSpaceThreshold(t *testing.T) {
	snap := Snapshot{DiskFreeBytes: 100}
	assert.True(t, snap.LowDiskSpace(200))
	assert.False(t, snap.LowDiskSpace(50))
}
