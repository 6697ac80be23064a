// Package health takes a point-in-time snapshot of host resources so a
// status query or the crash-state sidecar can report more than "still
// running" — disk headroom under the store file and memory pressure are
// the two conditions most likely to turn a long incremental sync into a
// failed one. shirou/gopsutil/v3 is already the teacher's own dependency
// (pulled in transitively); this promotes it to a direct, exercised import.
package health

import (
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ledgersync/replicator/internal/syncerr"
)

const component = "health"

// Snapshot is a single resource reading.
type Snapshot struct {
	DiskPath          string
	DiskTotalBytes    uint64
	DiskFreeBytes     uint64
	DiskUsedPercent   float64
	MemTotalBytes     uint64
	MemAvailableBytes uint64
	MemUsedPercent    float64
}

// Read samples disk usage for the filesystem holding storePath (the
// embedded store file) and overall host memory.
func Read(storePath string) (Snapshot, error) {
	dir := filepath.Dir(storePath)
	du, err := disk.Usage(dir)
	if err != nil {
		return Snapshot{}, syncerr.Wrap(syncerr.KindConfig, component, err, "read disk usage for %s", dir)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Snapshot{}, syncerr.Wrap(syncerr.KindConfig, component, err, "read virtual memory")
	}

	return Snapshot{
		DiskPath:          dir,
		DiskTotalBytes:    du.Total,
		DiskFreeBytes:     du.Free,
		DiskUsedPercent:   du.UsedPercent,
		MemTotalBytes:     vm.Total,
		MemAvailableBytes: vm.Available,
		MemUsedPercent:    vm.UsedPercent,
	}, nil
}

// LowDiskSpace reports whether free space under the store's filesystem has
// dropped below minFreeBytes, the signal a status endpoint surfaces before
// a sync run starts failing on store writes outright.
func (s Snapshot) LowDiskSpace(minFreeBytes uint64) bool {
	return s.DiskFreeBytes < minFreeBytes
}
