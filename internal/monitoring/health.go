package monitoring

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a point-in-time snapshot of this process's resource
// usage, adapted from the teacher's handleHealth CPU/memory reads
// (handlers_http.go). It is pure observability — nothing here rejects
// requests or throttles work; see DESIGN.md for why admission control
// was dropped along with the teacher's rate limiter.
type ProcessStats struct {
	CPUPercent float64
	MemoryMB   float64
}

// ReadProcessStats samples the current process's CPU% and resident
// memory. Errors are swallowed into a zero-value snapshot, matching
// the teacher's posture that health reporting must never itself be a
// source of request failure.
func ReadProcessStats() ProcessStats {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}
	}

	cpuPercent, _ := proc.CPUPercent()
	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		return ProcessStats{CPUPercent: cpuPercent}
	}

	return ProcessStats{
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024.0 / 1024.0,
	}
}
