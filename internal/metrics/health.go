package metrics

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthSnapshot is a point-in-time view of process and host resource use.
type HealthSnapshot struct {
	CPUPercent     float64 `json:"cpu_percent"`
	ProcCPUPercent float64 `json:"proc_cpu_percent"`
	MemUsedMB      float64 `json:"mem_used_mb"`
	MemTotalMB     float64 `json:"mem_total_mb"`
	ProcRSSMB      float64 `json:"proc_rss_mb"`
	Goroutines     int     `json:"goroutines"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
}

// CollectHealth samples the host and the current process. Individual probe
// failures leave the corresponding fields zero rather than failing the
// whole snapshot.
func CollectHealth(reg *Registry) *HealthSnapshot {
	snap := &HealthSnapshot{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(reg.Uptime() / time.Second),
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsedMB = float64(vm.Used) / 1024 / 1024
		snap.MemTotalMB = float64(vm.Total) / 1024 / 1024
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			snap.ProcCPUPercent = pct
		}
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			snap.ProcRSSMB = float64(mi.RSS) / 1024 / 1024
		}
	}
	return snap
}
