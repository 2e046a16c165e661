package reports

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Health is the host and dependency status shown to administrators.
type Health struct {
	Status        string            `json:"status"`
	CheckedAt     time.Time         `json:"checkedAt"`
	Uptime        string            `json:"uptime"`
	HostUptime    uint64            `json:"hostUptimeSeconds,omitempty"`
	CPUPercent    float64           `json:"cpuPercent"`
	MemoryTotal   uint64            `json:"memoryTotal,omitempty"`
	MemoryUsed    uint64            `json:"memoryUsed,omitempty"`
	MemoryPercent float64           `json:"memoryPercent"`
	DiskTotal     uint64            `json:"diskTotal,omitempty"`
	DiskUsed      uint64            `json:"diskUsed,omitempty"`
	DiskPercent   float64           `json:"diskPercent"`
	Goroutines    int               `json:"goroutines"`
	HeapAlloc     uint64            `json:"heapAlloc"`
	Dependencies  map[string]string `json:"dependencies"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// SystemHealth samples the host and pings attached dependencies. Sampling
// failures become warnings; a failed ping marks the status degraded.
func (s *Service) SystemHealth(ctx context.Context) Health {
	h := Health{
		Status:       "UP",
		CheckedAt:    s.now().UTC(),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Goroutines:   runtime.NumGoroutine(),
		Dependencies: make(map[string]string),
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	h.HeapAlloc = ms.Alloc

	if pct, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err != nil {
		h.Warnings = append(h.Warnings, "cpu: "+err.Error())
	} else if len(pct) > 0 {
		h.CPUPercent = round2(pct[0])
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		h.Warnings = append(h.Warnings, "memory: "+err.Error())
	} else {
		h.MemoryTotal, h.MemoryUsed, h.MemoryPercent = vm.Total, vm.Used, round2(vm.UsedPercent)
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err != nil {
		h.Warnings = append(h.Warnings, "disk: "+err.Error())
	} else {
		h.DiskTotal, h.DiskUsed, h.DiskPercent = du.Total, du.Used, round2(du.UsedPercent)
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		h.HostUptime = up
	}

	for name, p := range s.pingers {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			h.Dependencies[name] = "DOWN: " + err.Error()
			h.Status = "DEGRADED"
			s.log.WithError(err).WithField("dependency", name).Warn("health ping failed")
			continue
		}
		h.Dependencies[name] = "UP"
	}
	return h
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
