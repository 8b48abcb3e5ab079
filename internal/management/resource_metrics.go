package management

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/simpx/anyserve/internal/inferencewire"
)

// CollectResourceUsage snapshots the current process's CPU and RSS memory
// usage for attachment to an outgoing Heartbeat. It is called from the
// Worker side (cmd/devworker), not from the Management service itself —
// the Management service only stores whatever a Worker chooses to send.
func CollectResourceUsage(pid int32) (*inferencewire.ResourceUsage, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("management: open process %d: %w", pid, err)
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return nil, fmt.Errorf("management: read cpu percent: %w", err)
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("management: read memory info: %w", err)
	}

	return &inferencewire.ResourceUsage{
		CPUPercent:     cpuPercent,
		MemoryRSSBytes: memInfo.RSS,
	}, nil
}

// hostCPUCount returns the number of logical CPU cores. Nothing in this
// repository calls it; cmd/dispatcher takes its pool bound from
// configuration.
func hostCPUCount() (int, error) {
	counts, err := cpu.Counts(true)
	if err != nil {
		return 0, fmt.Errorf("management: read cpu count: %w", err)
	}
	return counts, nil
}
