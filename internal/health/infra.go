package health

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// InfraProvider reports the infrastructure component in [0,100].
type InfraProvider interface {
	InfraScore(ctx context.Context) (float64, error)
}

type StaticInfra float64

func (s StaticInfra) InfraScore(context.Context) (float64, error) { return float64(s), nil }

type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemInfra scores host headroom (CPU, memory, disk) and store connectivity, averaged.
type SystemInfra struct {
	store    Pinger
	diskPath string
	sample   time.Duration
}

func NewSystemInfra(store Pinger, diskPath string) *SystemInfra {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemInfra{store: store, diskPath: diskPath, sample: 200 * time.Millisecond}
}

func (s *SystemInfra) InfraScore(ctx context.Context) (float64, error) {
	total, err := cpu.PercentWithContext(ctx, s.sample, false)
	if err != nil {
		return 0, fmt.Errorf("cpu usage: %w", err)
	}
	if len(total) == 0 {
		return 0, fmt.Errorf("cpu usage: no samples")
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("memory stats: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", s.diskPath, err)
	}
	connectivity := 100.0
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			connectivity = 0
		}
	}
	scores := []float64{100 - total[0], 100 - vm.UsedPercent, 100 - du.UsedPercent, connectivity}
	var sum float64
	for _, v := range scores {
		sum += clamp(v)
	}
	return sum / float64(len(scores)), nil
}
