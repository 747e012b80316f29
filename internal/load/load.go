// Package load samples system CPU and memory utilization for the
// dispatcher's optional admission-control check.
package load

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler reports the current system load as a single percentage, the
// higher of instantaneous CPU and memory utilization.
type Sampler struct{}

// NewSampler returns a Sampler. There is no state to construct; it exists as
// a type so dispatch.Manager can depend on an interface-free, easily-faked
// value in tests.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Percent returns max(cpuPercent, memPercent) across the whole machine.
// cpu.Percent(0, false) is a non-blocking, since-last-call reading rather
// than blocking for a fixed sample window.
func (s *Sampler) Percent() (float64, error) {
	cpuPct, err := cpu.Percent(0, false)
	if err != nil {
		return 0, fmt.Errorf("load: cpu percent: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("load: memory stats: %w", err)
	}

	var c float64
	if len(cpuPct) > 0 {
		c = cpuPct[0]
	}
	if vm.UsedPercent > c {
		return vm.UsedPercent, nil
	}
	return c, nil
}
