// Package monitor samples host resource usage so updates can be deferred
// while the board is under load. A refresh on a starved Pi Zero takes long
// enough to show visible ghosting.
package monitor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// Stats is a point-in-time snapshot of host load.
type Stats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	// TempC is the SoC temperature in Celsius, 0 if unavailable.
	TempC float64 `json:"temp_c"`
}

// Limits are the thresholds above which an update should wait.
type Limits struct {
	MaxCPUPercent float64
	MaxMemPercent float64
}

// Sample measures CPU over a short window plus current memory pressure.
func Sample(ctx context.Context) (*Stats, error) {
	percents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return nil, fmt.Errorf("monitor: sampling cpu: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitor: reading memory: %w", err)
	}

	s := &Stats{
		MemPercent: vm.UsedPercent,
		TempC:      readSoCTemp(),
	}
	if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	return s, nil
}

// Exceeds reports whether the snapshot is over either limit.
// A zero limit disables that check.
func (s *Stats) Exceeds(l Limits) bool {
	if l.MaxCPUPercent > 0 && s.CPUPercent > l.MaxCPUPercent {
		return true
	}
	if l.MaxMemPercent > 0 && s.MemPercent > l.MaxMemPercent {
		return true
	}
	return false
}

// WaitUntilIdle polls until the host drops under the limits or the context
// ends. Returns the last snapshot taken either way.
func WaitUntilIdle(ctx context.Context, l Limits, interval time.Duration) (*Stats, error) {
	for {
		s, err := Sample(ctx)
		if err != nil {
			return nil, err
		}
		if !s.Exceeds(l) {
			return s, nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// readSoCTemp reads the Pi SoC temperature from sysfs, in millidegrees.
func readSoCTemp() float64 {
	data, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return 0
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return float64(milli) / 1000.0
}
