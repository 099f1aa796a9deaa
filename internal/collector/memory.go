package collector

import (
	"math"
	"runtime"
	"runtime/debug"
)

// RuntimeGauge measures the live heap against the soft memory limit, or
// against the heap obtained from the OS when no limit is set.
type RuntimeGauge struct{}

func (RuntimeGauge) HeapUsage() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	committed := float64(ms.HeapSys - ms.HeapReleased)
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		committed = float64(limit)
	}
	if committed <= 0 {
		return 0
	}
	return float64(ms.HeapAlloc) / committed
}
