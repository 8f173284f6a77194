// Package cpuspec inspects the host CPU to size inference thread pools.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec describes the parts of the host CPU that matter for inference.
type CPUSpec struct {
	BrandName        string
	PhysicalCores    int
	LogicalCores     int
	PerformanceCores int // 0 when the core layout is unknown or uniform
	Hybrid           bool
	Features         []string // SIMD extensions usable by the XNNPACK kernels
}

var appleChip = regexp.MustCompile(`(?i)apple\s+(m[1-4])\s*(pro|max|ultra)?`)

// GetCPUSpec reads the CPU description from cpuid.
func GetCPUSpec() CPUSpec {
	return newSpec(cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.HYBRID_CPU), simdFeatures())
}

func newSpec(brand string, physical, logical int, hybrid bool, features []string) CPUSpec {
	return CPUSpec{
		BrandName:        brand,
		PhysicalCores:    physical,
		LogicalCores:     logical,
		PerformanceCores: applePerformanceCores(brand),
		Hybrid:           hybrid || applePerformanceCores(brand) > 0,
		Features:         features,
	}
}

// GetOptimalThreadCount returns the recommended inference thread count:
// performance cores when known, otherwise physical cores, never more than
// the CPUs available to this process and never less than one.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()

	threads := c.PerformanceCores
	if threads <= 0 {
		threads = c.PhysicalCores
	}
	if threads <= 0 {
		threads = c.LogicalCores
	}
	if threads <= 0 {
		threads = available
	}
	return max(1, min(threads, available))
}

// applePerformanceCores maps Apple Silicon chips to their P-core count.
// Pro variants ship in two layouts; the larger one is used.
func applePerformanceCores(brand string) int {
	m := appleChip.FindStringSubmatch(brand)
	if m == nil {
		return 0
	}
	chip := strings.ToLower(m[1])
	variant := strings.ToLower(m[2])

	base := map[string]int{"m1": 4, "m2": 4, "m3": 4, "m4": 6}[chip]
	switch variant {
	case "pro":
		if chip == "m4" {
			return 10
		}
		return 8
	case "max":
		if chip == "m1" {
			return 8
		}
		return 12
	case "ultra":
		if chip == "m1" {
			return 16
		}
		return 24
	default:
		return base
	}
}

func simdFeatures() []string {
	var out []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.SSE4, "sse4.1"},
		{cpuid.AVX, "avx"},
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "neon"},
		{cpuid.ASIMDDP, "neon-dotprod"},
	} {
		if cpuid.CPU.Supports(f.id) {
			out = append(out, f.name)
		}
	}
	return out
}
