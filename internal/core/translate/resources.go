package translate

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/artpar/stevedore/internal/core/compose"
)

// =============================================================================
// Resource Limits
// =============================================================================

// EngineResources is the engine form of compose.ResourceLimits. Zero fields
// are unset. MemorySwap is -1 for unlimited swap.
type EngineResources struct {
	NanoCPUs          int64
	Memory            int64
	MemorySwap        int64
	MemoryReservation int64
	CPUShares         int64
	CpusetCPUs        string
}

// cpusetRegex matches CPU lists such as "0", "0-3" or "0,2-4".
var cpusetRegex = regexp.MustCompile(`^\d+(-\d+)?(,\d+(-\d+)?)*$`)

// Resources translates declared limits into engine units. A nil input
// yields the zero value.
func Resources(limits *compose.ResourceLimits) (EngineResources, error) {
	var out EngineResources
	if limits == nil {
		return out, nil
	}

	var err error
	if limits.CPULimit != "" {
		var cpus float64
		if cpus, err = parseCPU("cpu_limit", limits.CPULimit); err != nil {
			return EngineResources{}, err
		}
		out.NanoCPUs = int64(math.Round(cpus * 1e9))
	}

	if limits.MemoryLimit != "" {
		if out.Memory, err = positiveBytes("memory_limit", limits.MemoryLimit); err != nil {
			return EngineResources{}, err
		}
	}

	if limits.MemoryReservation != "" {
		if out.MemoryReservation, err = positiveBytes("memory_reservation", limits.MemoryReservation); err != nil {
			return EngineResources{}, err
		}
	}

	if limits.MemorySwap != "" {
		if strings.TrimSpace(limits.MemorySwap) == "-1" {
			out.MemorySwap = -1
		} else if out.MemorySwap, err = positiveBytes("memory_swap", limits.MemorySwap); err != nil {
			return EngineResources{}, err
		}
		if out.MemorySwap > 0 && out.Memory > 0 && out.MemorySwap < out.Memory {
			return EngineResources{}, &InvalidResourceLimit{
				Field:  "memory_swap",
				Value:  limits.MemorySwap,
				Reason: "must be at least memory_limit (" + FormatByteSize(out.Memory) + ")",
			}
		}
		if out.MemorySwap > 0 && out.Memory == 0 {
			return EngineResources{}, &InvalidResourceLimit{Field: "memory_swap", Value: limits.MemorySwap, Reason: "requires memory_limit"}
		}
	}

	if out.MemoryReservation > 0 && out.Memory > 0 && out.MemoryReservation > out.Memory {
		return EngineResources{}, &InvalidResourceLimit{
			Field:  "memory_reservation",
			Value:  limits.MemoryReservation,
			Reason: "must not exceed memory_limit (" + FormatByteSize(out.Memory) + ")",
		}
	}

	if limits.CPUShares != "" {
		shares, perr := strconv.ParseInt(strings.TrimSpace(limits.CPUShares), 10, 64)
		if perr != nil || shares <= 0 {
			return EngineResources{}, &InvalidResourceLimit{Field: "cpu_shares", Value: limits.CPUShares, Reason: "must be a positive integer"}
		}
		out.CPUShares = shares
	}

	if limits.CpusetCPUs != "" {
		if out.CpusetCPUs, err = parseCpuset(limits.CpusetCPUs); err != nil {
			return EngineResources{}, err
		}
	}

	return out, nil
}

// ParseCPUFraction parses a CPU limit expressed in cores, e.g. "0.5". Only
// positivity is checked; the host core count is unknown here.
func ParseCPUFraction(s string) (float64, error) {
	return parseCPU("", s)
}

func parseCPU(field, s string) (float64, error) {
	cpus, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(cpus) || math.IsInf(cpus, 0) {
		return 0, &InvalidResourceLimit{Field: field, Value: s, Reason: "must be a number"}
	}
	if cpus <= 0 {
		return 0, &InvalidResourceLimit{Field: field, Value: s, Reason: "must be greater than zero"}
	}
	return cpus, nil
}

func positiveBytes(field, s string) (int64, error) {
	n, err := parseByteSize(field, s)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, &InvalidResourceLimit{Field: field, Value: s, Reason: "must be greater than zero"}
	}
	return n, nil
}

func parseCpuset(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !cpusetRegex.MatchString(s) {
		return "", &InvalidResourceLimit{Field: "cpuset_cpus", Value: s, Reason: "expected a list such as 0-2,4"}
	}
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			continue
		}
		a, _ := strconv.Atoi(lo)
		b, _ := strconv.Atoi(hi)
		if a > b {
			return "", &InvalidResourceLimit{Field: "cpuset_cpus", Value: s, Reason: "range " + part + " is reversed"}
		}
	}
	return s, nil
}
