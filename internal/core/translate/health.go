package translate

import (
	"fmt"
	"strings"
	"time"

	"github.com/artpar/stevedore/internal/core/compose"
)

// =============================================================================
// Health Checks
// =============================================================================

// Engine defaults applied by the runtime to unset health check fields.
const (
	DefaultHealthInterval = 30 * time.Second
	DefaultHealthTimeout  = 30 * time.Second
	DefaultHealthRetries  = 3
)

// minHealthDuration is the smallest non-zero duration the engine accepts.
const minHealthDuration = time.Millisecond

// Health check mode tags.
const (
	TestNone     = "NONE"
	TestCmd      = "CMD"
	TestCmdShell = "CMD-SHELL"
)

// EngineHealthCheck is the engine form of compose.HealthCheck. Zero fields
// mean the engine default.
type EngineHealthCheck struct {
	Test          []string
	Interval      time.Duration
	Timeout       time.Duration
	StartPeriod   time.Duration
	StartInterval time.Duration
	Retries       int
}

// Disabled reports whether the check turns off an image-defined health check.
func (h EngineHealthCheck) Disabled() bool {
	return len(h.Test) > 0 && h.Test[0] == TestNone
}

// HealthCheck validates and translates a declared health check. A nil input
// yields nil.
func HealthCheck(hc *compose.HealthCheck) (*EngineHealthCheck, error) {
	if hc == nil {
		return nil, nil
	}
	if len(hc.Test) == 0 {
		return nil, &InvalidHealthCheck{Reason: "test is empty"}
	}

	test := append([]string(nil), hc.Test...)
	switch test[0] {
	case TestNone:
		if len(test) != 1 {
			return nil, &InvalidHealthCheck{Reason: "NONE takes no arguments"}
		}
		return &EngineHealthCheck{Test: test}, nil
	case TestCmd:
		if len(test) < 2 {
			return nil, &InvalidHealthCheck{Reason: "CMD requires a command"}
		}
	case TestCmdShell:
		if len(test) < 2 {
			return nil, &InvalidHealthCheck{Reason: "CMD-SHELL requires a command"}
		}
		test = []string{TestCmdShell, strings.Join(test[1:], " ")}
	default:
		return nil, &InvalidHealthCheck{Reason: fmt.Sprintf("unknown test mode %q, expected CMD, CMD-SHELL or NONE", test[0])}
	}

	out := &EngineHealthCheck{
		Test:          test,
		Interval:      hc.Interval,
		Timeout:       hc.Timeout,
		StartPeriod:   hc.StartPeriod,
		StartInterval: hc.StartInterval,
	}
	if hc.Retries != nil {
		if *hc.Retries < 0 {
			return nil, &InvalidHealthCheck{Reason: fmt.Sprintf("retries must be non-negative, got %d", *hc.Retries)}
		}
		out.Retries = *hc.Retries
	}

	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"interval", out.Interval},
		{"timeout", out.Timeout},
		{"start_period", out.StartPeriod},
		{"start_interval", out.StartInterval},
	} {
		name, d := f.name, f.d
		if d < 0 || (d > 0 && d < minHealthDuration) {
			return nil, &InvalidHealthCheck{Reason: fmt.Sprintf("%s %s is below %s", name, d, minHealthDuration)}
		}
	}
	return out, nil
}

// HealthGateDeadline is how long a deployment waits for a container to report
// healthy: start_period + interval * retries, using engine defaults for unset
// interval and retries.
func HealthGateDeadline(h EngineHealthCheck) time.Duration {
	interval := h.Interval
	if interval == 0 {
		interval = DefaultHealthInterval
	}
	retries := h.Retries
	if retries == 0 {
		retries = DefaultHealthRetries
	}
	return h.StartPeriod + interval*time.Duration(retries)
}
