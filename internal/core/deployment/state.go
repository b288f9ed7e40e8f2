package deployment

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned for a run state change the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid run state transition")

// =============================================================================
// Run State Machine
// =============================================================================

// Phase is the coarse state of a deployment run.
type Phase string

const (
	PhasePlanned       Phase = "planned"
	PhaseNetworksReady Phase = "networks_ready"
	PhaseVolumesReady  Phase = "volumes_ready"
	PhaseDeploying     Phase = "deploying"
	PhaseHealthGating  Phase = "health_gating"
	PhaseComplete      Phase = "complete"
	PhaseRollingBack   Phase = "rolling_back"
	PhaseFailed        Phase = "failed"
)

// validTransitions defines the allowed phase transitions.
var validTransitions = map[Phase][]Phase{
	PhasePlanned:       {PhaseNetworksReady, PhaseRollingBack, PhaseFailed},
	PhaseNetworksReady: {PhaseVolumesReady, PhaseRollingBack},
	PhaseVolumesReady:  {PhaseDeploying, PhaseRollingBack},
	PhaseDeploying:     {PhaseDeploying, PhaseHealthGating, PhaseComplete, PhaseRollingBack},
	PhaseHealthGating:  {PhaseDeploying, PhaseComplete, PhaseRollingBack},
	PhaseRollingBack:   {PhaseFailed},
	PhaseComplete:      {}, // Terminal state
	PhaseFailed:        {}, // Terminal state
}

// RunState is a phase plus the wave it applies to. Wave is meaningful only
// while deploying or health gating.
type RunState struct {
	Phase Phase
	Wave  int
}

// String renders the state, e.g. "deploying(wave 1)".
func (s RunState) String() string {
	if s.Phase == PhaseDeploying || s.Phase == PhaseHealthGating {
		return fmt.Sprintf("%s(wave %d)", s.Phase, s.Wave)
	}
	return string(s.Phase)
}

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return len(validTransitions[s.Phase]) == 0
}

// Next returns the state after moving to phase to at the given wave.
//
// Beyond the phase table, waves must advance in order:
//   - the first Deploying state is wave 0
//   - HealthGating(i) only follows Deploying(i)
//   - Deploying(i+1) follows Deploying(i) or HealthGating(i)
//
// Example:
//
//	s := RunState{Phase: PhasePlanned}
//	s, err := s.Next(PhaseNetworksReady, 0)
func (s RunState) Next(to Phase, wave int) (RunState, error) {
	if !slices.Contains(validTransitions[s.Phase], to) {
		return s, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s, to)
	}

	next := RunState{Phase: to, Wave: s.Wave}
	switch to {
	case PhaseDeploying:
		want := 0
		if s.Phase == PhaseDeploying || s.Phase == PhaseHealthGating {
			want = s.Wave + 1
		}
		if wave != want {
			return s, fmt.Errorf("%w: %s → %s(wave %d), expected wave %d", ErrInvalidTransition, s, to, wave, want)
		}
		next.Wave = wave
	case PhaseHealthGating:
		if wave != s.Wave {
			return s, fmt.Errorf("%w: %s → %s(wave %d)", ErrInvalidTransition, s, to, wave)
		}
		next.Wave = wave
	}
	return next, nil
}
