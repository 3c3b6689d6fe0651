package plan

// =============================================================================
// Run Phases
// =============================================================================

// Phase identifies where a run currently is in its lifecycle.
type Phase string

const (
	PhaseInit           Phase = "init"
	PhaseResolvingPaths Phase = "resolving_paths"
	PhaseInstalling     Phase = "installing_dependencies"
	PhaseBuilding       Phase = "building_artifacts"
	PhaseLaunching      Phase = "launching_containers"
	PhaseHealthChecking Phase = "health_checking"
	PhaseSucceeded      Phase = "succeeded"
	PhaseFailed         Phase = "failed"
)

// Terminal reports whether the phase is a terminal state.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed phase transitions. Phases only move
// forward; the first required failure jumps directly to failed. Skipped
// phases (e.g. --skip-build) still pass through their state so the recorded
// run shows every phase with a skipped outcome.
var validTransitions = map[Phase][]Phase{
	PhaseInit:           {PhaseResolvingPaths, PhaseFailed},
	PhaseResolvingPaths: {PhaseInstalling, PhaseFailed},
	PhaseInstalling:     {PhaseBuilding, PhaseFailed},
	PhaseBuilding:       {PhaseLaunching, PhaseFailed},
	PhaseLaunching:      {PhaseHealthChecking, PhaseFailed},
	PhaseHealthChecking: {PhaseSucceeded, PhaseFailed},
	PhaseSucceeded:      {}, // Terminal state
	PhaseFailed:         {}, // Terminal state
}

// ValidateTransition checks if a phase transition is valid.
func ValidateTransition(from, to Phase) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, p := range allowed {
		if p == to {
			return nil
		}
	}

	return ErrInvalidTransition
}
