package shuffle

// State represents the step a shuffle or merge workflow is in.
type State int

const (
	StateIdle       State = iota // Not started
	StateFetching                // Reading playlist contents
	StateBackingUp               // Writing backup artifacts
	StateClearing                // Removing every track from the target
	StateReordering              // Drawing shuffle keys for an in-place shuffle
	StateSelecting               // Weighted selection from the sources
	StateWriting                 // Adding the final order to the target
	StateWeighting               // Updating the weight store
	StateDone                    // Finished
	StateFailed                  // Aborted with an error
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateBackingUp:
		return "backing_up"
	case StateClearing:
		return "clearing"
	case StateReordering:
		return "reordering"
	case StateSelecting:
		return "selecting"
	case StateWriting:
		return "writing"
	case StateWeighting:
		return "weighting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
