package models

type WorkflowState struct {
	Name      string    // Name of the state
	StateType StateType // Type of the state (e.g., Start, Normal, End)
}

// IsTerminal reports whether the state ends the execution.
func (s WorkflowState) IsTerminal() bool {
	return s.StateType == StateEnd || s.StateType == StateError
}
