package models

type NextState struct {
	Name      string // Name of the state
	ActionLog string // Additional information about the state, written to the action log
	Reason    string // Human readable disposition, stored on the execution when Name is terminal
}
