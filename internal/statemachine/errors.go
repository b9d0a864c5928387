package statemachine

import "errors"

var (
	// ErrTransitionDenied means the target is not in the current state's allow-list.
	ErrTransitionDenied = errors.New("transition not allowed")

	// ErrUnknownState means the target state is not defined on the machine.
	ErrUnknownState = errors.New("state not defined")
)
