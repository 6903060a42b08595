package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrSessionAlreadyActive    = errors.New("another session already in progress")
	ErrDuplicateVerification   = errors.New("staff member already verified in this session")
	ErrSessionNotActive        = errors.New("session is not in progress")
	ErrImportNotCompleted      = errors.New("only completed imports can be rolled back")
	ErrImportAlreadyRolledBack = errors.New("import has already been rolled back")
	ErrResolutionExists        = errors.New("discrepancy already has a resolution")
	ErrLocationOutsideStation  = errors.New("GPS location is outside the station boundary")
)

// InvalidTransitionError names the entity, its current state and the attempted action.
type InvalidTransitionError struct {
	Entity string
	Id     int
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %d: current status is %s", e.Action, e.Entity, e.Id, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
