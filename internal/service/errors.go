package service

import (
	"errors"
	"fmt"

	"presence-bot/internal/model"
)

// AlreadyActiveError is returned by CheckIn when the user already has a running session.
type AlreadyActiveError struct {
	UserID    string
	Status    model.PresenceState
	SessionID string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("user %s is already %s (session %s)", e.UserID, e.Status, e.SessionID)
}

type NotCheckedInError struct {
	UserID string
}

func (e *NotCheckedInError) Error() string {
	return fmt.Sprintf("user %s is not checked in", e.UserID)
}

type AlreadyOnBreakError struct {
	UserID string
	Break  model.BreakType
}

func (e *AlreadyOnBreakError) Error() string {
	return fmt.Sprintf("user %s is already on a %s break", e.UserID, e.Break)
}

type NotOnBreakError struct {
	UserID string
}

func (e *NotOnBreakError) Error() string {
	return fmt.Sprintf("user %s is not on break", e.UserID)
}

type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

type BreakNotFoundError struct {
	SessionID string
	BreakID   string
}

func (e *BreakNotFoundError) Error() string {
	return fmt.Sprintf("break %s not found in session %s", e.BreakID, e.SessionID)
}

// IsStateConflict reports whether err rejects a transition that is invalid for
// the user's current state.
func IsStateConflict(err error) bool {
	var (
		active   *AlreadyActiveError
		notIn    *NotCheckedInError
		onBreak  *AlreadyOnBreakError
		notBreak *NotOnBreakError
	)
	return errors.As(err, &active) || errors.As(err, &notIn) ||
		errors.As(err, &onBreak) || errors.As(err, &notBreak)
}

// IsNotFound reports whether err refers to a session or break that does not exist.
func IsNotFound(err error) bool {
	var (
		session *SessionNotFoundError
		brk     *BreakNotFoundError
	)
	return errors.As(err, &session) || errors.As(err, &brk)
}
