package model

import (
	"errors"
	"time"
)

type PresenceState string

const (
	PresenceCheckedOut PresenceState = "checked-out"
	PresenceCheckedIn  PresenceState = "checked-in"
	PresenceOnBreak    PresenceState = "on-break"
	PresenceOffline    PresenceState = "offline"
)

// Active reports whether the state belongs to a running session.
func (s PresenceState) Active() bool {
	return s == PresenceCheckedIn || s == PresenceOnBreak
}

const UserStatusCollection = "user_status"

// UserStatus is the live projection of a user's presence. It is overwritten in place.
type UserStatus struct {
	UserID           string          `bson:"user_id" json:"user_id"`
	Username         string          `bson:"username" json:"username"`
	Status           PresenceState   `bson:"status" json:"status"`
	CurrentSessionID string          `bson:"current_session_id,omitempty" json:"current_session_id,omitempty"`
	LastCheckin      *time.Time      `bson:"last_checkin,omitempty" json:"last_checkin,omitempty"`
	LastCheckout     *time.Time      `bson:"last_checkout,omitempty" json:"last_checkout,omitempty"`
	LastActivity     time.Time       `bson:"last_activity" json:"last_activity"`
	Timezone         string          `bson:"timezone,omitempty" json:"timezone,omitempty"`
	CurrentSession   *CurrentSession `bson:"current_session,omitempty" json:"current_session,omitempty"`
}

// CurrentSession caches the in-progress fields of the active CheckinSession.
type CurrentSession struct {
	CheckinTime       time.Time     `bson:"checkin_time" json:"checkin_time"`
	TotalBreakTime    int           `bson:"total_break_time" json:"total_break_time"`
	CurrentBreak      *CurrentBreak `bson:"current_break,omitempty" json:"current_break,omitempty"`
	CurrentWorkStatus string        `bson:"current_work_status,omitempty" json:"current_work_status,omitempty"`
	StatusUpdateCount int           `bson:"status_update_count" json:"status_update_count"`
}

// CurrentBreak is the projection of the break a user is on right now.
type CurrentBreak struct {
	BreakID          string    `bson:"break_id" json:"break_id"`
	Type             BreakType `bson:"type" json:"type"`
	StartTime        time.Time `bson:"start_time" json:"start_time"`
	ExpectedDuration *int      `bson:"expected_duration,omitempty" json:"expected_duration,omitempty"`
}

// NewCheckedInStatus builds the projection written at check-in.
func NewCheckedInStatus(userID, username, sessionID string, checkinTime time.Time, timezone string, lastCheckout *time.Time) *UserStatus {
	at := checkinTime
	return &UserStatus{
		UserID:           userID,
		Username:         username,
		Status:           PresenceCheckedIn,
		CurrentSessionID: sessionID,
		LastCheckin:      &at,
		LastCheckout:     lastCheckout,
		LastActivity:     checkinTime,
		Timezone:         timezone,
		CurrentSession:   &CurrentSession{CheckinTime: checkinTime},
	}
}

// NewCheckedOutStatus builds a projection with no session attached.
func NewCheckedOutStatus(userID, username string, lastCheckin, lastCheckout *time.Time, lastActivity time.Time, timezone string) *UserStatus {
	return &UserStatus{
		UserID:       userID,
		Username:     username,
		Status:       PresenceCheckedOut,
		LastCheckin:  lastCheckin,
		LastCheckout: lastCheckout,
		LastActivity: lastActivity,
		Timezone:     timezone,
	}
}

// NewOnBreakSession returns a copy of cs with b attached. b must not be nil.
func NewOnBreakSession(cs CurrentSession, b CurrentBreak) *CurrentSession {
	cs.CurrentBreak = &b
	return &cs
}

var (
	ErrProjectionSession = errors.New("current session must be set exactly when a session is active")
	ErrProjectionBreak   = errors.New("current break must be set exactly when on break")
)

// Validate checks the projection invariants between status, session id, session and break.
func (s *UserStatus) Validate() error {
	active := s.Status.Active()
	if active != (s.CurrentSessionID != "") || active != (s.CurrentSession != nil) {
		return ErrProjectionSession
	}
	onBreak := s.Status == PresenceOnBreak
	hasBreak := s.CurrentSession != nil && s.CurrentSession.CurrentBreak != nil
	if onBreak != hasBreak {
		return ErrProjectionBreak
	}
	return nil
}
