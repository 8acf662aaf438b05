package model

import (
	"time"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

const (
	SessionCollection      = "checkin_sessions"
	BreakCollection        = "breaks"
	StatusUpdateCollection = "status_updates"
)

type SessionNotes struct {
	Checkin  string `bson:"checkin,omitempty" json:"checkin,omitempty"`
	Checkout string `bson:"checkout,omitempty" json:"checkout,omitempty"`
}

// CheckinSession is one continuous check-in to check-out period.
type CheckinSession struct {
	SessionID         string        `bson:"session_id" json:"session_id"`
	UserID            string        `bson:"user_id" json:"user_id"`
	Username          string        `bson:"username" json:"username"`
	Date              string        `bson:"date" json:"date"` // YYYY-MM-DD
	CheckinTime       time.Time     `bson:"checkin_time" json:"checkin_time"`
	CheckoutTime      *time.Time    `bson:"checkout_time,omitempty" json:"checkout_time,omitempty"`
	Status            SessionStatus `bson:"status" json:"status"`
	TotalBreakTime    int           `bson:"total_break_time" json:"total_break_time"`
	TotalWorkTime     *int          `bson:"total_work_time,omitempty" json:"total_work_time,omitempty"`
	Notes             SessionNotes  `bson:"notes" json:"notes"`
	BreakCount        int           `bson:"break_count" json:"break_count"`
	StatusUpdateCount int           `bson:"status_update_count" json:"status_update_count"`
	LastWorkStatus    string        `bson:"last_work_status,omitempty" json:"last_work_status,omitempty"`
	Timezone          string        `bson:"timezone,omitempty" json:"timezone,omitempty"`
}

type BreakStatus string

const (
	BreakActive    BreakStatus = "active"
	BreakCompleted BreakStatus = "completed"
)

// BreakRecord lives under checkin_sessions/<session>/breaks.
type BreakRecord struct {
	BreakID          string      `bson:"break_id" json:"break_id"`
	SessionID        string      `bson:"session_id" json:"session_id"`
	UserID           string      `bson:"user_id" json:"user_id"`
	Type             BreakType   `bson:"type" json:"type"`
	StartTime        time.Time   `bson:"start_time" json:"start_time"`
	EndTime          *time.Time  `bson:"end_time,omitempty" json:"end_time,omitempty"`
	Duration         *int        `bson:"duration,omitempty" json:"duration,omitempty"`
	ExpectedDuration *int        `bson:"expected_duration,omitempty" json:"expected_duration,omitempty"`
	Notes            string      `bson:"notes,omitempty" json:"notes,omitempty"`
	Status           BreakStatus `bson:"status" json:"status"`
	AutoEndReason    string      `bson:"auto_end_reason,omitempty" json:"auto_end_reason,omitempty"`
}

// StatusUpdate lives under checkin_sessions/<session>/status_updates and is never modified.
type StatusUpdate struct {
	UpdateID       string    `bson:"update_id" json:"update_id"`
	SessionID      string    `bson:"session_id" json:"session_id"`
	UserID         string    `bson:"user_id" json:"user_id"`
	Username       string    `bson:"username" json:"username"`
	Status         string    `bson:"status" json:"status"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	PreviousStatus *string   `bson:"previous_status,omitempty" json:"previous_status,omitempty"`
}
