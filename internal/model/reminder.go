package model

import "time"

const ReminderCollection = "status_reminders"

// StatusReminder tracks idle nudges for one user's active session.
type StatusReminder struct {
	UserID           string     `bson:"user_id" json:"user_id"`
	Username         string     `bson:"username" json:"username"`
	SessionID        string     `bson:"session_id" json:"session_id"`
	ReminderCount    int        `bson:"reminder_count" json:"reminder_count"`
	IsActive         bool       `bson:"is_active" json:"is_active"`
	Timezone         string     `bson:"timezone,omitempty" json:"timezone,omitempty"`
	LastReminderSent *time.Time `bson:"last_reminder_sent,omitempty" json:"last_reminder_sent,omitempty"`
	LastStatusUpdate *time.Time `bson:"last_status_update,omitempty" json:"last_status_update,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
}
