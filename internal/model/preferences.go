package model

import "time"

const PreferencesCollection = "user_preferences"

type UserPreferences struct {
	UserID   string `bson:"user_id" json:"user_id"`
	Timezone string `bson:"timezone,omitempty" json:"timezone,omitempty"`
	// BreakDurations overrides the expected minutes per break type.
	BreakDurations   map[BreakType]int `bson:"break_durations,omitempty" json:"break_durations,omitempty"`
	RemindersEnabled *bool             `bson:"reminders_enabled,omitempty" json:"reminders_enabled,omitempty"`
	UpdatedAt        time.Time         `bson:"updated_at" json:"updated_at"`
}

// RemindersOn reports whether idle reminders should be sent. Unset means on.
func (p *UserPreferences) RemindersOn() bool {
	if p == nil || p.RemindersEnabled == nil {
		return true
	}
	return *p.RemindersEnabled
}
