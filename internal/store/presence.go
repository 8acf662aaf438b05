package store

import (
	"context"
	"errors"
	"fmt"

	"presence-bot/internal/model"
)

var (
	userStatusPath  = Collection(model.UserStatusCollection)
	sessionPath     = Collection(model.SessionCollection)
	preferencesPath = Collection(model.PreferencesCollection)
	reminderPath    = Collection(model.ReminderCollection)
)

func breaksPath(sessionID string) Path {
	return Sub(model.SessionCollection, sessionID, model.BreakCollection)
}

func updatesPath(sessionID string) Path {
	return Sub(model.SessionCollection, sessionID, model.StatusUpdateCollection)
}

// PresenceStore gives typed access to the presence collections. Lookups of
// missing documents return nil without an error.
type PresenceStore struct {
	docs Provider
}

func NewPresenceStore(docs Provider) *PresenceStore {
	return &PresenceStore{docs: docs}
}

func get[T any](ctx context.Context, docs Provider, p Path, id string) (*T, error) {
	var v T
	err := docs.Get(ctx, p, id, &v)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", p, id, err)
	}
	return &v, nil
}

func query[T any](ctx context.Context, docs Provider, p Path, q Query) ([]*T, error) {
	var out []*T
	if err := docs.Query(ctx, p, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- user_status ---

func (s *PresenceStore) UserStatus(ctx context.Context, userID string) (*model.UserStatus, error) {
	return get[model.UserStatus](ctx, s.docs, userStatusPath, userID)
}

// PutUserStatus overwrites the whole projection.
func (s *PresenceStore) PutUserStatus(ctx context.Context, st *model.UserStatus) error {
	return s.docs.Set(ctx, userStatusPath, st.UserID, st)
}

func (s *PresenceStore) MergeUserStatus(ctx context.Context, userID string, fields Fields) error {
	return s.docs.Merge(ctx, userStatusPath, userID, fields)
}

func (s *PresenceStore) UsersByStatus(ctx context.Context, statuses ...model.PresenceState) ([]*model.UserStatus, error) {
	return query[model.UserStatus](ctx, s.docs, userStatusPath, Query{
		Filters: []Filter{Where("status", OpIn, statuses)},
		OrderBy: "username",
	})
}

// --- checkin_sessions ---

func (s *PresenceStore) Session(ctx context.Context, sessionID string) (*model.CheckinSession, error) {
	return get[model.CheckinSession](ctx, s.docs, sessionPath, sessionID)
}

func (s *PresenceStore) CreateSession(ctx context.Context, session *model.CheckinSession) error {
	return s.docs.Set(ctx, sessionPath, session.SessionID, session)
}

func (s *PresenceStore) MergeSession(ctx context.Context, sessionID string, fields Fields) error {
	return s.docs.Merge(ctx, sessionPath, sessionID, fields)
}

func (s *PresenceStore) IncrementSession(ctx context.Context, sessionID, field string, delta int) error {
	return s.docs.Increment(ctx, sessionPath, sessionID, field, delta)
}

// SessionsByUser returns a user's sessions, newest check-in first.
func (s *PresenceStore) SessionsByUser(ctx context.Context, userID string, limit int) ([]*model.CheckinSession, error) {
	return query[model.CheckinSession](ctx, s.docs, sessionPath, Query{
		Filters: []Filter{Where("user_id", OpEq, userID)},
		OrderBy: "checkin_time",
		Desc:    true,
		Limit:   limit,
	})
}

func (s *PresenceStore) SessionsByDate(ctx context.Context, date string) ([]*model.CheckinSession, error) {
	return query[model.CheckinSession](ctx, s.docs, sessionPath, Query{
		Filters: []Filter{Where("date", OpEq, date)},
		OrderBy: "checkin_time",
	})
}

// --- checkin_sessions/<id>/breaks ---

func (s *PresenceStore) Break(ctx context.Context, sessionID, breakID string) (*model.BreakRecord, error) {
	return get[model.BreakRecord](ctx, s.docs, breaksPath(sessionID), breakID)
}

func (s *PresenceStore) CreateBreak(ctx context.Context, b *model.BreakRecord) error {
	return s.docs.Set(ctx, breaksPath(b.SessionID), b.BreakID, b)
}

func (s *PresenceStore) MergeBreak(ctx context.Context, sessionID, breakID string, fields Fields) error {
	return s.docs.Merge(ctx, breaksPath(sessionID), breakID, fields)
}

// Breaks returns a session's breaks in start order. An empty status matches all.
func (s *PresenceStore) Breaks(ctx context.Context, sessionID string, status model.BreakStatus) ([]*model.BreakRecord, error) {
	q := Query{OrderBy: "start_time"}
	if status != "" {
		q.Filters = []Filter{Where("status", OpEq, status)}
	}
	return query[model.BreakRecord](ctx, s.docs, breaksPath(sessionID), q)
}

// --- checkin_sessions/<id>/status_updates ---

func (s *PresenceStore) CreateStatusUpdate(ctx context.Context, u *model.StatusUpdate) error {
	return s.docs.Set(ctx, updatesPath(u.SessionID), u.UpdateID, u)
}

// StatusUpdates returns a session's updates, newest first. limit <= 0 returns all.
func (s *PresenceStore) StatusUpdates(ctx context.Context, sessionID string, limit int) ([]*model.StatusUpdate, error) {
	return query[model.StatusUpdate](ctx, s.docs, updatesPath(sessionID), Query{
		OrderBy: "timestamp",
		Desc:    true,
		Limit:   limit,
	})
}

// --- user_preferences ---

func (s *PresenceStore) Preferences(ctx context.Context, userID string) (*model.UserPreferences, error) {
	return get[model.UserPreferences](ctx, s.docs, preferencesPath, userID)
}

func (s *PresenceStore) MergePreferences(ctx context.Context, userID string, fields Fields) error {
	fields["user_id"] = userID
	return s.docs.Merge(ctx, preferencesPath, userID, fields)
}

// --- status_reminders ---

func (s *PresenceStore) Reminder(ctx context.Context, userID string) (*model.StatusReminder, error) {
	return get[model.StatusReminder](ctx, s.docs, reminderPath, userID)
}

func (s *PresenceStore) PutReminder(ctx context.Context, r *model.StatusReminder) error {
	return s.docs.Set(ctx, reminderPath, r.UserID, r)
}

func (s *PresenceStore) MergeReminder(ctx context.Context, userID string, fields Fields) error {
	return s.docs.Merge(ctx, reminderPath, userID, fields)
}

func (s *PresenceStore) IncrementReminder(ctx context.Context, userID, field string, delta int) error {
	return s.docs.Increment(ctx, reminderPath, userID, field, delta)
}

func (s *PresenceStore) ActiveReminders(ctx context.Context) ([]*model.StatusReminder, error) {
	return query[model.StatusReminder](ctx, s.docs, reminderPath, Query{
		Filters: []Filter{Where("is_active", OpEq, true)},
		OrderBy: "user_id",
	})
}
