package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"presence-bot/internal/ids"
	"presence-bot/internal/model"
	"presence-bot/internal/store"
	"presence-bot/internal/timeutil"
)

var ErrEmptyStatus = errors.New("status text is empty")

// StatusLedger appends free-text status updates to a session.
type StatusLedger struct {
	store     *store.PresenceStore
	reminders ReminderTracker
	clock     timeutil.Clock
}

func NewStatusLedger(st *store.PresenceStore, reminders ReminderTracker, clock timeutil.Clock) *StatusLedger {
	return &StatusLedger{store: st, reminders: reminders, clock: clock}
}

func (l *StatusLedger) Add(ctx context.Context, sessionID, userID, username, text string) (*model.StatusUpdate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyStatus
	}

	session, err := l.store.Session(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}

	latest, err := l.store.StatusUpdates(ctx, sessionID, 1)
	if err != nil {
		return nil, fmt.Errorf("get latest status update: %w", err)
	}

	// Stored timestamps have millisecond precision; keep them strictly increasing.
	ts := l.clock.Now().Truncate(time.Millisecond)
	u := &model.StatusUpdate{
		UpdateID:  ids.UpdateID(),
		SessionID: sessionID,
		UserID:    userID,
		Username:  username,
		Status:    text,
	}
	if len(latest) > 0 {
		prev := latest[0]
		if !ts.After(prev.Timestamp) {
			ts = prev.Timestamp.Add(time.Millisecond)
		}
		previous := prev.Status
		u.PreviousStatus = &previous
	}
	u.Timestamp = ts

	if err := l.store.CreateStatusUpdate(ctx, u); err != nil {
		return nil, fmt.Errorf("create status update: %w", err)
	}
	if err := l.store.IncrementSession(ctx, sessionID, "status_update_count", 1); err != nil {
		return nil, fmt.Errorf("increment status update count: %w", err)
	}
	if err := l.store.MergeSession(ctx, sessionID, store.Fields{"last_work_status": text}); err != nil {
		return nil, fmt.Errorf("set last work status: %w", err)
	}

	count := session.StatusUpdateCount + 1
	refreshed, err := l.store.Session(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	if refreshed != nil {
		count = refreshed.StatusUpdateCount
	}

	st, err := l.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st != nil && st.CurrentSessionID == sessionID {
		if err := l.store.MergeUserStatus(ctx, userID, store.Fields{
			"current_session.current_work_status": text,
			"current_session.status_update_count": count,
			"last_activity":                       ts,
		}); err != nil {
			return nil, fmt.Errorf("update user status: %w", err)
		}
	}

	if l.reminders != nil {
		if err := l.reminders.Touch(ctx, userID, ts); err != nil {
			slog.Warn("Failed to record status activity for reminders", "user_id", userID, "error", err)
		}
	}
	return u, nil
}

// List returns a session's updates newest first. limit <= 0 returns all of them.
func (l *StatusLedger) List(ctx context.Context, sessionID string, limit int) ([]*model.StatusUpdate, error) {
	updates, err := l.store.StatusUpdates(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list status updates: %w", err)
	}
	return updates, nil
}
