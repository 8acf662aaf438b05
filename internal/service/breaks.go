package service

import (
	"context"
	"fmt"

	"presence-bot/internal/ids"
	"presence-bot/internal/model"
	"presence-bot/internal/store"
	"presence-bot/internal/timeutil"
)

// BreakVarianceTolerance is how far, in minutes, a break may stray from its
// expected length before the summary flags it.
const BreakVarianceTolerance = 5

// AutoEndCheckout marks breaks closed by a checkout.
const AutoEndCheckout = "checkout"

// BreakSummary describes a finished break.
type BreakSummary struct {
	Break *model.BreakRecord
	// Variance is duration minus expected duration, nil when the type has no expectation.
	Variance *int
	Flagged  bool
}

func summarize(b *model.BreakRecord) *BreakSummary {
	sum := &BreakSummary{Break: b}
	if b.Duration == nil || b.ExpectedDuration == nil {
		return sum
	}
	v := *b.Duration - *b.ExpectedDuration
	sum.Variance = &v
	sum.Flagged = v > BreakVarianceTolerance || v < -BreakVarianceTolerance
	return sum
}

// BreakLedger writes break records under a session and rolls their totals up
// onto the session and the user's projection. Callers gate the transitions.
type BreakLedger struct {
	store *store.PresenceStore
	prefs *PreferenceService
	clock timeutil.Clock
}

func NewBreakLedger(st *store.PresenceStore, prefs *PreferenceService, clock timeutil.Clock) *BreakLedger {
	return &BreakLedger{store: st, prefs: prefs, clock: clock}
}

func (l *BreakLedger) Start(ctx context.Context, sessionID, userID string, bt model.BreakType, notes string) (*model.BreakRecord, error) {
	expected := bt.ExpectedMinutes()
	if l.prefs != nil {
		m, err := l.prefs.ExpectedBreakMinutes(ctx, userID, bt)
		if err != nil {
			return nil, err
		}
		expected = m
	}

	now := l.clock.Now()
	b := &model.BreakRecord{
		BreakID:          ids.BreakID(),
		SessionID:        sessionID,
		UserID:           userID,
		Type:             bt,
		StartTime:        now,
		ExpectedDuration: expected,
		Notes:            notes,
		Status:           model.BreakActive,
	}
	if err := l.store.CreateBreak(ctx, b); err != nil {
		return nil, fmt.Errorf("create break: %w", err)
	}
	if err := l.store.IncrementSession(ctx, sessionID, "break_count", 1); err != nil {
		return nil, fmt.Errorf("increment break count: %w", err)
	}

	if err := l.store.MergeUserStatus(ctx, userID, store.Fields{
		"status": model.PresenceOnBreak,
		"current_session.current_break": model.CurrentBreak{
			BreakID:          b.BreakID,
			Type:             bt,
			StartTime:        now,
			ExpectedDuration: expected,
		},
		"last_activity": now,
	}); err != nil {
		return nil, fmt.Errorf("update user status: %w", err)
	}
	return b, nil
}

// End closes a break. autoReason is empty for user-initiated ends. Ending a
// break that is already completed only repairs the user's projection.
func (l *BreakLedger) End(ctx context.Context, sessionID, breakID, userID, notes, autoReason string) (*BreakSummary, error) {
	b, err := l.store.Break(ctx, sessionID, breakID)
	if err != nil {
		return nil, fmt.Errorf("get break: %w", err)
	}
	if b == nil {
		return nil, &BreakNotFoundError{SessionID: sessionID, BreakID: breakID}
	}

	now := l.clock.Now()
	added := 0
	if b.Status != model.BreakCompleted {
		duration := timeutil.ElapsedMinutes(b.StartTime, now)
		switch {
		case notes == "":
		case b.Notes == "":
			b.Notes = notes
		default:
			b.Notes = b.Notes + " | End: " + notes
		}
		b.EndTime = &now
		b.Duration = &duration
		b.Status = model.BreakCompleted
		b.AutoEndReason = autoReason

		fields := store.Fields{
			"end_time": now,
			"duration": duration,
			"status":   model.BreakCompleted,
			"notes":    b.Notes,
		}
		if autoReason != "" {
			fields["auto_end_reason"] = autoReason
		}
		if err := l.store.MergeBreak(ctx, sessionID, breakID, fields); err != nil {
			return nil, fmt.Errorf("complete break: %w", err)
		}
		if err := l.store.IncrementSession(ctx, sessionID, "total_break_time", duration); err != nil {
			return nil, fmt.Errorf("add break time: %w", err)
		}
		added = duration
	}

	st, err := l.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st != nil && st.CurrentSessionID == sessionID && st.CurrentSession != nil {
		if err := l.store.MergeUserStatus(ctx, userID, store.Fields{
			"status":                           model.PresenceCheckedIn,
			"current_session.current_break":    nil,
			"current_session.total_break_time": st.CurrentSession.TotalBreakTime + added,
			"last_activity":                    now,
		}); err != nil {
			return nil, fmt.Errorf("update user status: %w", err)
		}
	}
	return summarize(b), nil
}

// List returns a session's breaks in start order.
func (l *BreakLedger) List(ctx context.Context, sessionID string) ([]*model.BreakRecord, error) {
	breaks, err := l.store.Breaks(ctx, sessionID, "")
	if err != nil {
		return nil, fmt.Errorf("list breaks: %w", err)
	}
	return breaks, nil
}
