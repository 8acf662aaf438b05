package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"presence-bot/internal/ids"
	"presence-bot/internal/model"
	"presence-bot/internal/store"
	"presence-bot/internal/timeutil"
)

const (
	recentUpdateLimit   = 5
	defaultHistoryLimit = 10
)

// ReminderTracker follows the session lifecycle on behalf of the idle reminder scheduler.
type ReminderTracker interface {
	Register(ctx context.Context, session *model.CheckinSession) error
	Deactivate(ctx context.Context, userID, sessionID string) error
	Touch(ctx context.Context, userID string, at time.Time) error
}

// CurrentState is a read-only view of a user's live status and session.
type CurrentState struct {
	Status        *model.UserStatus
	Session       *model.CheckinSession
	RecentUpdates []*model.StatusUpdate
	ActiveBreak   *model.BreakRecord
}

type CheckoutResult struct {
	Session     *model.CheckinSession
	AutoEnded   []*BreakSummary
	UserStatus  *model.UserStatus
	ElapsedTime int
}

// PresenceService owns the check-in, break and check-out transitions for a user.
type PresenceService struct {
	store     *store.PresenceStore
	prefs     *PreferenceService
	breaks    *BreakLedger
	updates   *StatusLedger
	reminders ReminderTracker
	clock     timeutil.Clock
}

func NewPresenceService(st *store.PresenceStore, prefs *PreferenceService, reminders ReminderTracker, clock timeutil.Clock) *PresenceService {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &PresenceService{
		store:     st,
		prefs:     prefs,
		breaks:    NewBreakLedger(st, prefs, clock),
		updates:   NewStatusLedger(st, reminders, clock),
		reminders: reminders,
		clock:     clock,
	}
}

func (s *PresenceService) Breaks() *BreakLedger { return s.breaks }

func (s *PresenceService) Updates() *StatusLedger { return s.updates }

func (s *PresenceService) CheckIn(ctx context.Context, userID, username, notes string) (*model.CheckinSession, error) {
	st, err := s.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st != nil && st.Status.Active() {
		return nil, &AlreadyActiveError{UserID: userID, Status: st.Status, SessionID: st.CurrentSessionID}
	}

	tz, loc, err := s.prefs.Timezone(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	local := now.In(loc)
	session := &model.CheckinSession{
		SessionID:   ids.SessionID(userID, local),
		UserID:      userID,
		Username:    username,
		Date:        local.Format(time.DateOnly),
		CheckinTime: now,
		Status:      model.SessionActive,
		Notes:       model.SessionNotes{Checkin: strings.TrimSpace(notes)},
		Timezone:    tz,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var lastCheckout *time.Time
	if st != nil {
		lastCheckout = st.LastCheckout
	}
	if err := s.store.PutUserStatus(ctx, model.NewCheckedInStatus(userID, username, session.SessionID, now, tz, lastCheckout)); err != nil {
		return nil, fmt.Errorf("set user status: %w", err)
	}

	if s.reminders != nil {
		if err := s.reminders.Register(ctx, session); err != nil {
			slog.Warn("Failed to register status reminder", "user_id", userID, "session_id", session.SessionID, "error", err)
		}
	}
	return session, nil
}

// CheckOut completes the active session. A break still running is ended first
// and its time counted before the work total is computed.
func (s *PresenceService) CheckOut(ctx context.Context, userID, notes string) (*CheckoutResult, error) {
	st, err := s.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st == nil || !st.Status.Active() || st.CurrentSessionID == "" {
		return nil, &NotCheckedInError{UserID: userID}
	}
	sessionID := st.CurrentSessionID

	session, err := s.store.Session(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}

	auto, err := s.endOpenBreaks(ctx, st)
	if err != nil {
		return nil, err
	}
	if len(auto) > 0 {
		if session, err = s.store.Session(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("reload session: %w", err)
		}
		if session == nil {
			return nil, &SessionNotFoundError{SessionID: sessionID}
		}
	}

	now := s.clock.Now()
	elapsed := timeutil.ElapsedMinutes(session.CheckinTime, now)
	// Not clamped: overlapping or corrected breaks may exceed elapsed time.
	work := elapsed - session.TotalBreakTime

	fields := store.Fields{
		"status":          model.SessionCompleted,
		"checkout_time":   now,
		"total_work_time": work,
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		fields["notes.checkout"] = notes
		session.Notes.Checkout = notes
	}
	if err := s.store.MergeSession(ctx, sessionID, fields); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	session.Status = model.SessionCompleted
	session.CheckoutTime = &now
	session.TotalWorkTime = &work

	out := model.NewCheckedOutStatus(userID, st.Username, st.LastCheckin, &now, now, st.Timezone)
	if err := s.store.PutUserStatus(ctx, out); err != nil {
		return nil, fmt.Errorf("set user status: %w", err)
	}

	if s.reminders != nil {
		if err := s.reminders.Deactivate(ctx, userID, sessionID); err != nil {
			slog.Warn("Failed to deactivate status reminder", "user_id", userID, "session_id", sessionID, "error", err)
		}
	}
	return &CheckoutResult{Session: session, AutoEnded: auto, UserStatus: out, ElapsedTime: elapsed}, nil
}

// endOpenBreaks closes the projected break and any other break left active in the session.
func (s *PresenceService) endOpenBreaks(ctx context.Context, st *model.UserStatus) ([]*BreakSummary, error) {
	sessionID := st.CurrentSessionID
	var ended []*BreakSummary
	seen := map[string]bool{}

	if st.CurrentSession != nil && st.CurrentSession.CurrentBreak != nil {
		breakID := st.CurrentSession.CurrentBreak.BreakID
		seen[breakID] = true
		sum, err := s.breaks.End(ctx, sessionID, breakID, st.UserID, "", AutoEndCheckout)
		switch {
		case IsNotFound(err):
			slog.Error("Projected break missing at checkout", "user_id", st.UserID, "session_id", sessionID, "break_id", breakID)
		case err != nil:
			return nil, fmt.Errorf("end break at checkout: %w", err)
		default:
			ended = append(ended, sum)
		}
	}

	open, err := s.store.Breaks(ctx, sessionID, model.BreakActive)
	if err != nil {
		return nil, fmt.Errorf("list active breaks: %w", err)
	}
	for _, b := range open {
		if seen[b.BreakID] {
			continue
		}
		sum, err := s.breaks.End(ctx, sessionID, b.BreakID, st.UserID, "", AutoEndCheckout)
		if err != nil {
			return nil, fmt.Errorf("end break at checkout: %w", err)
		}
		ended = append(ended, sum)
	}
	return ended, nil
}

func (s *PresenceService) StartBreak(ctx context.Context, userID string, bt model.BreakType, notes string) (*model.BreakRecord, error) {
	if !bt.Valid() {
		return nil, fmt.Errorf("unknown break type %q", bt)
	}
	st, err := s.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st == nil || !st.Status.Active() || st.CurrentSessionID == "" {
		return nil, &NotCheckedInError{UserID: userID}
	}
	if st.Status == model.PresenceOnBreak {
		var current model.BreakType
		if st.CurrentSession != nil && st.CurrentSession.CurrentBreak != nil {
			current = st.CurrentSession.CurrentBreak.Type
		}
		return nil, &AlreadyOnBreakError{UserID: userID, Break: current}
	}
	return s.breaks.Start(ctx, st.CurrentSessionID, userID, bt, strings.TrimSpace(notes))
}

func (s *PresenceService) EndBreak(ctx context.Context, userID, notes string) (*BreakSummary, error) {
	st, err := s.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st == nil || !st.Status.Active() || st.CurrentSessionID == "" {
		return nil, &NotCheckedInError{UserID: userID}
	}
	if st.Status != model.PresenceOnBreak || st.CurrentSession == nil || st.CurrentSession.CurrentBreak == nil {
		return nil, &NotOnBreakError{UserID: userID}
	}
	return s.breaks.End(ctx, st.CurrentSessionID, st.CurrentSession.CurrentBreak.BreakID, userID, strings.TrimSpace(notes), "")
}

func (s *PresenceService) AddStatusUpdate(ctx context.Context, userID, username, text string) (*model.StatusUpdate, error) {
	st, err := s.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st == nil || !st.Status.Active() || st.CurrentSessionID == "" {
		return nil, &NotCheckedInError{UserID: userID}
	}
	if username == "" {
		username = st.Username
	}
	return s.updates.Add(ctx, st.CurrentSessionID, userID, username, text)
}

// GetCurrentState returns nil if the user has never checked in.
func (s *PresenceService) GetCurrentState(ctx context.Context, userID string) (*CurrentState, error) {
	st, err := s.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st == nil {
		return nil, nil
	}
	state := &CurrentState{Status: st}
	if st.CurrentSessionID == "" {
		return state, nil
	}

	session, err := s.store.Session(ctx, st.CurrentSessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, &SessionNotFoundError{SessionID: st.CurrentSessionID}
	}
	state.Session = session

	if state.RecentUpdates, err = s.updates.List(ctx, session.SessionID, recentUpdateLimit); err != nil {
		return nil, err
	}
	if st.CurrentSession != nil && st.CurrentSession.CurrentBreak != nil {
		b, err := s.store.Break(ctx, session.SessionID, st.CurrentSession.CurrentBreak.BreakID)
		if err != nil {
			return nil, fmt.Errorf("get break: %w", err)
		}
		state.ActiveBreak = b
	}
	return state, nil
}

// GetUserSessionHistory returns the user's sessions, newest first.
func (s *PresenceService) GetUserSessionHistory(ctx context.Context, userID string, limit int) ([]*model.CheckinSession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	sessions, err := s.store.SessionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get session history: %w", err)
	}
	return sessions, nil
}

// GetSessionsByDate returns every session whose check-in happened on date (YYYY-MM-DD).
func (s *PresenceService) GetSessionsByDate(ctx context.Context, date string) ([]*model.CheckinSession, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	sessions, err := s.store.SessionsByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("get sessions by date: %w", err)
	}
	return sessions, nil
}

// GetActiveUsers returns everyone currently checked in or on break.
func (s *PresenceService) GetActiveUsers(ctx context.Context) ([]*model.UserStatus, error) {
	users, err := s.store.UsersByStatus(ctx, model.PresenceCheckedIn, model.PresenceOnBreak)
	if err != nil {
		return nil, fmt.Errorf("get active users: %w", err)
	}
	return users, nil
}

// RebuildProjection recomputes the user's live status from the session it
// points at, that session's active break and its latest status update.
func (s *PresenceService) RebuildProjection(ctx context.Context, userID string) (*model.UserStatus, error) {
	st, err := s.store.UserStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user status: %w", err)
	}
	if st == nil {
		return nil, nil
	}

	var session *model.CheckinSession
	if st.CurrentSessionID != "" {
		if session, err = s.store.Session(ctx, st.CurrentSessionID); err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
	}

	var rebuilt *model.UserStatus
	if session == nil || session.Status == model.SessionCompleted {
		lastCheckout := st.LastCheckout
		if session != nil && session.CheckoutTime != nil {
			lastCheckout = session.CheckoutTime
		}
		rebuilt = model.NewCheckedOutStatus(userID, st.Username, st.LastCheckin, lastCheckout, st.LastActivity, st.Timezone)
	} else {
		rebuilt = model.NewCheckedInStatus(userID, st.Username, session.SessionID, session.CheckinTime, st.Timezone, st.LastCheckout)
		rebuilt.LastCheckin = st.LastCheckin
		rebuilt.LastActivity = st.LastActivity
		rebuilt.CurrentSession.TotalBreakTime = session.TotalBreakTime
		rebuilt.CurrentSession.StatusUpdateCount = session.StatusUpdateCount
		rebuilt.CurrentSession.CurrentWorkStatus = session.LastWorkStatus

		latest, err := s.store.StatusUpdates(ctx, session.SessionID, 1)
		if err != nil {
			return nil, fmt.Errorf("get latest status update: %w", err)
		}
		if len(latest) > 0 {
			rebuilt.CurrentSession.CurrentWorkStatus = latest[0].Status
		}

		open, err := s.store.Breaks(ctx, session.SessionID, model.BreakActive)
		if err != nil {
			return nil, fmt.Errorf("list active breaks: %w", err)
		}
		if len(open) > 0 {
			b := open[len(open)-1]
			rebuilt.Status = model.PresenceOnBreak
			rebuilt.CurrentSession = model.NewOnBreakSession(*rebuilt.CurrentSession, model.CurrentBreak{
				BreakID:          b.BreakID,
				Type:             b.Type,
				StartTime:        b.StartTime,
				ExpectedDuration: b.ExpectedDuration,
			})
		}
	}

	if err := rebuilt.Validate(); err != nil {
		return nil, fmt.Errorf("rebuild projection: %w", err)
	}
	if err := s.store.PutUserStatus(ctx, rebuilt); err != nil {
		return nil, fmt.Errorf("set user status: %w", err)
	}
	return rebuilt, nil
}
