package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"presence-bot/internal/i18n"
	"presence-bot/internal/mattermost"
	"presence-bot/internal/model"
	"presence-bot/internal/store"
	"presence-bot/internal/timeutil"
)

const (
	DefaultPollInterval     = 5 * time.Minute
	DefaultIdleThreshold    = 45 * time.Minute
	DefaultReminderCooldown = 45 * time.Minute
	defaultReminderWorkers  = 4
)

// Notifier delivers a direct message to a user.
type Notifier interface {
	SendDirectMessage(ctx context.Context, userID string, attachments []mattermost.Attachment, fallback string) error
}

type ReminderConfig struct {
	PollInterval time.Duration
	// IdleThreshold is how long a checked-in user may go without a status update.
	IdleThreshold time.Duration
	// Cooldown is the minimum gap between two reminders to the same user.
	Cooldown    time.Duration
	Concurrency int
}

func (c ReminderConfig) withDefaults() ReminderConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultReminderCooldown
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultReminderWorkers
	}
	return c
}

// TickResult counts what one poll did.
type TickResult struct {
	Checked int
	Sent    int
	Skipped int
	Failed  int
}

type reminderOutcome int

const (
	outcomeSkipped reminderOutcome = iota
	outcomeSent
	outcomeFailed
)

// ReminderScheduler nudges checked-in users who have not posted a status update recently.
type ReminderScheduler struct {
	store    *store.PresenceStore
	prefs    *PreferenceService
	notifier Notifier
	clock    timeutil.Clock
	cfg      ReminderConfig
}

func NewReminderScheduler(st *store.PresenceStore, prefs *PreferenceService, notifier Notifier, clock timeutil.Clock, cfg ReminderConfig) *ReminderScheduler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &ReminderScheduler{store: st, prefs: prefs, notifier: notifier, clock: clock, cfg: cfg.withDefaults()}
}

// Register starts tracking a new session, replacing any earlier record for the user.
func (r *ReminderScheduler) Register(ctx context.Context, session *model.CheckinSession) error {
	return r.store.PutReminder(ctx, &model.StatusReminder{
		UserID:    session.UserID,
		Username:  session.Username,
		SessionID: session.SessionID,
		IsActive:  true,
		Timezone:  session.Timezone,
		CreatedAt: r.clock.Now(),
	})
}

// Deactivate stops reminders for the session. Records for other sessions are left alone.
func (r *ReminderScheduler) Deactivate(ctx context.Context, userID, sessionID string) error {
	rem, err := r.store.Reminder(ctx, userID)
	if err != nil {
		return err
	}
	if rem == nil || rem.SessionID != sessionID {
		return nil
	}
	return r.store.MergeReminder(ctx, userID, store.Fields{"is_active": false})
}

// Touch records status activity, restarting the idle window at the given instant.
func (r *ReminderScheduler) Touch(ctx context.Context, userID string, at time.Time) error {
	rem, err := r.store.Reminder(ctx, userID)
	if err != nil {
		return err
	}
	if rem == nil {
		return nil
	}
	return r.store.MergeReminder(ctx, userID, store.Fields{"last_status_update": at})
}

// Run polls until ctx is cancelled.
func (r *ReminderScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("Status reminder scheduler started", "interval", r.cfg.PollInterval, "idle_threshold", r.cfg.IdleThreshold)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Status reminder scheduler stopped")
			return
		case <-ticker.C:
			res, err := r.Tick(ctx)
			if err != nil {
				slog.Error("Status reminder poll failed", "error", err)
				continue
			}
			if res.Sent > 0 || res.Failed > 0 {
				slog.Info("Status reminder poll", "checked", res.Checked, "sent", res.Sent, "failed", res.Failed)
			}
		}
	}
}

// Tick processes every active reminder once. Only failing to list reminders is
// returned; per-user failures are logged and counted.
func (r *ReminderScheduler) Tick(ctx context.Context) (TickResult, error) {
	reminders, err := r.store.ActiveReminders(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("list active reminders: %w", err)
	}

	var (
		mu  sync.Mutex
		res = TickResult{Checked: len(reminders)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, rem := range reminders {
		g.Go(func() error {
			outcome := r.process(gctx, rem)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				res.Sent++
			case outcomeFailed:
				res.Failed++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

func (r *ReminderScheduler) process(ctx context.Context, rem *model.StatusReminder) reminderOutcome {
	log := slog.With("user_id", rem.UserID, "session_id", rem.SessionID)

	st, err := r.store.UserStatus(ctx, rem.UserID)
	if err != nil {
		log.Error("Reminder: failed to load user status", "error", err)
		return outcomeFailed
	}
	// Breaks pause reminders.
	if st == nil || st.Status != model.PresenceCheckedIn || st.CurrentSessionID != rem.SessionID {
		return outcomeSkipped
	}

	if r.prefs != nil {
		prefs, err := r.prefs.Get(ctx, rem.UserID)
		if err != nil {
			log.Error("Reminder: failed to load preferences", "error", err)
			return outcomeFailed
		}
		if !prefs.RemindersOn() {
			return outcomeSkipped
		}
	}

	ref, lastStatus, err := r.lastActivity(ctx, rem, st)
	if err != nil {
		log.Error("Reminder: failed to resolve last activity", "error", err)
		return outcomeFailed
	}

	now := r.clock.Now()
	if now.Sub(ref) < r.cfg.IdleThreshold {
		return outcomeSkipped
	}
	if rem.LastReminderSent != nil && now.Sub(*rem.LastReminderSent) < r.cfg.Cooldown {
		return outcomeSkipped
	}

	attachments, fallback := r.render(ctx, rem, st, ref, lastStatus, now)
	if err := r.notifier.SendDirectMessage(ctx, rem.UserID, attachments, fallback); err != nil {
		log.Warn("Reminder: delivery failed", "error", err)
		return outcomeFailed
	}

	if err := r.store.IncrementReminder(ctx, rem.UserID, "reminder_count", 1); err != nil {
		log.Error("Reminder: failed to count reminder", "error", err)
	}
	if err := r.store.MergeReminder(ctx, rem.UserID, store.Fields{"last_reminder_sent": now}); err != nil {
		log.Error("Reminder: failed to stamp reminder", "error", err)
	}
	return outcomeSent
}

// lastActivity picks the reference instant: the tracked status update time,
// else the newest update in the session, else the check-in time.
func (r *ReminderScheduler) lastActivity(ctx context.Context, rem *model.StatusReminder, st *model.UserStatus) (time.Time, string, error) {
	var lastStatus string
	if st.CurrentSession != nil {
		lastStatus = st.CurrentSession.CurrentWorkStatus
	}
	if rem.LastStatusUpdate != nil {
		return *rem.LastStatusUpdate, lastStatus, nil
	}

	latest, err := r.store.StatusUpdates(ctx, rem.SessionID, 1)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(latest) > 0 {
		return latest[0].Timestamp, latest[0].Status, nil
	}

	if st.CurrentSession != nil {
		return st.CurrentSession.CheckinTime, lastStatus, nil
	}
	session, err := r.store.Session(ctx, rem.SessionID)
	if err != nil {
		return time.Time{}, "", err
	}
	if session == nil {
		return time.Time{}, "", &SessionNotFoundError{SessionID: rem.SessionID}
	}
	return session.CheckinTime, session.LastWorkStatus, nil
}

func (r *ReminderScheduler) render(ctx context.Context, rem *model.StatusReminder, st *model.UserStatus, ref time.Time, lastStatus string, now time.Time) ([]mattermost.Attachment, string) {
	zoneName := rem.Timezone
	if zoneName == "" {
		zoneName = st.Timezone
	}
	var fallbackZone *time.Location
	if r.prefs != nil {
		fallbackZone = r.prefs.DefaultZone()
	}
	loc := timeutil.LoadZone(zoneName, fallbackZone)

	username := rem.Username
	if username == "" {
		username = st.Username
	}
	idle := timeutil.FormatMinutes(timeutil.ElapsedMinutes(ref, now))
	text := i18n.T(ctx, "reminder.text", map[string]any{
		"Username": username,
		"Time":     timeutil.Format(now, loc),
		"Idle":     idle,
	})
	statusLine := i18n.T(ctx, "reminder.no_status")
	if lastStatus != "" {
		statusLine = i18n.T(ctx, "reminder.last_status", map[string]any{"Status": lastStatus})
	}
	hint := i18n.T(ctx, "reminder.hint")

	fields := []mattermost.Field{{Title: i18n.T(ctx, "reminder.field_idle"), Value: idle, Short: true}}
	if st.CurrentSession != nil {
		fields = append([]mattermost.Field{{
			Title: i18n.T(ctx, "reminder.field_checkin"),
			Value: timeutil.Format(st.CurrentSession.CheckinTime, loc),
			Short: true,
		}}, fields...)
	}

	fallback := text + "\n" + statusLine + "\n" + hint
	return []mattermost.Attachment{{
		Fallback: fallback,
		Title:    i18n.T(ctx, "reminder.title"),
		Text:     text + "\n" + statusLine + "\n" + hint,
		Color:    "#f2a900",
		Fields:   fields,
	}}, fallback
}
