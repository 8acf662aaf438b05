package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-bot/internal/model"
)

// runTicks advances the clock in poll-sized steps until end (exclusive) and
// returns how many reminders were sent.
func runTicks(t *testing.T, env *testEnv, end time.Time) int {
	t.Helper()
	before := env.notifier.count()
	for env.clock.Advance(DefaultPollInterval); env.clock.Now().Before(end); env.clock.Advance(DefaultPollInterval) {
		_, err := env.scheduler.Tick(env.ctx)
		require.NoError(t, err)
	}
	return env.notifier.count() - before
}

func TestReminderFiresOncePerWindow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CheckIn(env.ctx, "u1", "alice", "")
	require.NoError(t, err)
	env.clock.Set(day(9, 10))
	_, err = env.svc.AddStatusUpdate(env.ctx, "u1", "alice", "writing docs")
	require.NoError(t, err)
	ref := day(9, 10)

	assert.Equal(t, 0, runTicks(t, env, ref.Add(45*time.Minute)))

	env.clock.Set(ref.Add(45*time.Minute - DefaultPollInterval))
	assert.Equal(t, 1, runTicks(t, env, ref.Add(90*time.Minute)))
	assert.True(t, env.notifier.sent[0].At.Equal(ref.Add(45*time.Minute)))

	rem, err := env.store.Reminder(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, rem.ReminderCount)
	require.NotNil(t, rem.LastReminderSent)
	assert.True(t, rem.LastReminderSent.Equal(ref.Add(45*time.Minute)))

	// Still silent at T+90: the next nudge is due.
	env.clock.Set(ref.Add(90 * time.Minute))
	res, err := env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, env.notifier.count())
}

func TestReminderMessageContent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.prefs.SetTimezone(env.ctx, "u1", "Europe/Berlin")
	require.NoError(t, err)
	_, err = env.svc.CheckIn(env.ctx, "u1", "alice", "")
	require.NoError(t, err)
	_, err = env.svc.AddStatusUpdate(env.ctx, "u1", "alice", "migrating the db")
	require.NoError(t, err)

	env.clock.Set(day(10, 0))
	res, err := env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	msg := env.notifier.sent[0]
	assert.Equal(t, "u1", msg.UserID)
	assert.Contains(t, msg.Fallback, "@alice")
	assert.Contains(t, msg.Fallback, "11:00 CET")
	assert.Contains(t, msg.Fallback, "migrating the db")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "10:00 CET", msg.Attachments[0].Fields[0].Value)
	assert.Equal(t, "1h 00m", msg.Attachments[0].Fields[1].Value)
}

func TestStatusUpdateResetsIdleWindow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CheckIn(env.ctx, "u1", "alice", "")
	require.NoError(t, err)

	env.clock.Set(day(9, 40))
	_, err = env.svc.AddStatusUpdate(env.ctx, "u1", "alice", "still going")
	require.NoError(t, err)

	// 45 minutes after check-in, but only 5 after the update.
	env.clock.Set(day(9, 45))
	res, err := env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)

	env.clock.Set(day(10, 25))
	res, err = env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestReminderFallsBackToCheckinTime(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CheckIn(env.ctx, "u1", "alice", "")
	require.NoError(t, err)

	env.clock.Set(day(9, 44))
	res, err := env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{Checked: 1, Skipped: 1}, res)

	env.clock.Set(day(9, 45))
	res, err = env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Contains(t, env.notifier.sent[0].Fallback, "No status posted yet")
}

func TestRemindersPauseOnBreakAndStopAtCheckout(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CheckIn(env.ctx, "u1", "alice", "")
	require.NoError(t, err)
	_, err = env.svc.StartBreak(env.ctx, "u1", model.BreakLunch, "")
	require.NoError(t, err)

	env.clock.Set(day(10, 30))
	res, err := env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Skipped)

	_, err = env.svc.CheckOut(env.ctx, "u1", "")
	require.NoError(t, err)
	res, err = env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{}, res)
}

func TestReminderDeliveryFailureIsRetried(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CheckIn(env.ctx, "u1", "alice", "")
	require.NoError(t, err)

	env.notifier.fail = true
	env.clock.Set(day(10, 0))
	res, err := env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	rem, err := env.store.Reminder(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, rem.ReminderCount)
	assert.Nil(t, rem.LastReminderSent)

	env.notifier.fail = false
	env.clock.Set(day(10, 5))
	res, err = env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestReminderRespectsPreference(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.prefs.SetRemindersEnabled(env.ctx, "u1", false))
	_, err := env.svc.CheckIn(env.ctx, "u1", "alice", "")
	require.NoError(t, err)

	env.clock.Set(day(12, 0))
	res, err := env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Skipped)
}

func TestReminderTicksManyUsers(t *testing.T) {
	env := newTestEnv(t)

	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	for _, u := range users {
		_, err := env.svc.CheckIn(env.ctx, u, u, "")
		require.NoError(t, err)
	}
	env.clock.Set(day(10, 0))
	res, err := env.scheduler.Tick(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, len(users), res.Checked)
	assert.Equal(t, len(users), res.Sent)
}

func TestDeactivateIgnoresOtherSession(t *testing.T) {
	env := newTestEnv(t)

	session, err := env.svc.CheckIn(env.ctx, "u1", "alice", "")
	require.NoError(t, err)
	require.NoError(t, env.scheduler.Deactivate(env.ctx, "u1", "some-old-session"))

	rem, err := env.store.Reminder(env.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rem.IsActive)
	assert.Equal(t, session.SessionID, rem.SessionID)

	require.NoError(t, env.scheduler.Touch(env.ctx, "nobody", day(9, 0)))
	missing, err := env.store.Reminder(env.ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
