package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"presence-bot/internal/i18n"
	"presence-bot/internal/mattermost"
	"presence-bot/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	UserID      string
	Attachments []mattermost.Attachment
	Fallback    string
	At          time.Time
}

type fakeNotifier struct {
	mu    sync.Mutex
	clock *fakeClock
	sent  []sentMessage
	fail  bool
}

func (n *fakeNotifier) SendDirectMessage(_ context.Context, userID string, attachments []mattermost.Attachment, fallback string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("mattermost unavailable")
	}
	n.sent = append(n.sent, sentMessage{UserID: userID, Attachments: attachments, Fallback: fallback, At: n.clock.Now()})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testEnv struct {
	ctx       context.Context
	clock     *fakeClock
	store     *store.PresenceStore
	prefs     *PreferenceService
	notifier  *fakeNotifier
	scheduler *ReminderScheduler
	svc       *PresenceService
}

// day returns 2026-03-02 at hh:mm UTC.
func day(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock(day(9, 0))
	st := store.NewPresenceStore(store.NewMemory())
	prefs := NewPreferenceService(st, time.UTC, clock)
	notifier := &fakeNotifier{clock: clock}
	scheduler := NewReminderScheduler(st, prefs, notifier, clock, ReminderConfig{})
	return &testEnv{
		ctx:       context.Background(),
		clock:     clock,
		store:     st,
		prefs:     prefs,
		notifier:  notifier,
		scheduler: scheduler,
		svc:       NewPresenceService(st, prefs, scheduler, clock),
	}
}
