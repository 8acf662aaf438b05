package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"presence-bot/internal/i18n"
	"presence-bot/internal/mattermost"
	"presence-bot/internal/model"
	"presence-bot/internal/report"
	"presence-bot/internal/service"
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

type fakeDirectory map[string]string

func (d fakeDirectory) GetUser(_ context.Context, userID string) (*mattermost.User, error) {
	locale, ok := d[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return &mattermost.User{ID: userID, Username: userID, Locale: locale}, nil
}

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

type handlerEnv struct {
	clock *fakeClock
	mux   *http.ServeMux
	token string
}

func newHandlerEnv(t *testing.T, token string, users UserDirectory) *handlerEnv {
	t.Helper()
	clock := &fakeClock{now: at(9, 0)}
	st := store.NewPresenceStore(store.NewMemory())
	prefs := service.NewPreferenceService(st, time.UTC, clock)
	svc := service.NewPresenceService(st, prefs, nil, clock)

	h := NewPresenceHandler(svc, prefs, users, token)
	h.clock = clock
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &handlerEnv{clock: clock, mux: mux, token: token}
}

func (e *handlerEnv) post(form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/presence", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *handlerEnv) command(t *testing.T, userID, username, text string) string {
	t.Helper()
	rec := e.post(url.Values{
		"token":     {e.token},
		"user_id":   {userID},
		"user_name": {username},
		"command":   {"/presence"},
		"text":      {text},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp SlashResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ephemeral", resp.ResponseType)
	return resp.Text
}

func TestSlashCommandWorkday(t *testing.T) {
	env := newHandlerEnv(t, "", nil)

	assert.Equal(t, ":white_check_mark: @alice checked in at 09:00 UTC.", env.command(t, "u1", "alice", "in office"))
	assert.Equal(t, "You are already Checked in. Use `/presence out` to check out first.", env.command(t, "u1", "alice", "in"))

	assert.Contains(t, env.command(t, "u1", "alice", "break nap"), "`short`, `lunch`, `personal`, `meeting`")

	env.clock.Set(at(9, 30))
	assert.Equal(t, ":fork_and_knife: Lunch Break started at 09:30 UTC. Expected back in 45m.", env.command(t, "u1", "alice", "break Lunch sandwiches"))
	assert.Equal(t, "You are already on a Lunch Break. Use `/presence back` to end it.", env.command(t, "u1", "alice", "break short"))

	env.clock.Set(at(10, 25))
	assert.Equal(t, "Welcome back! Your Lunch Break lasted 55m.\nThat was 10m longer than the expected 45m.", env.command(t, "u1", "alice", "back"))
	assert.Equal(t, "You are not on a break. Use `/presence break <type>` to start one.", env.command(t, "u1", "alice", "back"))

	assert.Contains(t, env.command(t, "u1", "alice", "status"), "Please include a status")
	assert.Equal(t, ":memo: Status recorded: reviewing PRs", env.command(t, "u1", "alice", "status   reviewing PRs"))

	env.clock.Set(at(11, 0))
	assert.Equal(t,
		"**Checked in** since 09:00 UTC (2h 00m elapsed, 55m of breaks, 1 updates).\nLast status: reviewing PRs",
		env.command(t, "u1", "alice", "me"))

	env.command(t, "u2", "bob", "in")
	team := env.command(t, "u1", "alice", "team")
	assert.Contains(t, team, "**Team presence**")
	assert.Contains(t, team, "- @alice: Checked in since 09:00 UTC")
	assert.Contains(t, team, "- @bob: Checked in since 11:00 UTC")

	env.clock.Set(at(17, 0))
	assert.Equal(t, ":wave: Checked out at 17:00 UTC. Worked 7h 05m with 55m of breaks.", env.command(t, "u1", "alice", "out done"))
	assert.Equal(t, "You are not checked in. Use `/presence in` to start your day.", env.command(t, "u1", "alice", "out"))
	assert.Equal(t, "You are checked out. Last checkout: 2026-03-02 17:00.", env.command(t, "u1", "alice", "me"))

	history := env.command(t, "u1", "alice", "history 5")
	assert.Contains(t, history, "**Your last 1 sessions**")
	assert.Contains(t, history, "- 2026-03-02: 09:00 UTC to 17:00 UTC, worked 7h 05m, breaks 55m")
}

func TestSlashCommandCheckoutEndsBreak(t *testing.T) {
	env := newHandlerEnv(t, "", nil)

	env.command(t, "u1", "alice", "in")
	env.clock.Set(at(12, 0))
	env.command(t, "u1", "alice", "break meeting standup")
	env.clock.Set(at(12, 30))

	reply := env.command(t, "u1", "alice", "out")
	assert.Equal(t, "Your Meeting was ended automatically after 30m.\n:wave: Checked out at 12:30 UTC. Worked 3h 00m with 30m of breaks.", reply)
}

func TestSlashCommandNeverCheckedIn(t *testing.T) {
	env := newHandlerEnv(t, "", nil)

	assert.Equal(t, "You have not checked in yet.", env.command(t, "u1", "alice", "me"))
	assert.Equal(t, "No sessions yet.", env.command(t, "u1", "alice", "history"))
	assert.Equal(t, "Nobody is checked in right now.", env.command(t, "u1", "alice", "team"))
	assert.Equal(t, "You are not checked in. Use `/presence in` to start your day.", env.command(t, "u1", "alice", "status hello"))
	assert.Contains(t, env.command(t, "u1", "alice", ""), "**Presence commands**")
	assert.Contains(t, env.command(t, "u1", "alice", "dance"), "**Presence commands**")
}

func TestSlashCommandPreferences(t *testing.T) {
	env := newHandlerEnv(t, "", nil)

	assert.Equal(t, "Unknown timezone `Nowhere/City`. Use an IANA name like `Europe/Berlin`.", env.command(t, "u1", "alice", "tz Nowhere/City"))
	assert.Equal(t, "Timezone set to Europe/Berlin.", env.command(t, "u1", "alice", "tz Europe/Berlin"))
	assert.Equal(t, ":white_check_mark: @alice checked in at 10:00 CET.", env.command(t, "u1", "alice", "in"))

	assert.Equal(t, "Usage: `/presence reminders on` or `/presence reminders off`.", env.command(t, "u1", "alice", "reminders maybe"))
	assert.Equal(t, "Status reminders are off.", env.command(t, "u1", "alice", "reminders OFF"))
	assert.Equal(t, "Status reminders are on.", env.command(t, "u1", "alice", "reminders on"))

	assert.Contains(t, env.command(t, "u1", "alice", "breaklen short"), "Usage:")
	assert.Contains(t, env.command(t, "u1", "alice", "breaklen nap 10"), "Usage:")
	assert.Equal(t, "Your Short Break is now expected to last 10m.", env.command(t, "u1", "alice", "breaklen short 10"))
	assert.Contains(t, env.command(t, "u1", "alice", "break short"), "Expected back in 10m.")
}

func TestSlashCommandLocale(t *testing.T) {
	env := newHandlerEnv(t, "", fakeDirectory{"u1": "vi", "u2": ""})

	assert.Equal(t, "Bạn chưa check-in. Dùng `/presence in` để bắt đầu ngày làm việc.", env.command(t, "u1", "an", "out"))
	assert.Equal(t, "You are not checked in. Use `/presence in` to start your day.", env.command(t, "u2", "bob", "out"))
	// Directory failures fall back to the default locale.
	assert.Equal(t, "You are not checked in. Use `/presence in` to start your day.", env.command(t, "u3", "carol", "out"))
}

func TestSlashCommandRejectsBadRequests(t *testing.T) {
	env := newHandlerEnv(t, "secret", nil)

	rec := env.post(url.Values{"token": {"wrong"}, "user_id": {"u1"}, "text": {"in"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.post(url.Values{"token": {"secret"}, "text": {"in"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Contains(t, env.command(t, "u1", "alice", "in"), "checked in")
}

func TestReportEndpoint(t *testing.T) {
	env := newHandlerEnv(t, "", nil)

	env.command(t, "u1", "alice", "in")
	env.clock.Set(at(17, 0))
	env.command(t, "u1", "alice", "out")

	for _, target := range []string{"/api/presence/report?date=2026-03-02", "/api/presence/report?user_id=u1&limit=5"} {
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, report.ContentType, rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=")

		f, err := excelize.OpenReader(rec.Body)
		require.NoError(t, err)
		rows, err := f.GetRows(report.SheetName)
		require.NoError(t, err)
		require.Len(t, rows, 3, target)
		assert.Equal(t, "alice", rows[2][0])
		assert.Equal(t, "480", rows[2][5])
		f.Close()
	}

	for _, target := range []string{
		"/api/presence/report",
		"/api/presence/report?date=03-02-2026",
		"/api/presence/report?user_id=u1&limit=-1",
	} {
		rec := httptest.NewRecorder()
		env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestActiveEndpoint(t *testing.T) {
	env := newHandlerEnv(t, "", nil)

	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence/active", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":[]}`, rec.Body.String())

	env.command(t, "u1", "alice", "in")
	env.command(t, "u2", "bob", "in")
	env.command(t, "u2", "bob", "break short")

	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence/active", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Users []model.UserStatus `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Users, 2)
	assert.Equal(t, "alice", body.Users[0].Username)
	assert.Equal(t, model.PresenceCheckedIn, body.Users[0].Status)
	assert.Equal(t, model.PresenceOnBreak, body.Users[1].Status)
	require.NotNil(t, body.Users[1].CurrentSession)
	require.NotNil(t, body.Users[1].CurrentSession.CurrentBreak)
	assert.Equal(t, model.BreakShort, body.Users[1].CurrentSession.CurrentBreak.Type)
}

func TestSplitArgs(t *testing.T) {
	sub, rest := splitArgs("  BREAK\tlunch  with team ")
	assert.Equal(t, "break", sub)
	assert.Equal(t, "lunch  with team", rest)

	sub, rest = splitArgs("me")
	assert.Equal(t, "me", sub)
	assert.Empty(t, rest)

	sub, rest = splitArgs("")
	assert.Empty(t, sub)
	assert.Empty(t, rest)
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
