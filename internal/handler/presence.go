package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"presence-bot/internal/i18n"
	"presence-bot/internal/mattermost"
	"presence-bot/internal/model"
	"presence-bot/internal/report"
	"presence-bot/internal/service"
	"presence-bot/internal/timeutil"
)

const (
	maxHistoryLimit = 50
	maxReportLimit  = 500
)

// UserDirectory looks up Mattermost users. The handler only needs their locale.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*mattermost.User, error)
}

type PresenceHandler struct {
	svc   *service.PresenceService
	prefs *service.PreferenceService
	users UserDirectory
	token string
	clock timeutil.Clock
}

// NewPresenceHandler builds the /presence command handler. users may be nil, in
// which case replies use the default locale. An empty token disables the
// slash command token check.
func NewPresenceHandler(svc *service.PresenceService, prefs *service.PreferenceService, users UserDirectory, token string) *PresenceHandler {
	return &PresenceHandler{svc: svc, prefs: prefs, users: users, token: token, clock: timeutil.SystemClock{}}
}

// SlashCommand is the Mattermost slash command request.
type SlashCommand struct {
	Token       string `json:"token" schema:"token"`
	TeamID      string `json:"team_id" schema:"team_id"`
	ChannelID   string `json:"channel_id" schema:"channel_id"`
	ChannelName string `json:"channel_name" schema:"channel_name"`
	UserID      string `json:"user_id" schema:"user_id"`
	UserName    string `json:"user_name" schema:"user_name"`
	Command     string `json:"command" schema:"command"`
	Text        string `json:"text" schema:"text"`
}

// SlashResponse is the response to a slash command.
type SlashResponse struct {
	ResponseType string                  `json:"response_type"` // "ephemeral" or "in_channel"
	Text         string                  `json:"text,omitempty"`
	Attachments  []mattermost.Attachment `json:"attachments,omitempty"`
}

func ephemeral(text string) SlashResponse {
	return SlashResponse{ResponseType: "ephemeral", Text: text}
}

// localeCtx fetches the user's locale from Mattermost and returns a context with locale set.
func (h *PresenceHandler) localeCtx(ctx context.Context, userID string) context.Context {
	if h.users == nil {
		return ctx
	}
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		slog.Warn("i18n: GetUser failed", "user_id", userID, "error", err)
		return ctx
	}
	if user.Locale == "" {
		return ctx
	}
	return i18n.WithLocale(ctx, user.Locale)
}

// HandleSlashCommand handles the /presence slash command.
func (h *PresenceHandler) HandleSlashCommand(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	cmd := SlashCommand{
		Token:       r.FormValue("token"),
		TeamID:      r.FormValue("team_id"),
		ChannelID:   r.FormValue("channel_id"),
		ChannelName: r.FormValue("channel_name"),
		UserID:      r.FormValue("user_id"),
		UserName:    r.FormValue("user_name"),
		Command:     r.FormValue("command"),
		Text:        r.FormValue("text"),
	}
	if h.token != "" && cmd.Token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if cmd.UserID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	ctx := h.localeCtx(r.Context(), cmd.UserID)
	writeJSON(w, h.dispatch(ctx, cmd))
}

func (h *PresenceHandler) dispatch(ctx context.Context, cmd SlashCommand) SlashResponse {
	sub, rest := splitArgs(cmd.Text)
	switch sub {
	case "in":
		return h.checkIn(ctx, cmd, rest)
	case "out":
		return h.checkOut(ctx, cmd, rest)
	case "break":
		return h.startBreak(ctx, cmd, rest)
	case "back":
		return h.endBreak(ctx, cmd, rest)
	case "status":
		return h.statusUpdate(ctx, cmd, rest)
	case "me":
		return h.me(ctx, cmd)
	case "team":
		return h.team(ctx, cmd)
	case "history":
		return h.history(ctx, cmd, rest)
	case "tz":
		return h.setTimezone(ctx, cmd, rest)
	case "reminders":
		return h.setReminders(ctx, cmd, rest)
	case "breaklen":
		return h.setBreakLength(ctx, cmd, rest)
	default:
		return ephemeral(i18n.T(ctx, "help"))
	}
}

func (h *PresenceHandler) checkIn(ctx context.Context, cmd SlashCommand, notes string) SlashResponse {
	session, err := h.svc.CheckIn(ctx, cmd.UserID, cmd.UserName, notes)
	if err != nil {
		return h.fail(ctx, cmd, "check-in", err)
	}
	loc := h.sessionZone(session)
	return ephemeral(i18n.T(ctx, "checkin.success", map[string]any{
		"Username": cmd.UserName,
		"Time":     timeutil.Format(session.CheckinTime, loc),
	}))
}

func (h *PresenceHandler) checkOut(ctx context.Context, cmd SlashCommand, notes string) SlashResponse {
	res, err := h.svc.CheckOut(ctx, cmd.UserID, notes)
	if err != nil {
		return h.fail(ctx, cmd, "check-out", err)
	}
	session := res.Session
	loc := h.sessionZone(session)

	var lines []string
	for _, sum := range res.AutoEnded {
		lines = append(lines, i18n.T(ctx, "checkout.auto_break", map[string]any{
			"Type":     sum.Break.Type.Info().DisplayName,
			"Duration": formatOptionalMinutes(sum.Break.Duration),
		}))
	}
	lines = append(lines, i18n.T(ctx, "checkout.success", map[string]any{
		"Time":  timeutil.Format(*session.CheckoutTime, loc),
		"Work":  formatOptionalMinutes(session.TotalWorkTime),
		"Break": timeutil.FormatMinutes(session.TotalBreakTime),
	}))
	return ephemeral(strings.Join(lines, "\n"))
}

func (h *PresenceHandler) startBreak(ctx context.Context, cmd SlashCommand, args string) SlashResponse {
	kind, notes := splitArgs(args)
	bt, err := model.ParseBreakType(kind)
	if err != nil {
		return ephemeral(i18n.T(ctx, "break.unknown_type", map[string]any{"Types": breakTypeList()}))
	}

	b, err := h.svc.StartBreak(ctx, cmd.UserID, bt, notes)
	if err != nil {
		return h.fail(ctx, cmd, "start break", err)
	}
	info := b.Type.Info()
	text := i18n.T(ctx, "break.started", map[string]any{
		"Emoji": info.Emoji,
		"Type":  info.DisplayName,
		"Time":  timeutil.Format(b.StartTime, h.userZone(ctx, cmd.UserID)),
	})
	if b.ExpectedDuration != nil {
		text += " " + i18n.T(ctx, "break.expected", map[string]any{
			"Expected": timeutil.FormatMinutes(*b.ExpectedDuration),
		})
	}
	return ephemeral(text)
}

func (h *PresenceHandler) endBreak(ctx context.Context, cmd SlashCommand, notes string) SlashResponse {
	sum, err := h.svc.EndBreak(ctx, cmd.UserID, notes)
	if err != nil {
		return h.fail(ctx, cmd, "end break", err)
	}
	text := i18n.T(ctx, "break.ended", map[string]any{
		"Type":     sum.Break.Type.Info().DisplayName,
		"Duration": formatOptionalMinutes(sum.Break.Duration),
	})
	if sum.Flagged && sum.Variance != nil && sum.Break.ExpectedDuration != nil {
		id, v := "break.variance_over", *sum.Variance
		if v < 0 {
			id, v = "break.variance_under", -v
		}
		text += "\n" + i18n.T(ctx, id, map[string]any{
			"Minutes":  timeutil.FormatMinutes(v),
			"Expected": timeutil.FormatMinutes(*sum.Break.ExpectedDuration),
		})
	}
	return ephemeral(text)
}

func (h *PresenceHandler) statusUpdate(ctx context.Context, cmd SlashCommand, text string) SlashResponse {
	u, err := h.svc.AddStatusUpdate(ctx, cmd.UserID, cmd.UserName, text)
	if err != nil {
		return h.fail(ctx, cmd, "status update", err)
	}
	return ephemeral(i18n.T(ctx, "status.recorded", map[string]any{"Status": u.Status}))
}

func (h *PresenceHandler) me(ctx context.Context, cmd SlashCommand) SlashResponse {
	state, err := h.svc.GetCurrentState(ctx, cmd.UserID)
	if err != nil {
		return h.fail(ctx, cmd, "current state", err)
	}
	if state == nil {
		return ephemeral(i18n.T(ctx, "me.never"))
	}

	loc := h.userZone(ctx, cmd.UserID)
	st := state.Status
	if !st.Status.Active() || state.Session == nil {
		last := "-"
		if st.LastCheckout != nil {
			last = timeutil.FormatDateTime(*st.LastCheckout, loc)
		}
		return ephemeral(i18n.T(ctx, "me.checked_out", map[string]any{"Time": last}))
	}

	session := state.Session
	lines := []string{i18n.T(ctx, "me.active", map[string]any{
		"Status":  stateName(ctx, st.Status),
		"Since":   timeutil.Format(session.CheckinTime, loc),
		"Elapsed": timeutil.FormatMinutes(timeutil.ElapsedMinutes(session.CheckinTime, h.clock.Now())),
		"Break":   timeutil.FormatMinutes(session.TotalBreakTime),
		"Updates": session.StatusUpdateCount,
	})}
	if b := state.ActiveBreak; b != nil {
		lines = append(lines, i18n.T(ctx, "me.on_break", map[string]any{
			"Type":  b.Type.Info().DisplayName,
			"Since": timeutil.Format(b.StartTime, loc),
		}))
	}
	if session.LastWorkStatus != "" {
		lines = append(lines, i18n.T(ctx, "me.last_status", map[string]any{"Status": session.LastWorkStatus}))
	}
	return ephemeral(strings.Join(lines, "\n"))
}

func (h *PresenceHandler) team(ctx context.Context, cmd SlashCommand) SlashResponse {
	users, err := h.svc.GetActiveUsers(ctx)
	if err != nil {
		return h.fail(ctx, cmd, "active users", err)
	}
	if len(users) == 0 {
		return ephemeral(i18n.T(ctx, "team.empty"))
	}

	loc := h.userZone(ctx, cmd.UserID)
	lines := []string{i18n.T(ctx, "team.header")}
	for _, u := range users {
		since := u.LastActivity
		if u.CurrentSession != nil {
			since = u.CurrentSession.CheckinTime
		}
		if u.Status == model.PresenceOnBreak && u.CurrentSession != nil && u.CurrentSession.CurrentBreak != nil {
			since = u.CurrentSession.CurrentBreak.StartTime
		}
		lines = append(lines, i18n.T(ctx, "team.line", map[string]any{
			"Username": u.Username,
			"Status":   stateName(ctx, u.Status),
			"Since":    timeutil.Format(since, loc),
		}))
	}
	return ephemeral(strings.Join(lines, "\n"))
}

func (h *PresenceHandler) history(ctx context.Context, cmd SlashCommand, arg string) SlashResponse {
	limit := 0
	if arg != "" {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			limit = min(n, maxHistoryLimit)
		}
	}
	sessions, err := h.svc.GetUserSessionHistory(ctx, cmd.UserID, limit)
	if err != nil {
		return h.fail(ctx, cmd, "session history", err)
	}
	if len(sessions) == 0 {
		return ephemeral(i18n.T(ctx, "history.empty"))
	}

	lines := []string{i18n.T(ctx, "history.header", map[string]any{"Count": len(sessions)})}
	for _, s := range sessions {
		loc := h.sessionZone(s)
		checkout := i18n.T(ctx, "history.active")
		if s.CheckoutTime != nil {
			checkout = timeutil.Format(*s.CheckoutTime, loc)
		}
		lines = append(lines, i18n.T(ctx, "history.line", map[string]any{
			"Date":     s.Date,
			"Checkin":  timeutil.Format(s.CheckinTime, loc),
			"Checkout": checkout,
			"Work":     formatOptionalMinutes(s.TotalWorkTime),
			"Break":    timeutil.FormatMinutes(s.TotalBreakTime),
		}))
	}
	return ephemeral(strings.Join(lines, "\n"))
}

func (h *PresenceHandler) setTimezone(ctx context.Context, cmd SlashCommand, name string) SlashResponse {
	loc, err := h.prefs.SetTimezone(ctx, cmd.UserID, name)
	if errors.Is(err, service.ErrUnknownTimezone) {
		return ephemeral(i18n.T(ctx, "tz.invalid", map[string]any{"Zone": name}))
	}
	if err != nil {
		return h.fail(ctx, cmd, "set timezone", err)
	}
	return ephemeral(i18n.T(ctx, "tz.updated", map[string]any{"Zone": loc.String()}))
}

func (h *PresenceHandler) setReminders(ctx context.Context, cmd SlashCommand, arg string) SlashResponse {
	var enabled bool
	switch strings.ToLower(arg) {
	case "on":
		enabled = true
	case "off":
	default:
		return ephemeral(i18n.T(ctx, "reminders.usage"))
	}
	if err := h.prefs.SetRemindersEnabled(ctx, cmd.UserID, enabled); err != nil {
		return h.fail(ctx, cmd, "set reminders", err)
	}
	if enabled {
		return ephemeral(i18n.T(ctx, "reminders.on"))
	}
	return ephemeral(i18n.T(ctx, "reminders.off"))
}

func (h *PresenceHandler) setBreakLength(ctx context.Context, cmd SlashCommand, args string) SlashResponse {
	kind, rest := splitArgs(args)
	bt, err := model.ParseBreakType(kind)
	if err != nil {
		return ephemeral(i18n.T(ctx, "breaklen.usage"))
	}
	minutes, err := strconv.Atoi(rest)
	if err != nil || minutes <= 0 {
		return ephemeral(i18n.T(ctx, "breaklen.usage"))
	}
	if err := h.prefs.SetBreakDuration(ctx, cmd.UserID, bt, minutes); err != nil {
		return h.fail(ctx, cmd, "set break length", err)
	}
	return ephemeral(i18n.T(ctx, "breaklen.updated", map[string]any{
		"Type":    bt.Info().DisplayName,
		"Minutes": timeutil.FormatMinutes(minutes),
	}))
}

// fail turns a service error into a reply. State conflicts are expected and
// not logged; anything else is.
func (h *PresenceHandler) fail(ctx context.Context, cmd SlashCommand, op string, err error) SlashResponse {
	var (
		active   *service.AlreadyActiveError
		onBreak  *service.AlreadyOnBreakError
		notBreak *service.NotOnBreakError
		notIn    *service.NotCheckedInError
	)
	switch {
	case errors.As(err, &active):
		return ephemeral(i18n.T(ctx, "checkin.already_active", map[string]any{"Status": stateName(ctx, active.Status)}))
	case errors.As(err, &onBreak):
		return ephemeral(i18n.T(ctx, "break.already_on", map[string]any{"Type": onBreak.Break.Info().DisplayName}))
	case errors.As(err, &notBreak):
		return ephemeral(i18n.T(ctx, "break.not_on"))
	case errors.As(err, &notIn):
		return ephemeral(i18n.T(ctx, "not_checked_in"))
	case errors.Is(err, service.ErrEmptyStatus):
		return ephemeral(i18n.T(ctx, "status.empty"))
	case service.IsNotFound(err):
		slog.Error("Presence command hit a missing record", "op", op, "user_id", cmd.UserID, "error", err)
		return ephemeral(i18n.T(ctx, "error.not_found"))
	default:
		slog.Error("Presence command failed", "op", op, "user_id", cmd.UserID, "error", err)
		return ephemeral(i18n.T(ctx, "error.generic"))
	}
}

// HandleReport streams an xlsx of either one day's sessions (?date=YYYY-MM-DD)
// or one user's history (?user_id=...&limit=n).
func (h *PresenceHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		sessions []*model.CheckinSession
		title    string
		filename string
		err      error
	)
	switch date, userID := q.Get("date"), q.Get("user_id"); {
	case date != "":
		if _, perr := time.Parse(time.DateOnly, date); perr != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		sessions, err = h.svc.GetSessionsByDate(r.Context(), date)
		title = "Sessions " + date
		filename = report.Filename(date)
	case userID != "":
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, perr := strconv.Atoi(v)
			if perr != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxReportLimit)
		}
		sessions, err = h.svc.GetUserSessionHistory(r.Context(), userID, limit)
		title = "Sessions for " + userID
		filename = report.Filename(userID, "history")
	default:
		http.Error(w, "date or user_id is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Report query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	wb, err := report.SessionsWorkbook(title, sessions, h.prefs.DefaultZone())
	if err != nil {
		slog.Error("Report render failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer wb.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := wb.WriteTo(w); err != nil {
		slog.Error("Report write failed", "error", err)
	}
}

// HandleActive lists users who are checked in or on break.
func (h *PresenceHandler) HandleActive(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.GetActiveUsers(r.Context())
	if err != nil {
		slog.Error("Active users query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []*model.UserStatus{}
	}
	writeJSON(w, map[string]any{"users": users})
}

// RegisterRoutes registers all presence routes on the given mux.
func (h *PresenceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/presence", h.HandleSlashCommand)
	mux.HandleFunc("GET /api/presence/report", h.HandleReport)
	mux.HandleFunc("GET /api/presence/active", h.HandleActive)
}

func (h *PresenceHandler) userZone(ctx context.Context, userID string) *time.Location {
	_, loc, err := h.prefs.Timezone(ctx, userID)
	if err != nil {
		slog.Warn("Failed to resolve user timezone", "user_id", userID, "error", err)
		return h.prefs.DefaultZone()
	}
	return loc
}

func (h *PresenceHandler) sessionZone(s *model.CheckinSession) *time.Location {
	return timeutil.LoadZone(s.Timezone, h.prefs.DefaultZone())
}

// splitArgs cuts the first word off text, lowercased, and returns the trimmed remainder.
func splitArgs(text string) (string, string) {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return strings.ToLower(text), ""
	}
	return strings.ToLower(text[:i]), strings.TrimSpace(text[i:])
}

func stateName(ctx context.Context, s model.PresenceState) string {
	return i18n.T(ctx, "state."+string(s))
}

func breakTypeList() string {
	types := model.BreakTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = "`" + string(t.Type) + "`"
	}
	return strings.Join(names, ", ")
}

func formatOptionalMinutes(n *int) string {
	if n == nil {
		return "-"
	}
	return timeutil.FormatMinutes(*n)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}
