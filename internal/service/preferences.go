package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"presence-bot/internal/model"
	"presence-bot/internal/store"
	"presence-bot/internal/timeutil"
)

var ErrUnknownTimezone = errors.New("unknown timezone")

type PreferenceService struct {
	store       *store.PresenceStore
	defaultZone *time.Location
	clock       timeutil.Clock
}

func NewPreferenceService(st *store.PresenceStore, defaultZone *time.Location, clock timeutil.Clock) *PreferenceService {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &PreferenceService{store: st, defaultZone: defaultZone, clock: clock}
}

func (p *PreferenceService) DefaultZone() *time.Location {
	return p.defaultZone
}

// Get returns the user's preferences, or nil if they never set any.
func (p *PreferenceService) Get(ctx context.Context, userID string) (*model.UserPreferences, error) {
	prefs, err := p.store.Preferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return prefs, nil
}

// Timezone resolves the user's zone name and location, falling back to the system default.
func (p *PreferenceService) Timezone(ctx context.Context, userID string) (string, *time.Location, error) {
	prefs, err := p.Get(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if prefs != nil && prefs.Timezone != "" {
		if loc, err := time.LoadLocation(prefs.Timezone); err == nil {
			return prefs.Timezone, loc, nil
		}
	}
	return p.defaultZone.String(), p.defaultZone, nil
}

func (p *PreferenceService) SetTimezone(ctx context.Context, userID, name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil || name == "" {
		return nil, fmt.Errorf("%w %q", ErrUnknownTimezone, name)
	}
	if err := p.store.MergePreferences(ctx, userID, store.Fields{
		"timezone":   name,
		"updated_at": p.clock.Now(),
	}); err != nil {
		return nil, fmt.Errorf("save timezone: %w", err)
	}
	return loc, nil
}

// SetBreakDuration overrides the expected length of one break type for the user.
func (p *PreferenceService) SetBreakDuration(ctx context.Context, userID string, bt model.BreakType, minutes int) error {
	if !bt.Valid() {
		return fmt.Errorf("unknown break type %q", bt)
	}
	if minutes <= 0 {
		return fmt.Errorf("break duration must be positive, got %d", minutes)
	}
	if err := p.store.MergePreferences(ctx, userID, store.Fields{
		"break_durations." + string(bt): minutes,
		"updated_at":                    p.clock.Now(),
	}); err != nil {
		return fmt.Errorf("save break duration: %w", err)
	}
	return nil
}

func (p *PreferenceService) SetRemindersEnabled(ctx context.Context, userID string, enabled bool) error {
	if err := p.store.MergePreferences(ctx, userID, store.Fields{
		"reminders_enabled": enabled,
		"updated_at":        p.clock.Now(),
	}); err != nil {
		return fmt.Errorf("save reminder setting: %w", err)
	}
	return nil
}

// ExpectedBreakMinutes returns the user's override for bt, or the break type default.
func (p *PreferenceService) ExpectedBreakMinutes(ctx context.Context, userID string, bt model.BreakType) (*int, error) {
	prefs, err := p.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prefs != nil {
		if m, ok := prefs.BreakDurations[bt]; ok && m > 0 {
			return &m, nil
		}
	}
	return bt.ExpectedMinutes(), nil
}
