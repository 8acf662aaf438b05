package model

import (
	"fmt"
	"strings"
)

// BreakType is one of the fixed kinds of break a user can take.
type BreakType string

const (
	BreakShort    BreakType = "short"
	BreakLunch    BreakType = "lunch"
	BreakPersonal BreakType = "personal"
	BreakMeeting  BreakType = "meeting"
)

// BreakTypeInfo describes how a break type is displayed and how long it is expected to last.
type BreakTypeInfo struct {
	Type        BreakType
	DisplayName string
	Emoji       string
	// ExpectedMinutes is nil for types without an expected length.
	ExpectedMinutes *int
}

func minutes(n int) *int { return &n }

var breakTypes = [...]BreakTypeInfo{
	{Type: BreakShort, DisplayName: "Short Break", Emoji: ":coffee:", ExpectedMinutes: minutes(15)},
	{Type: BreakLunch, DisplayName: "Lunch Break", Emoji: ":fork_and_knife:", ExpectedMinutes: minutes(45)},
	{Type: BreakPersonal, DisplayName: "Personal Break", Emoji: ":walking:", ExpectedMinutes: minutes(20)},
	{Type: BreakMeeting, DisplayName: "Meeting", Emoji: ":busts_in_silhouette:"},
}

// BreakTypes returns the break type table in display order.
func BreakTypes() []BreakTypeInfo {
	out := make([]BreakTypeInfo, len(breakTypes))
	copy(out, breakTypes[:])
	return out
}

// ParseBreakType converts user input into a BreakType. Matching is case-insensitive.
func ParseBreakType(s string) (BreakType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, info := range breakTypes {
		if string(info.Type) == s {
			return info.Type, nil
		}
	}
	return "", fmt.Errorf("unknown break type %q", s)
}

// Valid reports whether t is one of the known break types.
func (t BreakType) Valid() bool {
	_, ok := t.lookup()
	return ok
}

// Info returns the table entry for t. Unknown types return a zero entry carrying only the raw name.
func (t BreakType) Info() BreakTypeInfo {
	if info, ok := t.lookup(); ok {
		return info
	}
	return BreakTypeInfo{Type: t, DisplayName: string(t)}
}

// ExpectedMinutes returns a copy of the expected length, or nil.
func (t BreakType) ExpectedMinutes() *int {
	info := t.Info()
	if info.ExpectedMinutes == nil {
		return nil
	}
	return minutes(*info.ExpectedMinutes)
}

func (t BreakType) lookup() (BreakTypeInfo, bool) {
	for _, info := range breakTypes {
		if info.Type == t {
			return info, true
		}
	}
	return BreakTypeInfo{}, false
}
