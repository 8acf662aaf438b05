package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBreakType(t *testing.T) {
	bt, err := ParseBreakType(" Lunch ")
	require.NoError(t, err)
	assert.Equal(t, BreakLunch, bt)

	_, err = ParseBreakType("nap")
	assert.Error(t, err)
}

func TestBreakTypeExpectedMinutes(t *testing.T) {
	cases := map[BreakType]*int{
		BreakShort:    minutes(15),
		BreakLunch:    minutes(45),
		BreakPersonal: minutes(20),
		BreakMeeting:  nil,
	}
	for bt, want := range cases {
		assert.Equal(t, want, bt.ExpectedMinutes(), bt)
		assert.True(t, bt.Valid())
	}
	assert.Len(t, BreakTypes(), len(cases))
}

func TestExpectedMinutesIsCopy(t *testing.T) {
	m := BreakShort.ExpectedMinutes()
	*m = 99
	assert.Equal(t, 15, *BreakShort.ExpectedMinutes())
}

func TestUnknownBreakTypeInfo(t *testing.T) {
	info := BreakType("nap").Info()
	assert.Equal(t, "nap", info.DisplayName)
	assert.Nil(t, info.ExpectedMinutes)
	assert.False(t, BreakType("nap").Valid())
}
