package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name   string    `bson:"name"`
	Count  int       `bson:"count"`
	At     time.Time `bson:"at"`
	Nested *nested   `bson:"nested,omitempty"`
}

type nested struct {
	Label string `bson:"label"`
	Total int    `bson:"total"`
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory()
	var d doc
	assert.ErrorIs(t, m.Get(context.Background(), Collection("things"), "nope", &d), ErrNotFound)
}

func TestMemoryMergeNestedAndUnset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := Collection("things")

	require.NoError(t, m.Set(ctx, p, "a", doc{Name: "a", Nested: &nested{Label: "x", Total: 1}}))
	require.NoError(t, m.Merge(ctx, p, "a", Fields{"nested.total": 5, "count": 2}))

	var got doc
	require.NoError(t, m.Get(ctx, p, "a", &got))
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 2, got.Count)
	require.NotNil(t, got.Nested)
	assert.Equal(t, "x", got.Nested.Label)
	assert.Equal(t, 5, got.Nested.Total)

	require.NoError(t, m.Merge(ctx, p, "a", Fields{"nested": nil}))
	got = doc{}
	require.NoError(t, m.Get(ctx, p, "a", &got))
	assert.Nil(t, got.Nested)
}

func TestMemoryMergeCreates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := Collection("things")

	require.NoError(t, m.Merge(ctx, p, "new", Fields{"name": "fresh"}))
	var got doc
	require.NoError(t, m.Get(ctx, p, "new", &got))
	assert.Equal(t, "fresh", got.Name)
}

func TestMemoryIncrement(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := Collection("things")

	assert.ErrorIs(t, m.Increment(ctx, p, "a", "count", 1), ErrNotFound)

	require.NoError(t, m.Set(ctx, p, "a", doc{Name: "a"}))
	require.NoError(t, m.Increment(ctx, p, "a", "count", 3))
	require.NoError(t, m.Increment(ctx, p, "a", "count", 4))
	require.NoError(t, m.Increment(ctx, p, "a", "nested.total", 2))

	var got doc
	require.NoError(t, m.Get(ctx, p, "a", &got))
	assert.Equal(t, 7, got.Count)
	require.NotNil(t, got.Nested)
	assert.Equal(t, 2, got.Nested.Total)

	require.NoError(t, m.Merge(ctx, p, "a", Fields{"name": "text"}))
	assert.Error(t, m.Increment(ctx, p, "a", "name", 1))
}

func TestMemoryQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := Collection("things")
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	for i, name := range []string{"c", "a", "b", "d"} {
		require.NoError(t, m.Set(ctx, p, name, doc{Name: name, Count: i % 2, At: base.Add(time.Duration(i) * time.Minute)}))
	}

	var desc []*doc
	require.NoError(t, m.Query(ctx, p, Query{OrderBy: "at", Desc: true, Limit: 3}, &desc))
	require.Len(t, desc, 3)
	assert.Equal(t, []string{"d", "b", "a"}, []string{desc[0].Name, desc[1].Name, desc[2].Name})

	var odd []doc
	require.NoError(t, m.Query(ctx, p, Query{Filters: []Filter{Where("count", OpEq, 1)}, OrderBy: "name"}, &odd))
	require.Len(t, odd, 2)
	assert.Equal(t, "a", odd[0].Name)
	assert.Equal(t, "d", odd[1].Name)

	var some []*doc
	require.NoError(t, m.Query(ctx, p, Query{Filters: []Filter{Where("name", OpIn, []string{"a", "c", "z"})}}, &some))
	assert.Len(t, some, 2)

	var bad []*doc
	assert.Error(t, m.Query(ctx, p, Query{Filters: []Filter{Where("name", OpIn, "a")}}, &bad))
	assert.Error(t, m.Query(ctx, p, Query{}, bad))
}

func TestMemorySubcollectionsAreScoped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, Sub("parents", "p1", "kids"), "k1", doc{Name: "one"}))
	require.NoError(t, m.Set(ctx, Sub("parents", "p2", "kids"), "k2", doc{Name: "two"}))

	var kids []*doc
	require.NoError(t, m.Query(ctx, Sub("parents", "p1", "kids"), Query{}, &kids))
	require.Len(t, kids, 1)
	assert.Equal(t, "one", kids[0].Name)

	var d doc
	assert.ErrorIs(t, m.Get(ctx, Sub("parents", "p1", "kids"), "k2", &d), ErrNotFound)
	assert.Equal(t, "parents/p1/kids", Sub("parents", "p1", "kids").String())
}
