package extrunner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetters(t *testing.T) {
	t.Parallel()

	st := State{
		"name":   "acme",
		"count":  3.0,
		"limit":  7,
		"ratio":  0.5,
		"on":     true,
		"tags":   []any{"a", "b"},
		"mixed":  []any{"a", 1.0},
		"nested": map[string]any{"k": "v"},
	}

	s, ok := GetString(st, "name")
	assert.True(t, ok)
	assert.Equal(t, "acme", s)
	_, ok = GetString(st, "count")
	assert.False(t, ok)

	i, ok := GetInt(st, "count")
	assert.True(t, ok)
	assert.Equal(t, 3, i)
	i, ok = GetInt(st, "limit")
	assert.True(t, ok)
	assert.Equal(t, 7, i)
	_, ok = GetInt(st, "name")
	assert.False(t, ok)

	f, ok := GetFloat(st, "ratio")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	b, ok := GetBool(st, "on")
	assert.True(t, ok)
	assert.True(t, b)

	tags, ok := GetStringSlice(st, "tags")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, tags)
	_, ok = GetStringSlice(st, "mixed")
	assert.False(t, ok)

	nested, ok := GetState(st, "nested")
	assert.True(t, ok)
	assert.Equal(t, State{"k": "v"}, nested)
	_, ok = GetState(st, "missing")
	assert.False(t, ok)
}

func TestMustGetters(t *testing.T) {
	t.Parallel()

	st := State{"name": "acme", "count": 2.0}

	s, err := MustGetString(st, "name")
	require.NoError(t, err)
	assert.Equal(t, "acme", s)

	_, err = MustGetString(st, "owner")
	var fieldErr *StateFieldError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "owner", fieldErr.Field)

	i, err := MustGetInt(st, "count")
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	_, err = MustGetInt(st, "name")
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	st := State{"name": "acme"}
	assert.Equal(t, "acme", GetStringDefault(st, "name", "x"))
	assert.Equal(t, "x", GetStringDefault(st, "other", "x"))
	assert.Equal(t, 9, GetIntDefault(st, "count", 9))
	assert.True(t, GetBoolDefault(st, "on", true))
}
