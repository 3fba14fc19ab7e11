package location

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewName_Bounds(t *testing.T) {
	name, err := NewName(" Berlin HQ ")
	require.NoError(t, err)
	require.Equal(t, "Berlin HQ", name.String())

	_, err = NewName("ab")
	require.ErrorIs(t, err, ErrInvalidLocation)

	_, err = NewName(strings.Repeat("x", 121))
	require.ErrorIs(t, err, ErrInvalidLocation)
}

func TestNewAddress_RequiresAllParts(t *testing.T) {
	addr, err := NewAddress(" Germany ", "Berlin", "Unter den Linden 1")
	require.NoError(t, err)
	require.Equal(t, "Germany", addr.Country)

	_, err = NewAddress("", "Berlin", "Street")
	require.ErrorIs(t, err, ErrInvalidLocation)

	_, err = NewAddress("Germany", "  ", "Street")
	require.ErrorIs(t, err, ErrInvalidLocation)
}

func TestNewTimezone_Pattern(t *testing.T) {
	tz, err := NewTimezone("Europe/Berlin")
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", tz.String())

	for _, bad := range []string{"", "Berlin", "Europe/", "Europe/Berlin/Extra", "UTC+2"} {
		_, err := NewTimezone(bad)
		require.ErrorIs(t, err, ErrInvalidLocation, "timezone %q", bad)
	}
}

func TestSoftDelete(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	loc := New(mustName(t, "Berlin HQ"), mustAddress(t), mustTimezone(t), now)
	require.True(t, loc.IsActive)

	deletedAt := now.Add(time.Hour)
	loc.SoftDelete(deletedAt)
	require.False(t, loc.IsActive)
	require.Equal(t, deletedAt, *loc.DeletedAt)
}

func mustName(t *testing.T, raw string) Name {
	t.Helper()
	n, err := NewName(raw)
	require.NoError(t, err)
	return n
}

func mustAddress(t *testing.T) Address {
	t.Helper()
	a, err := NewAddress("Germany", "Berlin", "Unter den Linden 1")
	require.NoError(t, err)
	return a
}

func mustTimezone(t *testing.T) Timezone {
	t.Helper()
	tz, err := NewTimezone("Europe/Berlin")
	require.NoError(t, err)
	return tz
}
