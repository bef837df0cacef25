package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

var _ savecode.Clock = New()

func TestNowIsCurrentUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "%v outside [%v, %v]", got, before, after)
}

// Request dates are compared after a store round trip, so they must not
// carry a process-local monotonic reading.
func TestNowHasNoMonotonicReading(t *testing.T) {
	t.Parallel()

	got := New().Now()
	require.Equal(t, got.Round(0), got)
}

func TestGraceWindowIgnoresSubmitterZone(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	now := New().Now()
	requested := now.Add(-savecode.DefaultGraceWindow).In(tokyo)

	require.Equal(t, savecode.DefaultGraceWindow, now.Sub(requested))
	require.Equal(t, requested.UTC().Format(time.RFC3339Nano), now.Add(-savecode.DefaultGraceWindow).Format(time.RFC3339Nano))
}
