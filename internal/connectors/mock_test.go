package connectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockCalendar_CreatedEventsBecomeBusy(t *testing.T) {
	cal := NewMockCalendar()
	ctx := context.Background()
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

	id, err := cal.CreateEvent(ctx, "alice", EventSpec{
		Summary: "standup",
		Start:   start,
		End:     start.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, cal.EventCount("alice"))

	busy, err := cal.FetchBusy(ctx, "alice", start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1, "созданное событие сразу видно как занятость")
	assert.Equal(t, start, busy[0].Start)

	// Окно, не пересекающее событие, его не видит
	busy, err = cal.FetchBusy(ctx, "alice", start.Add(2*time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, busy)

	require.NoError(t, cal.DeleteEvent(ctx, "alice", id))
	assert.Equal(t, 0, cal.EventCount("alice"))
}

func TestMockCalendar_SeedBusyClippedToWindow(t *testing.T) {
	cal := NewMockCalendar()
	base := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	cal.SeedBusy("bob",
		BusyInterval{Start: base.Add(9 * time.Hour), End: base.Add(10 * time.Hour)},
		BusyInterval{Start: base.Add(48 * time.Hour), End: base.Add(49 * time.Hour)},
	)

	busy, err := cal.FetchBusy(context.Background(), "bob", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1, "интервал за пределами окна отфильтрован")
	assert.Equal(t, base.Add(9*time.Hour), busy[0].Start)
}

func TestMockCalendar_UnstableOwnerFails(t *testing.T) {
	cal := NewMockCalendar()
	_, err := cal.CreateEvent(context.Background(), "unstable.user", EventSpec{Summary: "x"})
	require.Error(t, err)

	err = cal.DeleteEvent(context.Background(), "alice", "no-such-event")
	assert.NoError(t, err, "удаление отсутствующего события не ошибка")
}
