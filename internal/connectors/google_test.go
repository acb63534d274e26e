package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokens выдает каждому владельцу свой bearer-токен.
type fakeTokens map[string]string

func (f fakeTokens) Token(_ context.Context, ownerID string) (string, error) {
	return f[ownerID], nil
}

func TestGoogleCalendar_CreateEvent(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody googleEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(googleEvent{ID: "gcal-evt-17"})
	}))
	defer srv.Close()

	cal := NewGoogleCalendar(fakeTokens{"alice": "tok-alice"}, srv.URL)
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

	id, err := cal.CreateEvent(context.Background(), "alice", EventSpec{
		Summary:  "Sync call",
		Location: "Room 4",
		Start:    start,
		End:      start.Add(30 * time.Minute),
		TimeZone: "UTC",
	})
	require.NoError(t, err)
	assert.Equal(t, "gcal-evt-17", id)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/calendars/primary/events", gotPath)
	assert.Equal(t, "Bearer tok-alice", gotAuth, "токен владельца, а не общий")
	assert.Equal(t, "Sync call", gotBody.Summary)
	assert.Equal(t, "2025-03-03T10:00:00Z", gotBody.Start.DateTime)
	assert.Equal(t, "UTC", gotBody.Start.TimeZone)
	assert.Equal(t, "2025-03-03T10:30:00Z", gotBody.End.DateTime)
}

func TestGoogleCalendar_CreateEventWithoutIDFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cal := NewGoogleCalendar(fakeTokens{}, srv.URL)
	_, err := cal.CreateEvent(context.Background(), "alice", EventSpec{Summary: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without id")
}

func TestGoogleCalendar_ThrottleMapsToThrottleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cal := NewGoogleCalendar(fakeTokens{}, srv.URL)
	_, err := cal.FetchBusy(context.Background(), "alice", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)

	var te *ThrottleError
	require.ErrorAs(t, err, &te, "429 должен стать ThrottleError")
	assert.Equal(t, 7*time.Second, te.RetryAfter, "Retry-After из заголовка")

	var pe *ProviderError
	require.ErrorAs(t, err, &pe, "причина сохраняется для логов")
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
}

func TestGoogleCalendar_ThrottleDefaultDelay(t *testing.T) {
	// Без Retry-After используется дефолтная пауза
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cal := NewGoogleCalendar(fakeTokens{}, srv.URL)
	_, err := cal.FetchBusy(context.Background(), "alice", time.Now(), time.Now().Add(time.Hour))

	var te *ThrottleError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2*time.Second, te.RetryAfter)
}

func TestGoogleCalendar_DeleteMissingEventIsSuccess(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		cal := NewGoogleCalendar(fakeTokens{}, srv.URL)
		err := cal.DeleteEvent(context.Background(), "alice", "evt-1")
		assert.NoError(t, err, "повторная компенсация не должна падать на %d", status)
		srv.Close()
	}
}

func TestGoogleCalendar_DeleteServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cal := NewGoogleCalendar(fakeTokens{}, srv.URL)
	err := cal.DeleteEvent(context.Background(), "alice", "evt-1")
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
	assert.True(t, pe.Temporary(), "5xx помечается как временная")
}

func TestGoogleCalendar_FetchBusy(t *testing.T) {
	var gotReq freeBusyRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/freeBusy", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Write([]byte(`{
			"calendars": {
				"primary": {
					"busy": [
						{"start": "2025-03-03T09:00:00Z", "end": "2025-03-03T10:00:00Z"},
						{"start": "2025-03-03T14:30:00Z", "end": "2025-03-03T15:00:00Z"}
					]
				}
			}
		}`))
	}))
	defer srv.Close()

	cal := NewGoogleCalendar(fakeTokens{"bob": "tok-bob"}, srv.URL)
	from := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	busy, err := cal.FetchBusy(context.Background(), "bob", from, to)
	require.NoError(t, err)

	require.Len(t, busy, 2)
	assert.Equal(t, time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC), busy[0].Start)
	assert.Equal(t, time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC), busy[0].End)

	assert.Equal(t, "2025-03-03T00:00:00Z", gotReq.TimeMin)
	assert.Equal(t, "2025-03-10T00:00:00Z", gotReq.TimeMax)
	require.Len(t, gotReq.Items, 1)
	assert.Equal(t, "primary", gotReq.Items[0].ID)
}
