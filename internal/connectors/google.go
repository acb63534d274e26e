package connectors

/*
Файл google.go — REST-адаптер к Google Calendar API v3.
Движку нужны три вызова: events.insert, events.delete и freeBusy.query,
все от имени владельца календаря (calendarId = "primary").
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// GoogleCalendar реализует CalendarProvider поверх HTTP.
type GoogleCalendar struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// NewGoogleCalendar создает адаптер. baseURL пустой — боевой API
// (в тестах подставляется httptest-сервер).
func NewGoogleCalendar(tokens TokenSource, baseURL string) *GoogleCalendar {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &GoogleCalendar{
		baseURL: baseURL,
		// Защитный предел на уровне адаптера: у reliability-обертки свой,
		// но адаптер не должен висеть бесконечно
		client: &http.Client{Timeout: 15 * time.Second},
		tokens: tokens,
	}
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleEvent struct {
	ID          string          `json:"id,omitempty"`
	Summary     string          `json:"summary"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Start       googleEventTime `json:"start"`
	End         googleEventTime `json:"end"`
}

// CreateEvent — POST /calendars/primary/events.
func (g *GoogleCalendar) CreateEvent(ctx context.Context, ownerID string, spec EventSpec) (string, error) {
	body := googleEvent{
		Summary:     spec.Summary,
		Description: spec.Description,
		Location:    spec.Location,
		Start:       googleEventTime{DateTime: spec.Start.Format(time.RFC3339), TimeZone: spec.TimeZone},
		End:         googleEventTime{DateTime: spec.End.Format(time.RFC3339), TimeZone: spec.TimeZone},
	}

	var created googleEvent
	if err := g.do(ctx, ownerID, http.MethodPost, "/calendars/primary/events", "create_event", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("calendar provider returned event without id")
	}
	return created.ID, nil
}

// DeleteEvent — DELETE /calendars/primary/events/{id}.
// 404/410 считаются успехом: событие уже отсутствует.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, ownerID, eventID string) error {
	path := "/calendars/primary/events/" + url.PathEscape(eventID)
	err := g.do(ctx, ownerID, http.MethodDelete, path, "delete_event", nil, nil)

	var pe *ProviderError
	if errors.As(err, &pe) && (pe.StatusCode == http.StatusNotFound || pe.StatusCode == http.StatusGone) {
		return nil
	}
	return err
}

type freeBusyRequest struct {
	TimeMin string         `json:"timeMin"`
	TimeMax string         `json:"timeMax"`
	Items   []freeBusyItem `json:"items"`
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

// FetchBusy — POST /freeBusy.
func (g *GoogleCalendar) FetchBusy(ctx context.Context, ownerID string, from, to time.Time) ([]BusyInterval, error) {
	req := freeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []freeBusyItem{{ID: "primary"}},
	}

	var resp freeBusyResponse
	if err := g.do(ctx, ownerID, http.MethodPost, "/freeBusy", "free_busy", req, &resp); err != nil {
		return nil, err
	}

	busy := make([]BusyInterval, 0)
	for _, cal := range resp.Calendars {
		for _, b := range cal.Busy {
			busy = append(busy, BusyInterval{Start: b.Start, End: b.End})
		}
	}
	return busy, nil
}

// do выполняет запрос с bearer-токеном владельца и разбирает ответ.
// 429 конвертируется в ThrottleError с Retry-After для retry-слоя.
func (g *GoogleCalendar) do(ctx context.Context, ownerID, method, path, op string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}

	token, err := g.tokens.Token(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("resolve calendar token for %s: %w", ownerID, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("calendar provider %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 2 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, convErr := strconv.Atoi(v); convErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      &ProviderError{StatusCode: resp.StatusCode, Op: op},
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{StatusCode: resp.StatusCode, Op: op, Body: string(snippet)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}
