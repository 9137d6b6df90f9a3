package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

var (
	start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

func fakeCalendar(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "2024-03-01T09:00:00Z", q.Get("timeMin"))
		assert.Equal(t, "2024-03-01T10:00:00Z", q.Get("timeMax"))
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Equal(t, "1", q.Get("maxResults"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access-1", TokenType: "Bearer"})
}

func TestFirstEventReturnsIntersectingEvent(t *testing.T) {
	srv := fakeCalendar(t, `{"items":[{"id":"evt-1","summary":"Dentist","status":"confirmed",
		"start":{"dateTime":"2024-03-01T09:30:00Z"},"end":{"dateTime":"2024-03-01T10:30:00Z"}}]}`, http.StatusOK)

	g := NewGoogle("", option.WithEndpoint(srv.URL+"/"))
	ev, err := g.FirstEvent(context.Background(), tokenSource(), start, end)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, "Dentist", ev.Summary)
	assert.True(t, ev.StartAt.Equal(start.Add(30*time.Minute)))
	assert.True(t, ev.EndAt.Equal(end.Add(30*time.Minute)))
}

func TestFirstEventFreeRange(t *testing.T) {
	srv := fakeCalendar(t, `{"items":[]}`, http.StatusOK)

	ev, err := NewGoogle(DefaultCalendarID, option.WithEndpoint(srv.URL+"/")).
		FirstEvent(context.Background(), tokenSource(), start, end)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestFirstEventSkipsCancelled(t *testing.T) {
	srv := fakeCalendar(t, `{"items":[{"id":"gone","status":"cancelled"}]}`, http.StatusOK)

	ev, err := NewGoogle("primary", option.WithEndpoint(srv.URL+"/")).
		FirstEvent(context.Background(), tokenSource(), start, end)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestFirstEventAllDay(t *testing.T) {
	srv := fakeCalendar(t, `{"items":[{"id":"holiday","start":{"date":"2024-03-01"},"end":{"date":"2024-03-02"}}]}`, http.StatusOK)

	ev, err := NewGoogle("primary", option.WithEndpoint(srv.URL+"/")).
		FirstEvent(context.Background(), tokenSource(), start, end)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, ev.StartAt.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, ev.EndAt.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestFirstEventRemoteError(t *testing.T) {
	srv := fakeCalendar(t, `{"error":{"code":401,"message":"Invalid Credentials"}}`, http.StatusUnauthorized)

	_, err := NewGoogle("primary", option.WithEndpoint(srv.URL+"/")).
		FirstEvent(context.Background(), tokenSource(), start, end)
	require.Error(t, err)
}

func TestFirstEventRequiresTokenSource(t *testing.T) {
	_, err := NewGoogle("primary").FirstEvent(context.Background(), nil, start, end)
	require.Error(t, err)
}

func TestFirstEventKeepsSubSecondBounds(t *testing.T) {
	var timeMin, timeMax string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timeMin = r.URL.Query().Get("timeMin")
		timeMax = r.URL.Query().Get("timeMax")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"evt-edge","status":"confirmed",
			"start":{"dateTime":"2024-01-01T11:00:00Z"},"end":{"dateTime":"2024-01-01T12:00:00Z"}}]}`))
	}))
	t.Cleanup(srv.Close)

	from := time.Date(2024, 1, 1, 10, 0, 0, 250000000, time.UTC)
	to := time.Date(2024, 1, 1, 11, 0, 0, 500000000, time.UTC)

	g := NewGoogle("", option.WithEndpoint(srv.URL+"/"))
	ev, err := g.FirstEvent(context.Background(), tokenSource(), from, to)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "evt-edge", ev.ID)
	assert.Equal(t, "2024-01-01T10:00:00.25Z", timeMin)
	assert.Equal(t, "2024-01-01T11:00:00.5Z", timeMax)
}
