// Package calendar queries a user's remote calendar for events that would
// collide with a proposed reservation.
package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	// DefaultCalendarID addresses the authenticated user's primary calendar.
	DefaultCalendarID = "primary"

	statusCancelled = "cancelled"
	dateLayout      = "2006-01-02"
)

// Event is the subset of a remote event the booking flow reports back.
type Event struct {
	ID      string
	Summary string
	StartAt time.Time
	EndAt   time.Time
}

// EventFinder returns the first remote event intersecting [start, end), or
// nil when the range is free.
type EventFinder interface {
	FirstEvent(ctx context.Context, ts oauth2.TokenSource, start, end time.Time) (*Event, error)
}

// Google implements EventFinder on top of the Google Calendar v3 API.
type Google struct {
	calendarID string
	opts       []option.ClientOption
}

// NewGoogle returns a finder for calendarID. Extra client options are applied
// after authentication, e.g. option.WithEndpoint in tests.
func NewGoogle(calendarID string, opts ...option.ClientOption) *Google {
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	return &Google{calendarID: calendarID, opts: opts}
}

func (g *Google) FirstEvent(ctx context.Context, ts oauth2.TokenSource, start, end time.Time) (*Event, error) {
	if ts == nil {
		return nil, fmt.Errorf("calendar token source is required")
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, g.opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	// Sub-second bounds are kept: timeMax is exclusive on event start.
	resp, err := svc.Events.List(g.calendarID).
		TimeMin(start.UTC().Format(time.RFC3339Nano)).
		TimeMax(end.UTC().Format(time.RFC3339Nano)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}

	for _, item := range resp.Items {
		if item == nil || item.Status == statusCancelled {
			continue
		}
		return toEvent(item), nil
	}
	return nil, nil
}

func toEvent(item *gcal.Event) *Event {
	ev := &Event{ID: item.Id, Summary: item.Summary}
	ev.StartAt, _ = parseEventTime(item.Start)
	ev.EndAt, _ = parseEventTime(item.End)
	return ev
}

// parseEventTime handles both timed events and all-day events, which carry a
// bare date instead of a timestamp.
func parseEventTime(t *gcal.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return parsed.UTC(), true
		}
	}
	if t.Date != "" {
		if parsed, err := time.Parse(dateLayout, t.Date); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
