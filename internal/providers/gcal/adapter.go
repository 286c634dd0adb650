// Package gcal mirrors call records into Google Calendar.
package gcal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcalendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/commkeep/commkeep/internal/auth"
	"github.com/commkeep/commkeep/internal/calendar"
)

// Adapter implements calendar.Sink for Google Calendar.
type Adapter struct {
	svc        *gcalendar.Service
	calendarID string
}

// New creates a Google Calendar adapter. An empty calendarID targets the
// primary calendar.
func New(ctx context.Context, tok *auth.Token, calendarID string) (*Adapter, error) {
	oauth2Token := &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	config := &oauth2.Config{
		Scopes: []string{gcalendar.CalendarEventsScope},
	}
	httpClient := config.Client(ctx, oauth2Token)

	svc, err := gcalendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}

	if calendarID == "" {
		calendarID = "primary"
	}
	return &Adapter{svc: svc, calendarID: calendarID}, nil
}

// Insert creates one calendar event.
func (a *Adapter) Insert(ctx context.Context, ev calendar.Event) error {
	item := &gcalendar.Event{
		Summary:     ev.Title,
		Description: ev.Notes,
		Start:       &gcalendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &gcalendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}

	if _, err := a.svc.Events.Insert(a.calendarID, item).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}
