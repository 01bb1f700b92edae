package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/ensemble/internal/rpc"
)

// Event is a calendar entry.
type Event struct {
	ID       string    `json:"id,omitempty"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// Calendar manages events on one calendar.
type Calendar struct {
	caller     rpc.Caller
	calendarID string
}

func NewCalendar(caller rpc.Caller, calendarID string) *Calendar {
	return &Calendar{caller: caller, calendarID: calendarID}
}

// CreateEvent returns the id assigned by the service.
func (c *Calendar) CreateEvent(ctx context.Context, e Event) (string, error) {
	if !e.End.After(e.Start) {
		return "", fmt.Errorf("event %q ends before it starts", e.Title)
	}
	args := map[string]interface{}{"calendar_id": c.calendarID, "event": e}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.caller.Call(ctx, "calendar.create_event", args, &out); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	return out.ID, nil
}

func (c *Calendar) DeleteEvent(ctx context.Context, eventID string) error {
	args := map[string]interface{}{"calendar_id": c.calendarID, "id": eventID}
	if err := c.caller.Call(ctx, "calendar.delete_event", args, nil); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// ListEvents returns events overlapping [from, to).
func (c *Calendar) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	args := map[string]interface{}{
		"calendar_id": c.calendarID,
		"from":        from.UTC().Format(time.RFC3339),
		"to":          to.UTC().Format(time.RFC3339),
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.caller.Call(ctx, "calendar.list_events", args, &out); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out.Events, nil
}
