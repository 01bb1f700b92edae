package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	reply  string
	err    error
	method string
	args   map[string]interface{}
}

func (f *fakeCaller) Call(ctx context.Context, method string, args, out interface{}) error {
	f.method = method
	f.args, _ = args.(map[string]interface{})
	if f.err != nil {
		return f.err
	}
	if out == nil || f.reply == "" {
		return nil
	}
	return json.Unmarshal([]byte(f.reply), out)
}

func TestMailbox(t *testing.T) {
	ctx := context.Background()

	fc := &fakeCaller{reply: `{"count": 4}`}
	n, err := NewMailbox(fc, "work").UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "mail.unread_count", fc.method)
	assert.Equal(t, "work", fc.args["account"])

	fc = &fakeCaller{reply: `{"threads":[{"id":"t1","subject":"Hi","unread":true}]}`}
	threads, err := NewMailbox(fc, "home").ListRecent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.True(t, threads[0].Unread)
	assert.Equal(t, 5, fc.args["limit"])

	fc = &fakeCaller{}
	require.NoError(t, NewMailbox(fc, "home").Archive(ctx, "t1"))
	assert.Equal(t, "t1", fc.args["thread_id"])

	fc = &fakeCaller{err: errors.New("offline")}
	_, err = NewMailbox(fc, "home").ReadBody(ctx, "m1")
	assert.ErrorContains(t, err, "offline")
}

func TestCalendar(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	fc := &fakeCaller{reply: `{"id":"ev1"}`}
	id, err := NewCalendar(fc, "primary").CreateEvent(ctx, Event{Title: "Standup", Start: start, End: start.Add(15 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, "ev1", id)

	_, err = NewCalendar(fc, "primary").CreateEvent(ctx, Event{Title: "Backwards", Start: start, End: start})
	assert.Error(t, err)

	fc = &fakeCaller{reply: `{"events":[{"id":"ev1","title":"Standup"}]}`}
	events, err := NewCalendar(fc, "primary").ListEvents(ctx, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2026-03-02T09:00:00Z", fc.args["from"])
}
