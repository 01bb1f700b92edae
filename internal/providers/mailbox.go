// Package providers holds thin typed clients for the mailbox and calendar
// services. Both speak the same rpc.Caller contract as the notes workspace.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/ensemble/internal/rpc"
)

// Thread summarises one mailbox thread.
type Thread struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	Snippet  string    `json:"snippet,omitempty"`
	Unread   bool      `json:"unread"`
	Received time.Time `json:"received"`
}

// Mailbox reads and files mail for one account.
type Mailbox struct {
	caller  rpc.Caller
	account string
}

func NewMailbox(caller rpc.Caller, account string) *Mailbox {
	return &Mailbox{caller: caller, account: account}
}

func (m *Mailbox) args(kv ...string) map[string]interface{} {
	out := map[string]interface{}{"account": m.account}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// ReadBody returns the plain-text body of a message.
func (m *Mailbox) ReadBody(ctx context.Context, messageID string) (string, error) {
	var out struct {
		Body string `json:"body"`
	}
	if err := m.caller.Call(ctx, "mail.read_body", m.args("id", messageID), &out); err != nil {
		return "", fmt.Errorf("read message %s: %w", messageID, err)
	}
	return out.Body, nil
}

func (m *Mailbox) Archive(ctx context.Context, threadID string) error {
	if err := m.caller.Call(ctx, "mail.archive", m.args("thread_id", threadID), nil); err != nil {
		return fmt.Errorf("archive thread %s: %w", threadID, err)
	}
	return nil
}

func (m *Mailbox) Trash(ctx context.Context, threadID string) error {
	if err := m.caller.Call(ctx, "mail.trash", m.args("thread_id", threadID), nil); err != nil {
		return fmt.Errorf("trash thread %s: %w", threadID, err)
	}
	return nil
}

// ListRecent returns up to limit of the newest threads.
func (m *Mailbox) ListRecent(ctx context.Context, limit int) ([]Thread, error) {
	args := m.args()
	args["limit"] = limit
	var out struct {
		Threads []Thread `json:"threads"`
	}
	if err := m.caller.Call(ctx, "mail.list_recent", args, &out); err != nil {
		return nil, fmt.Errorf("list recent threads: %w", err)
	}
	return out.Threads, nil
}

func (m *Mailbox) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := m.caller.Call(ctx, "mail.unread_count", m.args(), &out); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return out.Count, nil
}
