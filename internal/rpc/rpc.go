// Package rpc provides the single call-by-method-name mechanism used to reach
// external collaborators (notes workspace, mailbox, calendar).
//
// Two transports share one contract:
//
//	var out SearchResult
//	err := caller.Call(ctx, "nodes.search", args, &out)
//
// HTTPCaller POSTs {"method", "params"} and expects {"result", "error"}.
// NatsCaller sends a request envelope {"method", "caller_id", "payload"} to a
// subject and expects {"ok", "payload", "error"}.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultTimeout = 30 * time.Second

// ErrRemote marks an error reported by the remote service, as opposed to a
// transport failure.
var ErrRemote = errors.New("rpc: remote error")

// Caller invokes a remote method and decodes its JSON result into out.
// out may be nil when the result is not needed.
type Caller interface {
	Call(ctx context.Context, method string, args, out interface{}) error
}

// Request is the envelope for a NATS RPC call.
type Request struct {
	Method   string          `json:"method"`
	CallerID string          `json:"caller_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply envelope for a NATS RPC call.
type Response struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OK constructs a successful Response with the given payload marshalled to JSON.
func OK(payload interface{}) *Response {
	b, _ := json.Marshal(payload)
	return &Response{OK: true, Payload: b}
}

// Err constructs an error Response.
func Err(err error) *Response {
	return &Response{OK: false, Error: err.Error()}
}

// NatsCaller sends every call to one subject; the method travels in the envelope.
type NatsCaller struct {
	Conn     *nats.Conn
	Subject  string
	CallerID string
}

func (c *NatsCaller) Call(ctx context.Context, method string, args, out interface{}) error {
	payloadBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpc: marshal payload: %w", err)
	}
	reqBytes, err := json.Marshal(&Request{Method: method, CallerID: c.CallerID, Payload: payloadBytes})
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}

	timeout := defaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}

	msg, err := c.Conn.Request(c.Subject, reqBytes, timeout)
	if err != nil {
		return fmt.Errorf("rpc: request %s to %s: %w", method, c.Subject, err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("rpc: unmarshal response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s: %s", ErrRemote, method, resp.Error)
	}
	return decodeInto(resp.Payload, out)
}

// Register subscribes nc to subject and dispatches each request to handler.
func Register(nc *nats.Conn, subject string, handler func(*Request) *Response) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp := Err(fmt.Errorf("invalid request envelope: %w", err))
			b, _ := json.Marshal(resp)
			_ = msg.Respond(b)
			return
		}
		resp := handler(&req)
		if resp == nil {
			resp = OK(nil)
		}
		b, _ := json.Marshal(resp)
		_ = msg.Respond(b)
	})
}

func decodeInto(payload json.RawMessage, out interface{}) error {
	if out == nil || len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("rpc: unmarshal response payload: %w", err)
	}
	return nil
}
