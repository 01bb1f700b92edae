package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPCaller posts JSON RPC envelopes to a single endpoint.
type HTTPCaller struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

// NewHTTPCaller creates a caller with an instrumented client.
func NewHTTPCaller(endpoint, token string, timeout time.Duration) *HTTPCaller {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPCaller{
		Endpoint: endpoint,
		Token:    token,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type httpRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type httpResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *httpError      `json:"error,omitempty"`
}

// httpError accepts either a bare string or {"message": "..."}.
type httpError struct {
	Message string
}

func (e *httpError) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		e.Message = s
		return nil
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.Message = obj.Message
	return nil
}

func (c *HTTPCaller) Call(ctx context.Context, method string, args, out interface{}) error {
	body, err := json.Marshal(httpRequest{Method: method, Params: args})
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}

	var decoded httpResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: %s: HTTP %d: %s", ErrRemote, method, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("rpc: unmarshal response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return fmt.Errorf("%w: %s: %s", ErrRemote, method, decoded.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s: HTTP %d", ErrRemote, method, resp.StatusCode)
	}
	return decodeInto(decoded.Result, out)
}
