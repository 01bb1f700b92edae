package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCallerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nodes.read", req.Method)
		assert.Equal(t, "n1", req.Params["id"])
		w.Write([]byte(`{"result":{"text":"hello"}}`))
	}))
	defer srv.Close()

	c := NewHTTPCaller(srv.URL, "tok", time.Second)
	var out struct {
		Text string `json:"text"`
	}
	require.NoError(t, c.Call(context.Background(), "nodes.read", map[string]string{"id": "n1"}, &out))
	assert.Equal(t, "hello", out.Text)
}

func TestHTTPCallerRemoteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"string error", 200, `{"error":"no such node"}`},
		{"object error", 200, `{"error":{"message":"no such node"}}`},
		{"http status", 500, `internal failure`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewHTTPCaller(srv.URL, "", time.Second).Call(context.Background(), "nodes.read", nil, nil)
			assert.ErrorIs(t, err, ErrRemote)
		})
	}
}

func TestDecodeIntoNilOut(t *testing.T) {
	assert.NoError(t, decodeInto(json.RawMessage(`{"a":1}`), nil))
	assert.NoError(t, decodeInto(json.RawMessage(`null`), &struct{}{}))
	assert.Error(t, decodeInto(json.RawMessage(`[`), &struct{}{}))
}

func TestNatsCallerRoundTrip(t *testing.T) {
	url := os.Getenv("ENSEMBLE_TEST_NATS_URL")
	if url == "" {
		t.Skip("Skipping: ENSEMBLE_TEST_NATS_URL not set")
	}
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	subject := "ensemble.test.rpc." + strings.ToLower(t.Name())
	sub, err := Register(nc, subject, func(req *Request) *Response {
		if req.Method == "fail" {
			return Err(errors.New("boom"))
		}
		var args map[string]string
		_ = json.Unmarshal(req.Payload, &args)
		return OK(map[string]string{"echo": args["v"], "caller": req.CallerID})
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	c := &NatsCaller{Conn: nc, Subject: subject, CallerID: "scheduler"}
	var out map[string]string
	require.NoError(t, c.Call(context.Background(), "echo", map[string]string{"v": "hi"}, &out))
	assert.Equal(t, "hi", out["echo"])
	assert.Equal(t, "scheduler", out["caller"])

	assert.ErrorIs(t, c.Call(context.Background(), "fail", nil, nil), ErrRemote)
}
