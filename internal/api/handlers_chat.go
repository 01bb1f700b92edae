package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jordanhubbard/ensemble/internal/runner"
	"github.com/jordanhubbard/ensemble/internal/scheduler"
	"github.com/jordanhubbard/ensemble/internal/stream"
	"github.com/jordanhubbard/ensemble/pkg/models"
)

// ChatRequest starts one interactive agent run.
type ChatRequest struct {
	PersonaID string         `json:"persona_id"`
	Message   string         `json:"message"`
	Model     string         `json:"model,omitempty"`
	Mode      models.JobMode `json:"mode,omitempty"`
}

// buildRequest validates req and assembles the agent invocation.
func (s *Server) buildRequest(req ChatRequest) (runner.Request, error) {
	if strings.TrimSpace(req.Message) == "" {
		return runner.Request{}, fmt.Errorf("message is required")
	}
	if req.PersonaID == "" {
		req.PersonaID = s.Config.Routing.DefaultPersona
	}
	p, ok := s.Store.Persona(req.PersonaID)
	if !ok {
		return runner.Request{}, fmt.Errorf("unknown persona: %s", req.PersonaID)
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModel
	}
	return runner.Request{
		Prompt:   s.Prompts.Assemble(p.ID, req.Message),
		Model:    model,
		MaxTurns: scheduler.TurnsFor(req.Mode),
	}, nil
}

// handleChatStream runs the agent and relays its events as server-sent events.
// Closing the connection cancels the run.
// POST /api/v1/chat/stream
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ChatRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	runReq, err := s.buildRequest(req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for ev := range s.Streamer.RunStreaming(ctx, runReq) {
		if err := stream.WriteSSE(w, ev); err != nil {
			log.Printf("[API] Chat stream for %s closed: %v", req.PersonaID, err)
			cancel()
			continue // drain so the runner can reap the process
		}
		flusher.Flush()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleChatWebSocket is the websocket flavour of handleChatStream. The client
// sends one ChatRequest and receives {event, data} frames until done.
// GET /api/v1/chat/ws
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || s.originAllowed(origin)
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	runReq, err := s.buildRequest(req)
	if err != nil {
		_ = conn.WriteJSON(stream.Status(stream.StatusError, err.Error()))
		_ = conn.WriteJSON(stream.Done(-1))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Any further read (including the close frame) ends the run.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range s.Streamer.RunStreaming(ctx, runReq) {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			cancel()
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
