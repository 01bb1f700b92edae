// Package runner spawns the external agent process and decodes its output,
// either collecting the final text or streaming protocol events live.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/ensemble/internal/metrics"
	"github.com/jordanhubbard/ensemble/internal/stream"
	"github.com/jordanhubbard/ensemble/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultTimeout is the ceiling for a collecting run.
	DefaultTimeout = 10 * time.Minute

	// waitDelay bounds how long Wait keeps draining output after the
	// process is gone or killed.
	waitDelay = 2 * time.Second
)

// ErrSpawn wraps failures to start the agent process.
var ErrSpawn = errors.New("failed to start agent process")

// Request describes one agent invocation.
type Request struct {
	Prompt   string
	Model    string
	MaxTurns int
}

// Result is the outcome of a collecting run.
type Result struct {
	RunID        string
	ResponseText string
	DurationMs   int64
	ExitCode     int
	TimedOut     bool
}

// Runner spawns the agent binary. The zero value is not usable; set Binary.
type Runner struct {
	Binary       string
	MCPConfig    string
	Dir          string
	StripEnv     []string
	Timeout      time.Duration
	DefaultModel string
	Metrics      *metrics.Metrics
}

// TimeoutMessage is returned as the response text when a collecting run hits
// the ceiling without producing any text.
func TimeoutMessage(d time.Duration) string {
	return fmt.Sprintf("[agent timed out after %s without producing output]", d)
}

// Args returns the command-line arguments for req.
func (r *Runner) Args(req Request) []string {
	args := []string{"-p", req.Prompt, "--output-format", "stream-json", "--verbose"}
	model := req.Model
	if model == "" {
		model = r.DefaultModel
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	args = append(args, "--dangerously-skip-permissions")
	if r.MCPConfig != "" {
		args = append(args, "--mcp-config", r.MCPConfig)
	}
	return args
}

func (r *Runner) command(ctx context.Context, req Request) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.Binary, r.Args(req)...)
	cmd.Dir = r.Dir
	cmd.Env = filterEnv(os.Environ(), r.StripEnv)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)
	return cmd
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// RunCollecting runs the agent to completion and returns all text fragments
// joined in arrival order. A non-zero exit is not an error. When the timeout
// ceiling is reached the process group is killed and whatever text arrived is
// returned, or TimeoutMessage if there was none.
func (r *Runner) RunCollecting(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.New().String()
	ctx, span := telemetry.Tracer().Start(ctx, "runner.collect")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("agent.model", req.Model))

	timeout := r.timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var fragments []string
	out := &eventWriter{emit: func(e stream.Event) bool {
		if text, ok := stream.TextOf(e); ok {
			fragments = append(fragments, text)
		}
		return true
	}}
	cmd := r.command(runCtx, req)
	cmd.Stdout = out
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		r.recordRun("collect", "spawn_error", start)
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	r.trackActive(1)
	waitErr := cmd.Wait()
	r.trackActive(-1)
	out.flush()

	res := &Result{
		RunID:        runID,
		ResponseText: strings.Join(fragments, "\n\n"),
		DurationMs:   time.Since(start).Milliseconds(),
		ExitCode:     cmd.ProcessState.ExitCode(),
	}

	switch {
	case ctx.Err() != nil:
		r.recordRun("collect", "cancelled", start)
		return res, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		if res.ResponseText == "" {
			res.ResponseText = TimeoutMessage(timeout)
		}
		log.Printf("[Runner] Run %s timed out after %s", runID, timeout)
		r.recordRun("collect", "timeout", start)
	case waitErr != nil:
		log.Printf("[Runner] Run %s exited with code %d: %s", runID, res.ExitCode, stderr.String())
		r.recordRun("collect", "nonzero_exit", start)
	default:
		r.recordRun("collect", "ok", start)
	}
	span.SetAttributes(attribute.Int("agent.exit_code", res.ExitCode), attribute.Bool("agent.timed_out", res.TimedOut))
	return res, nil
}

// RunStreaming starts the agent and returns its events. The first event is
// status "starting"; a natural exit ends with exactly one done event carrying
// the exit code. Cancelling ctx kills the process group and closes the channel
// without a done event. A spawn failure yields status "error" then done(-1).
func (r *Runner) RunStreaming(ctx context.Context, req Request) <-chan stream.Event {
	events := make(chan stream.Event, 16)

	go func() {
		defer close(events)
		runID := uuid.New().String()
		ctx, span := telemetry.Tracer().Start(ctx, "runner.stream")
		defer span.End()
		span.SetAttributes(attribute.String("run.id", runID), attribute.String("agent.model", req.Model))

		send := func(e stream.Event) bool {
			select {
			case events <- e:
				if r.Metrics != nil {
					r.Metrics.AgentEvents.WithLabelValues(string(e.Kind)).Inc()
				}
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(stream.Status(stream.StatusStarting, "")) {
			return
		}

		out := &eventWriter{emit: send}
		cmd := r.command(ctx, req)
		cmd.Stdout = out
		stderr := &tailBuffer{max: 4096}
		cmd.Stderr = stderr

		start := time.Now()
		if err := cmd.Start(); err != nil {
			log.Printf("[Runner] Run %s failed to start: %v", runID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "spawn failed")
			r.recordRun("stream", "spawn_error", start)
			if send(stream.Status(stream.StatusError, fmt.Sprintf("%v: %v", ErrSpawn, err))) {
				send(stream.Done(-1))
			}
			return
		}
		r.trackActive(1)
		waitErr := cmd.Wait()
		r.trackActive(-1)

		if ctx.Err() != nil {
			log.Printf("[Runner] Run %s cancelled", runID)
			r.recordRun("stream", "cancelled", start)
			return
		}
		if !out.flush() {
			return
		}
		code := cmd.ProcessState.ExitCode()
		if waitErr != nil {
			log.Printf("[Runner] Run %s exited with code %d: %s", runID, code, stderr.String())
			r.recordRun("stream", "nonzero_exit", start)
		} else {
			r.recordRun("stream", "ok", start)
		}
		span.SetAttributes(attribute.Int("agent.exit_code", code))
		send(stream.Done(code))
	}()

	return events
}

func (r *Runner) recordRun(mode, outcome string, start time.Time) {
	r.Metrics.RecordAgentRun(mode, outcome, time.Since(start).Seconds())
}

func (r *Runner) trackActive(delta float64) {
	if r.Metrics != nil {
		r.Metrics.AgentActive.Add(delta)
	}
}

// eventWriter feeds process output through a Translator and hands each event
// to emit from the exec copy goroutine, preserving process order. Once emit
// reports the consumer is gone, remaining output is discarded.
type eventWriter struct {
	tr     stream.Translator
	emit   func(stream.Event) bool
	closed bool
}

func (w *eventWriter) Write(p []byte) (int, error) {
	if w.closed {
		return len(p), nil
	}
	for _, e := range w.tr.Feed(p) {
		if !w.emit(e) {
			w.closed = true
			break
		}
	}
	return len(p), nil
}

func (w *eventWriter) flush() bool {
	if w.closed {
		return false
	}
	for _, e := range w.tr.Flush() {
		if !w.emit(e) {
			w.closed = true
			return false
		}
	}
	return true
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// filterEnv drops the named variables from env.
func filterEnv(env, strip []string) []string {
	if len(strip) == 0 {
		return env
	}
	out := make([]string, 0, len(env))
outer:
	for _, kv := range env {
		for _, name := range strip {
			if strings.HasPrefix(kv, name+"=") {
				continue outer
			}
		}
		out = append(out, kv)
	}
	return out
}
