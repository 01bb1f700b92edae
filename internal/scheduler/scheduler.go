// Package scheduler runs configured jobs on cron triggers or on demand.
//
// A run moves through resolving-target, routing (batch only),
// prompt-building, executing and persisting. Single jobs invoke one persona;
// process-tasks jobs fetch pending work items, route each to a persona and
// run the personas one after another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jordanhubbard/ensemble/internal/character"
	"github.com/jordanhubbard/ensemble/internal/messagebus"
	"github.com/google/uuid"
	"github.com/jordanhubbard/ensemble/internal/metrics"
	"github.com/jordanhubbard/ensemble/internal/results"
	"github.com/jordanhubbard/ensemble/internal/runner"
	"github.com/jordanhubbard/ensemble/internal/telemetry"
	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/robfig/cron"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AdhocJobID is the JobResult.JobID of on-demand runs.
const AdhocJobID = "adhoc"

// ErrJobRunning is returned when a job is triggered while a previous run of
// the same job has not finished.
var ErrJobRunning = errors.New("job already running")

// Executor runs one buffered agent invocation.
type Executor interface {
	RunCollecting(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// PromptBuilder assembles a persona's prompt around a task payload.
type PromptBuilder interface {
	Assemble(personaID, task string) string
}

// Resolver routes a work item to a persona id.
type Resolver interface {
	Resolve(explicit, group, name string) string
}

// TaskSource lists pending work items.
type TaskSource interface {
	PendingTasks(ctx context.Context) ([]models.WorkItem, error)
}

// PersonaSource looks up personas by id.
type PersonaSource interface {
	Persona(id string) (models.Persona, bool)
}

// Deps wires a Scheduler. Tasks, Publisher and Metrics may be nil.
type Deps struct {
	Registry     *Registry
	Personas     PersonaSource
	Prompts      PromptBuilder
	Router       Resolver
	Tasks        TaskSource
	Executor     Executor
	Results      results.Store
	Publisher    messagebus.ResultPublisher
	Metrics      *metrics.Metrics
	DefaultModel string
	Location     *time.Location
	Now          func() time.Time
}

// Scheduler executes jobs and owns the cron loop.
type Scheduler struct {
	deps Deps

	mu      sync.Mutex
	running map[string]bool
	cron    *cron.Cron

	persistMu sync.Mutex
}

// New creates a scheduler. Call Start to enable cron triggers.
func New(deps Deps) *Scheduler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Scheduler{deps: deps, running: make(map[string]bool)}
}

// Registry returns the job registry.
func (s *Scheduler) Registry() *Registry {
	return s.deps.Registry
}

type cronJob struct {
	ctx context.Context
	s   *Scheduler
	id  string
}

func (j *cronJob) Run() {
	_, err := j.s.RunJob(j.ctx, j.id)
	switch {
	case err == nil:
	case errors.Is(err, ErrJobRunning):
		log.Printf("[Scheduler] Skipping tick for %s: previous run still in progress", j.id)
		if j.s.deps.Metrics != nil {
			j.s.deps.Metrics.JobSkipped.WithLabelValues(j.id).Inc()
		}
	default:
		log.Printf("[Scheduler] Job %s failed: %v", j.id, err)
	}
}

// Start registers every enabled job with the cron loop and starts it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.NewWithLocation(s.deps.Location)
	enabled := 0
	for _, def := range s.deps.Registry.List() {
		if !def.Enabled {
			continue
		}
		sched, err := cron.ParseStandard(def.Cron)
		if err != nil {
			return fmt.Errorf("job %q: invalid cron %q: %w", def.ID, def.Cron, err)
		}
		c.Schedule(sched, &cronJob{ctx: ctx, s: s, id: def.ID})
		enabled++
	}
	c.Start()
	s.cron = c
	log.Printf("[Scheduler] Started with %d enabled job(s)", enabled)
	return nil
}

// Stop halts cron triggers. Runs already in flight continue.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
		log.Printf("[Scheduler] Stopped")
	}
}

// NextRun reports when a job fires next, if the cron loop is running.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return time.Time{}, false
	}
	for _, e := range c.Entries() {
		if j, ok := e.Job.(*cronJob); ok && j.id == id {
			return e.Next, true
		}
	}
	return time.Time{}, false
}

// Running reports whether a run of id is in flight.
func (s *Scheduler) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[id]
}

func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

// RunJob executes a registered job and returns its results, most recent
// first. When persistence fails the results are still returned together with
// an error wrapping results.ErrPersist.
func (s *Scheduler) RunJob(ctx context.Context, id string) ([]models.JobResult, error) {
	def, err := s.deps.Registry.Get(id)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, def)
}

// RunAdhoc runs one persona with a caller-supplied prompt.
func (s *Scheduler) RunAdhoc(ctx context.Context, personaID, prompt string, mode models.JobMode) ([]models.JobResult, error) {
	def := models.JobDefinition{
		ID:         AdhocJobID,
		PersonaID:  personaID,
		SeedPrompt: prompt,
		Mode:       mode,
		Type:       models.JobTypeSingle,
	}
	// Ad-hoc runs may overlap; track them under a unique key.
	return s.runTracked(ctx, def, AdhocJobID+":"+uuid.NewString())
}

func (s *Scheduler) run(ctx context.Context, def models.JobDefinition) ([]models.JobResult, error) {
	return s.runTracked(ctx, def, def.ID)
}

func (s *Scheduler) runTracked(ctx context.Context, def models.JobDefinition, key string) ([]models.JobResult, error) {
	if !s.acquire(key) {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, def.ID)
	}
	defer s.release(key)

	ctx, span := telemetry.Tracer().Start(ctx, "scheduler.job")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", def.ID), attribute.String("job.type", string(def.Type)))

	start := time.Now()
	var (
		out []models.JobResult
		err error
	)
	if def.IsBatch() {
		out, err = s.runBatch(ctx, def)
	} else {
		out, err = s.runSingle(ctx, def)
	}

	outcome := "ok"
	switch {
	case errors.Is(err, results.ErrPersist):
		outcome = "persist_error"
	case err != nil:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.deps.Metrics.RecordJob(def.ID, outcome, time.Since(start).Seconds())
	log.Printf("[Scheduler] Job %s finished (%s) in %s", def.ID, outcome, time.Since(start).Round(time.Millisecond))
	return out, err
}

func (s *Scheduler) phase(def models.JobDefinition, name string) {
	log.Printf("[Scheduler] Job %s: %s", def.ID, name)
}

func (s *Scheduler) runSingle(ctx context.Context, def models.JobDefinition) ([]models.JobResult, error) {
	s.phase(def, "resolving-target")
	persona, ok := s.deps.Personas.Persona(def.PersonaID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", character.ErrUnknownPersona, def.PersonaID)
	}

	result, err := s.execute(ctx, def, persona, singleTask(def.SeedPrompt))
	if err != nil {
		return nil, err
	}
	out := []models.JobResult{result}
	return out, s.persist(ctx, def, out)
}

func (s *Scheduler) runBatch(ctx context.Context, def models.JobDefinition) ([]models.JobResult, error) {
	s.phase(def, "resolving-target")
	if s.deps.Tasks == nil {
		return nil, fmt.Errorf("job %s: no task source configured", def.ID)
	}
	items, err := s.deps.Tasks.PendingTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch pending tasks: %w", err)
	}

	s.phase(def, "routing")
	groups := make(map[string][]models.WorkItem)
	for _, it := range items {
		id := s.deps.Router.Resolve(it.AssignedPersonaID, it.Group, it.Name)
		groups[id] = append(groups[id], it)
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	batchStart := time.Now()
	var (
		executed []models.JobResult
		outcomes []personaOutcome
	)
	// Personas run one at a time, in id order.
	for _, id := range ids {
		assigned := groups[id]
		persona, ok := s.deps.Personas.Persona(id)
		var (
			result models.JobResult
			runErr error
		)
		if !ok {
			persona = models.Persona{ID: id}
			runErr = fmt.Errorf("%w: %s", character.ErrUnknownPersona, id)
		} else {
			result, runErr = s.execute(ctx, def, persona, batchTask(def.SeedPrompt, assigned))
		}
		if runErr != nil {
			log.Printf("[Scheduler] Job %s: persona %s failed: %v", def.ID, id, runErr)
			result = models.JobResult{
				JobID:        def.ID,
				PersonaID:    id,
				DisplayName:  persona.DisplayName(),
				Timestamp:    s.deps.Now(),
				ResponseText: "Failed: " + oneLine(runErr.Error()),
				Error:        runErr.Error(),
			}
		}
		executed = append(executed, result)
		outcomes = append(outcomes, personaOutcome{persona: persona, items: len(assigned), err: runErr})
	}

	rollup := models.JobResult{
		JobID:        def.ID,
		PersonaID:    models.BatchPersona,
		DisplayName:  "Task batch",
		Timestamp:    s.deps.Now(),
		ResponseText: summarize(len(items), outcomes),
		DurationMs:   time.Since(batchStart).Milliseconds(),
	}
	if failed := countFailed(outcomes); failed > 0 {
		rollup.Error = fmt.Sprintf("%d of %d persona run(s) failed", failed, len(outcomes))
	}

	// Most recent first: the roll-up, then personas in reverse execution order.
	out := make([]models.JobResult, 0, len(executed)+1)
	out = append(out, rollup)
	for i := len(executed) - 1; i >= 0; i-- {
		out = append(out, executed[i])
	}
	return out, s.persist(ctx, def, out)
}

func countFailed(outcomes []personaOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.err != nil {
			n++
		}
	}
	return n
}

func (s *Scheduler) execute(ctx context.Context, def models.JobDefinition, persona models.Persona, task string) (models.JobResult, error) {
	s.phase(def, "prompt-building")
	prompt := s.deps.Prompts.Assemble(persona.ID, task)

	model := def.Model
	if model == "" {
		model = persona.DefaultModel
	}
	if model == "" {
		model = s.deps.DefaultModel
	}

	s.phase(def, "executing")
	res, err := s.deps.Executor.RunCollecting(ctx, runner.Request{
		Prompt:   prompt,
		Model:    model,
		MaxTurns: TurnsFor(def.Mode),
	})
	if err != nil {
		return models.JobResult{}, err
	}
	return models.JobResult{
		JobID:        def.ID,
		PersonaID:    persona.ID,
		DisplayName:  persona.DisplayName(),
		Timestamp:    s.deps.Now(),
		ResponseText: res.ResponseText,
		DurationMs:   res.DurationMs,
	}, nil
}

// persist writes out in one append, then announces it. Appends are serialised
// so overlapping jobs never interleave read-modify-write cycles.
func (s *Scheduler) persist(ctx context.Context, def models.JobDefinition, out []models.JobResult) error {
	s.phase(def, "persisting")
	s.persistMu.Lock()
	err := s.deps.Results.Append(ctx, out)
	s.persistMu.Unlock()
	if err != nil {
		log.Printf("[Scheduler] Job %s: failed to persist results: %v", def.ID, err)
		if s.deps.Metrics != nil {
			s.deps.Metrics.PersistErrs.Inc()
		}
		if !errors.Is(err, results.ErrPersist) {
			err = fmt.Errorf("%w: %v", results.ErrPersist, err)
		}
		return err
	}

	if s.deps.Publisher != nil {
		if perr := s.deps.Publisher.PublishResults(ctx, def.ID, out); perr != nil {
			log.Printf("[Scheduler] Job %s: failed to publish results: %v", def.ID, perr)
		}
	}
	return nil
}
