package models

import (
	"strings"
	"time"
)

// MaxResults is the number of job results retained by a result store.
const MaxResults = 100

// BatchPersona is the JobDefinition.PersonaID sentinel for multi-persona batch jobs.
const BatchPersona = "*"

// Tier controls how a persona is surfaced and how it behaves.
type Tier string

const (
	TierPrimary    Tier = "primary"
	TierSpecialist Tier = "specialist"
	TierSystem     Tier = "system"
)

// NormalizeTier maps free-form tier text onto the closed tier set.
// Unknown values fall back to TierSpecialist.
func NormalizeTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPrimary:
		return TierPrimary
	case TierSystem:
		return TierSystem
	default:
		return TierSpecialist
	}
}

// Routing declares how work is routed to a persona.
type Routing struct {
	// Keywords are matched against work item names on word boundaries.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords"`
	// Tracks are regular expressions matched against a work item's group label.
	Tracks []string `json:"tracks,omitempty" yaml:"tracks"`
}

// Persona (a "character") is a named bundle of instructions, knowledge and skills.
type Persona struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Tier            Tier     `json:"tier" yaml:"tier"`
	DefaultModel    string   `json:"default_model" yaml:"default_model"`
	SystemPrompt    string   `json:"system_prompt,omitempty" yaml:"system_prompt"`
	Skills          []string `json:"skills,omitempty" yaml:"skills"`
	SharedKnowledge []string `json:"shared_knowledge,omitempty" yaml:"shared_knowledge"`
	Modifiers       []string `json:"modifiers,omitempty" yaml:"modifiers"`
	Routing         Routing  `json:"routing" yaml:"routing"`

	// Loaded from sibling files, never from character.yaml.
	Memory    string `json:"memory,omitempty" yaml:"-"`
	Knowledge string `json:"knowledge,omitempty" yaml:"-"`
}

// DisplayName returns Name, or ID when no name is configured.
func (p *Persona) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// WorkItemStatus is the lifecycle state of a work item.
type WorkItemStatus string

const (
	StatusBacklog    WorkItemStatus = "backlog"
	StatusInProgress WorkItemStatus = "in-progress"
	StatusDone       WorkItemStatus = "done"
)

// Priority of a work item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// WorkItem is a task owned by the notes workspace. The engine only reads it
// and decides which persona handles it.
type WorkItem struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Status            WorkItemStatus `json:"status"`
	Priority          Priority       `json:"priority,omitempty"`
	Group             string         `json:"group,omitempty"`
	GroupID           string         `json:"group_id,omitempty"`
	AssignedPersonaID string         `json:"assigned_persona_id,omitempty"`
}

// Pending reports whether the item still needs work.
func (w WorkItem) Pending() bool {
	return w.Status != StatusDone
}

// JobType distinguishes single-persona jobs from batch task processing.
type JobType string

const (
	JobTypeSingle       JobType = "single"
	JobTypeProcessTasks JobType = "process-tasks"
)

// JobMode selects the turn budget of a job.
type JobMode string

const (
	ModeLight JobMode = "light"
	ModeFull  JobMode = "full"
)

// JobDefinition is a statically configured, time-triggered job.
type JobDefinition struct {
	ID         string  `json:"id" yaml:"id"`
	PersonaID  string  `json:"persona_id" yaml:"persona_id"`
	SeedPrompt string  `json:"seed_prompt" yaml:"seed_prompt"`
	Cron       string  `json:"cron" yaml:"cron"`
	Schedule   string  `json:"schedule,omitempty" yaml:"schedule"` // human-readable, e.g. "Weekdays 7am"
	Mode       JobMode `json:"mode,omitempty" yaml:"mode"`
	Type       JobType `json:"type" yaml:"type"`
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Model      string  `json:"model,omitempty" yaml:"model"`
}

// IsBatch reports whether the job fans out over multiple personas.
func (j *JobDefinition) IsBatch() bool {
	return j.Type == JobTypeProcessTasks || j.PersonaID == BatchPersona
}

// JobResult is the immutable outcome of one job execution, or of one persona
// within a batch execution.
type JobResult struct {
	JobID        string    `json:"job_id"`
	PersonaID    string    `json:"persona_id"`
	DisplayName  string    `json:"display_name"`
	Timestamp    time.Time `json:"timestamp"`
	ResponseText string    `json:"response_text"`
	DurationMs   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
}
