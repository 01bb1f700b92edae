package scheduler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/robfig/cron"
)

// ErrUnknownJob is returned for job ids that are not in the registry.
var ErrUnknownJob = errors.New("unknown job")

// Registry is the immutable set of configured jobs.
type Registry struct {
	jobs  map[string]models.JobDefinition
	order []string
}

// NewRegistry validates defs. Enabled jobs must carry a parseable cron
// expression; single jobs must name a persona.
func NewRegistry(defs []models.JobDefinition) (*Registry, error) {
	r := &Registry{jobs: make(map[string]models.JobDefinition, len(defs))}
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("job without id")
		}
		if _, dup := r.jobs[def.ID]; dup {
			return nil, fmt.Errorf("duplicate job %q", def.ID)
		}
		if def.Type == "" {
			def.Type = models.JobTypeSingle
			if def.PersonaID == models.BatchPersona {
				def.Type = models.JobTypeProcessTasks
			}
		}
		switch def.Type {
		case models.JobTypeSingle:
			if def.PersonaID == "" || def.PersonaID == models.BatchPersona {
				return nil, fmt.Errorf("job %q: single jobs need a persona", def.ID)
			}
		case models.JobTypeProcessTasks:
		default:
			return nil, fmt.Errorf("job %q: unknown type %q", def.ID, def.Type)
		}
		if def.Enabled {
			if _, err := cron.ParseStandard(def.Cron); err != nil {
				return nil, fmt.Errorf("job %q: invalid cron %q: %w", def.ID, def.Cron, err)
			}
		}
		r.jobs[def.ID] = def
		r.order = append(r.order, def.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

// Get looks up a job by id.
func (r *Registry) Get(id string) (models.JobDefinition, error) {
	def, ok := r.jobs[id]
	if !ok {
		return models.JobDefinition{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return def, nil
}

// List returns all jobs sorted by id.
func (r *Registry) List() []models.JobDefinition {
	out := make([]models.JobDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id])
	}
	return out
}
