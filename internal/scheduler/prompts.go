package scheduler

import (
	"fmt"
	"strings"

	"github.com/jordanhubbard/ensemble/pkg/models"
)

// Turn budgets by job mode.
const (
	TurnsLight   = 10
	TurnsFull    = 40
	TurnsDefault = 25
)

// AutonomousRules is prepended to every scheduled seed prompt. Nobody is
// watching a scheduled run, so the agent must not wait for answers.
const AutonomousRules = `## Autonomous Execution
You are running unattended on a schedule. No human will read this conversation until it is finished.
- Do not ask for confirmation or clarification. Make a reasonable decision and note the assumption.
- Complete the work end to end using the tools available to you.
- Finish with a short summary of what you did and anything that needs a human.`

// TurnsFor returns the turn budget for mode.
func TurnsFor(mode models.JobMode) int {
	switch mode {
	case models.ModeLight:
		return TurnsLight
	case models.ModeFull:
		return TurnsFull
	default:
		return TurnsDefault
	}
}

func singleTask(seed string) string {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return AutonomousRules
	}
	return AutonomousRules + "\n\n" + seed
}

// batchTask lists a persona's assigned items and how to close them out.
func batchTask(seed string, items []models.WorkItem) string {
	var b strings.Builder
	b.WriteString(AutonomousRules)
	if seed = strings.TrimSpace(seed); seed != "" {
		b.WriteString("\n\n")
		b.WriteString(seed)
	}
	b.WriteString("\n\n## Assigned Tasks\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- [%s] %s", it.ID, it.Name)
		var meta []string
		if it.Priority != "" {
			meta = append(meta, "priority "+string(it.Priority))
		}
		if it.Group != "" {
			meta = append(meta, "group "+it.Group)
		}
		if it.Status != "" {
			meta = append(meta, string(it.Status))
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(meta, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nWork through each task. When a task is complete, set its status field to done in the workspace using its id.")
	return b.String()
}

type personaOutcome struct {
	persona models.Persona
	items   int
	err     error
}

// summarize renders the roll-up text for a batch run.
func summarize(total int, outcomes []personaOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d pending task(s) across %d persona(s).", total, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		fmt.Fprintf(&b, "\n- %s: %d task(s)", o.persona.DisplayName(), o.items)
		if o.err != nil {
			failed++
			fmt.Fprintf(&b, ", failed: %s", oneLine(o.err.Error()))
		}
	}
	if failed > 0 {
		fmt.Fprintf(&b, "\n%d of %d persona run(s) failed.", failed, len(outcomes))
	}
	return b.String()
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
