// Package prompt composes the full prompt text handed to the agent process.
package prompt

import (
	"strings"

	"github.com/jordanhubbard/ensemble/internal/character"
	"github.com/jordanhubbard/ensemble/internal/usage"
)

const sectionSeparator = "\n\n"

// FormatContract is appended to every prompt, immediately before the task.
// The UI parses these conventions out of streamed text.
const FormatContract = `## Output Format
- Link to a workspace node inline as [[node:<id>|<label>]].
- Highlight a key fact with ==text==.
- When a short reply from the user would unblock you, end with one line per option: > reply: <option>
- Do not wrap the whole answer in a code block.`

// UsageSink receives fire-and-forget fragment usage records.
type UsageSink interface {
	Record(usage.Entry)
}

// Assembler builds prompts from the character store.
type Assembler struct {
	store           *character.Store
	usage           UsageSink
	architectID     string
	workspaceMarker string
}

// NewAssembler creates an assembler. sink may be nil.
func NewAssembler(store *character.Store, sink UsageSink, architectID, workspaceMarker string) *Assembler {
	return &Assembler{
		store:           store,
		usage:           sink,
		architectID:     architectID,
		workspaceMarker: workspaceMarker,
	}
}

// Assemble returns the prompt for personaID with task appended under a Task
// heading. Missing material is omitted; Assemble never fails.
func (a *Assembler) Assemble(personaID, task string) string {
	snap := a.store.Load()
	p := snap.Personas[personaID]

	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	add(p.SystemPrompt)
	for _, key := range p.SharedKnowledge {
		add(snap.Knowledge[key])
	}
	if mem := strings.TrimSpace(p.Memory); mem != "" {
		add("## Memory\n" + mem)
	}
	add(p.Knowledge)
	for _, name := range p.Skills {
		if text := snap.Skills[name]; text != "" {
			add(text)
			a.record(personaID, "skill", name)
		}
	}
	for _, name := range p.Modifiers {
		if text := snap.Modifiers[name]; text != "" {
			add(text)
			a.record(personaID, "modifier", name)
		}
	}

	// Workspace identifiers are pulled in by content, not by declaration:
	// any mention of the workspace so far makes them relevant.
	if a.workspaceMarker != "" && strings.Contains(strings.Join(sections, sectionSeparator), a.workspaceMarker) {
		add(snap.Docs[character.DocWorkspaceIDs])
	}
	if personaID != "" && personaID == a.architectID {
		add(snap.Docs[character.DocChangelog])
	}

	sections = append(sections, FormatContract)
	if task = strings.TrimSpace(task); task != "" {
		sections = append(sections, "## Task\n"+task)
	}
	return strings.Join(sections, sectionSeparator)
}

func (a *Assembler) record(personaID, kind, name string) {
	if a.usage == nil {
		return
	}
	a.usage.Record(usage.Entry{PersonaID: personaID, Kind: kind, Name: name})
}
