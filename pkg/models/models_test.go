package models

import "testing"

func TestNormalizeTier(t *testing.T) {
	cases := map[string]Tier{
		"primary":    TierPrimary,
		" System ":   TierSystem,
		"specialist": TierSpecialist,
		"":           TierSpecialist,
		"wizard":     TierSpecialist,
	}
	for in, want := range cases {
		if got := NormalizeTier(in); got != want {
			t.Errorf("NormalizeTier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWorkItemPending(t *testing.T) {
	if !(WorkItem{Status: StatusBacklog}).Pending() {
		t.Error("backlog item should be pending")
	}
	if !(WorkItem{Status: StatusInProgress}).Pending() {
		t.Error("in-progress item should be pending")
	}
	if (WorkItem{Status: StatusDone}).Pending() {
		t.Error("done item should not be pending")
	}
}

func TestJobDefinitionIsBatch(t *testing.T) {
	single := JobDefinition{ID: "brief", PersonaID: "assistant", Type: JobTypeSingle}
	if single.IsBatch() {
		t.Error("single job reported as batch")
	}
	byType := JobDefinition{ID: "tasks", Type: JobTypeProcessTasks}
	if !byType.IsBatch() {
		t.Error("process-tasks job should be batch")
	}
	bySentinel := JobDefinition{ID: "tasks", PersonaID: BatchPersona}
	if !bySentinel.IsBatch() {
		t.Error("sentinel persona should mark job as batch")
	}
}

func TestPersonaDisplayName(t *testing.T) {
	p := Persona{ID: "architect"}
	if p.DisplayName() != "architect" {
		t.Errorf("expected id fallback, got %q", p.DisplayName())
	}
	p.Name = "The Architect"
	if p.DisplayName() != "The Architect" {
		t.Errorf("expected name, got %q", p.DisplayName())
	}
}
