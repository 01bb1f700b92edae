// Package testutil builds on-disk character fixtures for package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jordanhubbard/ensemble/pkg/models"
	"gopkg.in/yaml.v3"
)

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t testing.TB, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteCharacter writes characters/<id>/character.yaml for p, plus memory.md
// and knowledge.md when p carries them.
func WriteCharacter(t testing.TB, root string, p models.Persona) {
	t.Helper()
	data, err := yaml.Marshal(p)
	if err != nil {
		t.Fatalf("marshal persona %s: %v", p.ID, err)
	}
	dir := filepath.Join("characters", p.ID)
	WriteFile(t, root, filepath.Join(dir, "character.yaml"), string(data))
	if p.Memory != "" {
		WriteFile(t, root, filepath.Join(dir, "memory.md"), p.Memory)
	}
	if p.Knowledge != "" {
		WriteFile(t, root, filepath.Join(dir, "knowledge.md"), p.Knowledge)
	}
}

// WriteAgent writes an executable shell script standing in for the agent binary.
func WriteAgent(t testing.TB, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("write agent script: %v", err)
	}
	return path
}
