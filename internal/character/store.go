// Package character loads persona ("character") definitions and the shared
// prompt material they reference from the configuration root.
//
// Layout under the root:
//
//	characters/<id>/character.yaml   persona definition (required)
//	characters/<id>/prompt.md        base instructions
//	characters/<id>/memory.md        mutable memory blob
//	characters/<id>/knowledge.md     domain knowledge document
//	shared/<key>.md                  shared knowledge snippets
//	skills/<name>.md                 skill fragments
//	modifiers/<name>.md              modifier fragments
//	docs/<name>.md                   special documents (workspace-ids, CHANGELOG)
package character

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jordanhubbard/ensemble/internal/files"
	"github.com/jordanhubbard/ensemble/pkg/models"
	"gopkg.in/yaml.v3"
)

// Well-known document names under docs/.
const (
	DocWorkspaceIDs = "workspace-ids"
	DocChangelog    = "CHANGELOG"
)

const (
	definitionFile = "character.yaml"
	promptFile     = "prompt.md"
	memoryFile     = "memory.md"
	knowledgeFile  = "knowledge.md"
)

// ErrUnknownPersona is returned when an operation names a persona that is not loaded.
var ErrUnknownPersona = errors.New("unknown persona")

// Snapshot is an immutable view of everything loaded from the root.
// Callers must not modify the maps.
type Snapshot struct {
	Personas  map[string]models.Persona
	Order     []string // persona ids, sorted
	Knowledge map[string]string
	Skills    map[string]string
	Modifiers map[string]string
	Docs      map[string]string
}

// Store memoises a Snapshot until Invalidate is called. Readers observe either
// the complete previous snapshot or the complete new one.
type Store struct {
	root string

	snap   atomic.Pointer[Snapshot]
	gen    atomic.Uint64
	loadMu sync.Mutex
}

// NewStore creates a store rooted at dir. Nothing is read until first use.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the configuration root directory.
func (s *Store) Root() string {
	return s.root
}

// Load returns the cached snapshot, reading the root on a cache miss.
// Load never fails; unreadable entries are skipped and logged.
func (s *Store) Load() *Snapshot {
	if snap := s.snap.Load(); snap != nil {
		return snap
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if snap := s.snap.Load(); snap != nil {
		return snap
	}

	gen := s.gen.Load()
	snap := readSnapshot(s.root)
	// An Invalidate that raced with the read wins; the next Load re-reads.
	if s.gen.Load() == gen {
		s.snap.Store(snap)
	}
	return snap
}

// ReadFresh reads the root without touching the cache. Development-mode
// callers use it to observe edits immediately.
func (s *Store) ReadFresh() *Snapshot {
	return readSnapshot(s.root)
}

// Invalidate drops the cached snapshot so the next Load re-reads the root.
func (s *Store) Invalidate() {
	s.gen.Add(1)
	s.snap.Store(nil)
}

// Personas returns all loaded personas in id order.
func (s *Store) Personas() []models.Persona {
	snap := s.Load()
	out := make([]models.Persona, 0, len(snap.Order))
	for _, id := range snap.Order {
		out = append(out, snap.Personas[id])
	}
	return out
}

// Persona looks up one persona by id.
func (s *Store) Persona(id string) (models.Persona, bool) {
	p, ok := s.Load().Personas[id]
	return p, ok
}

func (s *Store) Knowledge(key string) string { return s.Load().Knowledge[key] }
func (s *Store) Skill(name string) string    { return s.Load().Skills[name] }
func (s *Store) Modifier(name string) string { return s.Load().Modifiers[name] }
func (s *Store) Doc(name string) string      { return s.Load().Docs[name] }

// SaveMemory replaces a persona's memory blob on disk and invalidates the cache.
func (s *Store) SaveMemory(id, text string) error {
	if _, ok := s.Persona(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPersona, id)
	}
	path := filepath.Join(s.root, "characters", id, memoryFile)
	if err := files.WriteAtomic(path, []byte(strings.TrimSpace(text)+"\n")); err != nil {
		return fmt.Errorf("save memory for %s: %w", id, err)
	}
	s.Invalidate()
	log.Printf("[Characters] Updated memory for %s", id)
	return nil
}

func readSnapshot(root string) *Snapshot {
	snap := &Snapshot{
		Personas:  make(map[string]models.Persona),
		Knowledge: readFragments(filepath.Join(root, "shared")),
		Skills:    readFragments(filepath.Join(root, "skills")),
		Modifiers: readFragments(filepath.Join(root, "modifiers")),
		Docs:      readFragments(filepath.Join(root, "docs")),
	}

	charDir := filepath.Join(root, "characters")
	entries, err := os.ReadDir(charDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Characters] Warning: cannot read %s: %v", charDir, err)
		}
		return snap
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		p, err := readPersona(filepath.Join(charDir, entry.Name()), entry.Name())
		if err != nil {
			log.Printf("[Characters] Warning: skipping %s: %v", entry.Name(), err)
			continue
		}
		snap.Personas[p.ID] = p
		snap.Order = append(snap.Order, p.ID)
	}
	sort.Strings(snap.Order)

	log.Printf("[Characters] Loaded %d personas, %d knowledge snippets, %d skills from %s",
		len(snap.Personas), len(snap.Knowledge), len(snap.Skills), root)
	return snap
}

func readPersona(dir, id string) (models.Persona, error) {
	var p models.Persona
	data, err := os.ReadFile(filepath.Join(dir, definitionFile))
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", definitionFile, err)
	}

	// The directory name is the identity.
	if p.ID != "" && p.ID != id {
		log.Printf("[Characters] Warning: %s declares id %q, using directory name", id, p.ID)
	}
	p.ID = id
	p.Tier = models.NormalizeTier(string(p.Tier))

	if prompt := strings.TrimSpace(files.ReadOptional(filepath.Join(dir, promptFile))); prompt != "" {
		p.SystemPrompt = prompt
	}
	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	p.Memory = strings.TrimSpace(files.ReadOptional(filepath.Join(dir, memoryFile)))
	p.Knowledge = strings.TrimSpace(files.ReadOptional(filepath.Join(dir, knowledgeFile)))
	return p, nil
}

// readFragments loads every *.md file in dir keyed by its base name.
func readFragments(dir string) map[string]string {
	out := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Printf("[Characters] Warning: skipping %s: %v", name, err)
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			out[strings.TrimSuffix(name, ".md")] = text
		}
	}
	return out
}
