package character

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jordanhubbard/ensemble/internal/testutil"
	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteCharacter(t, root, models.Persona{
		ID:              "scholar",
		Name:            "Scholar",
		Tier:            "primary",
		DefaultModel:    "opus",
		SystemPrompt:    "You research things.",
		Skills:          []string{"citations"},
		SharedKnowledge: []string{"house-style"},
		Routing:         models.Routing{Keywords: []string{"thesis", "paper"}},
		Memory:          "Prefers APA.",
		Knowledge:       "Library hours are 9-5.",
	})
	testutil.WriteCharacter(t, root, models.Persona{ID: "assistant", Tier: "whatever"})
	testutil.WriteFile(t, root, "characters/scholar/prompt.md", "  Base instructions from file.  \n")
	testutil.WriteFile(t, root, "shared/house-style.md", "Be brief.")
	testutil.WriteFile(t, root, "skills/citations.md", "Cite sources.")
	testutil.WriteFile(t, root, "modifiers/terse.md", "Short answers.")
	testutil.WriteFile(t, root, "docs/workspace-ids.md", "inbox=abc123")
	return root
}

func TestLoadReadsLayout(t *testing.T) {
	s := NewStore(newFixture(t))

	snap := s.Load()
	assert.Equal(t, []string{"assistant", "scholar"}, snap.Order)

	p, ok := s.Persona("scholar")
	require.True(t, ok)
	assert.Equal(t, "Base instructions from file.", p.SystemPrompt)
	assert.Equal(t, models.TierPrimary, p.Tier)
	assert.Equal(t, "Prefers APA.", p.Memory)
	assert.Equal(t, "Library hours are 9-5.", p.Knowledge)
	assert.Equal(t, []string{"thesis", "paper"}, p.Routing.Keywords)

	a, ok := s.Persona("assistant")
	require.True(t, ok)
	assert.Equal(t, models.TierSpecialist, a.Tier)

	assert.Equal(t, "Be brief.", s.Knowledge("house-style"))
	assert.Equal(t, "Cite sources.", s.Skill("citations"))
	assert.Equal(t, "Short answers.", s.Modifier("terse"))
	assert.Equal(t, "inbox=abc123", s.Doc(DocWorkspaceIDs))
	assert.Empty(t, s.Doc(DocChangelog))
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	root := newFixture(t)
	testutil.WriteFile(t, root, "characters/broken/character.yaml", "id: [unterminated")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "characters", "empty"), 0755))

	s := NewStore(root)
	assert.Len(t, s.Personas(), 2)
	_, ok := s.Persona("broken")
	assert.False(t, ok)
}

func TestLoadMissingRoot(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	snap := s.Load()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Personas)
}

func TestLoadMemoisesUntilInvalidate(t *testing.T) {
	root := newFixture(t)
	s := NewStore(root)
	first := s.Load()

	testutil.WriteFile(t, root, "shared/house-style.md", "Be verbose.")
	assert.Same(t, first, s.Load())
	assert.Equal(t, "Be brief.", s.Knowledge("house-style"))

	s.Invalidate()
	assert.Equal(t, "Be verbose.", s.Knowledge("house-style"))
	assert.NotSame(t, first, s.Load())
}

func TestSaveMemory(t *testing.T) {
	root := newFixture(t)
	s := NewStore(root)

	require.NoError(t, s.SaveMemory("scholar", "Now prefers MLA."))
	p, _ := s.Persona("scholar")
	assert.Equal(t, "Now prefers MLA.", p.Memory)

	err := s.SaveMemory("ghost", "x")
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestConcurrentReadersSeeCompleteSnapshots(t *testing.T) {
	s := NewStore(newFixture(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i%4 == 0 {
					s.Invalidate()
				}
				snap := s.Load()
				assert.Len(t, snap.Personas, len(snap.Order))
				assert.Len(t, snap.Order, 2)
			}
		}(i)
	}
	wg.Wait()
}
