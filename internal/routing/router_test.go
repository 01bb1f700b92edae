package routing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jordanhubbard/ensemble/internal/character"
	"github.com/jordanhubbard/ensemble/internal/testutil"
	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, devMode bool) (*Router, string) {
	t.Helper()
	root := t.TempDir()
	testutil.WriteCharacter(t, root, models.Persona{
		ID:      "artist",
		Routing: models.Routing{Keywords: []string{"art", "sketch"}},
	})
	testutil.WriteCharacter(t, root, models.Persona{
		ID:      "scholar",
		Routing: models.Routing{Keywords: []string{"thesis", "c++"}, Tracks: []string{"^PhD", "research"}},
	})
	testutil.WriteCharacter(t, root, models.Persona{
		ID:      "coach",
		Routing: models.Routing{Keywords: []string{"run"}, Tracks: []string{"fitness", "[invalid"}},
	})
	testutil.WriteCharacter(t, root, models.Persona{ID: "assistant"})

	overrides := filepath.Join(root, "knowledge", "routing-overrides.md")
	r := NewRouter(character.NewStore(root), Options{
		OverridesPath:  overrides,
		DefaultPersona: "assistant",
		DevMode:        devMode,
	})
	return r, overrides
}

func TestExplicitAssigneeAlwaysWins(t *testing.T) {
	r, _ := setup(t, false)
	d := r.Explain("coach", "PhD", "Sketch some art for the thesis")
	assert.Equal(t, Decision{PersonaID: "coach", Tier: TierExplicit}, d)
	assert.Equal(t, "unknown-persona", r.Resolve("unknown-persona", "", "thesis"))
}

func TestKeywordBoundary(t *testing.T) {
	root := t.TempDir()
	testutil.WriteCharacter(t, root, models.Persona{ID: "artist", Routing: models.Routing{Keywords: []string{"art"}}})
	testutil.WriteCharacter(t, root, models.Persona{ID: "scholar", Routing: models.Routing{Tracks: []string{"^PhD"}}})
	r := NewRouter(character.NewStore(root), Options{DefaultPersona: "assistant"})

	// "art" must not match inside "Start"; the item falls through to the group tier.
	d := r.Explain("", "PhD year 2", "Start the thesis")
	assert.Equal(t, "scholar", d.PersonaID)
	assert.Equal(t, TierGroup, d.Tier)
	assert.Equal(t, "assistant", r.Resolve("", "", "Start the thesis"))
	assert.Equal(t, "artist", r.Resolve("", "", "Frame the ART piece"))
}

func TestTierOrder(t *testing.T) {
	r, _ := setup(t, false)

	// Persona order is sorted by id: artist, assistant, coach, scholar.
	assert.Equal(t, TierKeyword, r.Explain("", "fitness", "sketch a thesis").Tier)
	assert.Equal(t, "artist", r.Resolve("", "fitness", "sketch a thesis"))
	assert.Equal(t, "coach", r.Resolve("", "fitness plan", "Buy shoes"))
	assert.Equal(t, "scholar", r.Resolve("", "Research group", "Buy shoes"))

	d := r.Explain("", "", "Buy shoes")
	assert.Equal(t, Decision{PersonaID: "assistant", Tier: TierDefault}, d)
}

func TestClassifyByGroupIgnoresOverrides(t *testing.T) {
	r, overrides := setup(t, false)
	testutil.WriteFile(t, filepath.Dir(overrides), "routing-overrides.md", "- `shoes` -> coach\n")

	assert.Equal(t, "coach", r.Resolve("", "", "Buy shoes"))
	assert.Equal(t, "assistant", r.ClassifyByGroup("", "Buy shoes"))
	assert.Equal(t, "scholar", r.ClassifyByGroup("PhD", ""))
}

func TestOverridesBeatKeywords(t *testing.T) {
	r, overrides := setup(t, false)
	testutil.WriteFile(t, filepath.Dir(overrides), "routing-overrides.md", `# Routing Overrides

Some prose that is not a rule.
- `+"`"+`(unclosed`+"`"+` -> artist
- `+"`"+`thesis defen[cs]e`+"`"+` => coach
* `+"`"+`^sketch`+"`"+` → scholar
`)

	d := r.Explain("", "", "Thesis defense prep")
	assert.Equal(t, "coach", d.PersonaID)
	assert.Equal(t, TierOverride, d.Tier)
	assert.Equal(t, "scholar", r.Resolve("", "", "sketch of the lab"))
	assert.Equal(t, "scholar", r.Resolve("", "", "Write the thesis"))
}

func TestDeterministic(t *testing.T) {
	r, _ := setup(t, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, "artist", r.Resolve("", "fitness", "art and running"))
	}
}

func TestCacheRequiresInvalidate(t *testing.T) {
	r, overrides := setup(t, false)
	assert.Equal(t, "assistant", r.Resolve("", "", "Buy shoes"))

	testutil.WriteFile(t, filepath.Dir(overrides), "routing-overrides.md", "- `shoes` -> coach\n")
	assert.Equal(t, "assistant", r.Resolve("", "", "Buy shoes"), "cached patterns must not see edits")

	r.Invalidate()
	assert.Equal(t, "coach", r.Resolve("", "", "Buy shoes"))
}

func TestDevModeSeesEdits(t *testing.T) {
	r, overrides := setup(t, true)
	assert.Equal(t, "assistant", r.Resolve("", "", "Buy shoes"))

	testutil.WriteFile(t, filepath.Dir(overrides), "routing-overrides.md", "- `shoes` -> coach\n")
	assert.Equal(t, "coach", r.Resolve("", "", "Buy shoes"))
}

func TestLearn(t *testing.T) {
	r, overrides := setup(t, false)
	assert.Equal(t, "assistant", r.Resolve("", "", "Renew passport"))

	require.NoError(t, r.Learn(`passport|visa`, "scholar"))
	assert.Equal(t, "scholar", r.Resolve("", "", "Renew passport"))

	data, err := os.ReadFile(overrides)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- `passport|visa` -> scholar")

	assert.ErrorIs(t, r.Learn("(bad", "scholar"), ErrInvalidPattern)
	assert.ErrorIs(t, r.Learn("with`tick", "scholar"), ErrInvalidPattern)
	assert.ErrorIs(t, r.Learn("ok", "ghost"), character.ErrUnknownPersona)
}

func TestCompileIsPure(t *testing.T) {
	personas := map[string]models.Persona{
		"a": {ID: "a", Routing: models.Routing{Keywords: []string{"x.y"}}},
		"b": {ID: "b"},
	}
	set := Compile(personas, []string{"b", "a", "missing"}, "")
	require.Len(t, set.Keywords, 1)
	assert.Equal(t, `(?i)\b(?:x\.y)\b`, set.Keywords[0].Pattern.String())
	assert.Empty(t, set.Tracks)
	assert.Empty(t, set.Overrides)
}

func TestParseOverridesSurvivesLongLines(t *testing.T) {
	doc := "# Routing Overrides\n\n" + strings.Repeat("x", 100*1024) + "\n- `vet` -> assistant\n"
	got := ParseOverrides(doc)
	require.Len(t, got, 1)
	assert.Equal(t, "assistant", got[0].PersonaID)
	assert.True(t, got[0].Pattern.MatchString("Book VET visit"))
}
