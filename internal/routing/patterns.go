package routing

import (
	"log"
	"regexp"
	"strings"

	"github.com/jordanhubbard/ensemble/pkg/models"
)

// Override is a learned rule sending matching item names to a persona.
type Override struct {
	Source    string
	Pattern   *regexp.Regexp
	PersonaID string
}

// PersonaPattern is a compiled keyword or track matcher for one persona.
type PersonaPattern struct {
	PersonaID string
	Pattern   *regexp.Regexp
}

// PatternSet holds the three matcher tiers derived from one configuration snapshot.
type PatternSet struct {
	Overrides []Override
	Keywords  []PersonaPattern
	Tracks    []PersonaPattern
}

// overrideLine matches "- `<regex>` -> <persona-id>"; "=>" and "→" are accepted too.
var overrideLine = regexp.MustCompile("^\\s*[-*]\\s*`([^`]+)`\\s*(?:->|=>|→)\\s*([A-Za-z0-9_.-]+)\\s*$")

// Compile builds a PatternSet. It is a pure function of its inputs apart from
// logging; personas are visited in order.
func Compile(personas map[string]models.Persona, order []string, overridesDoc string) *PatternSet {
	set := &PatternSet{Overrides: ParseOverrides(overridesDoc)}

	for _, id := range order {
		p, ok := personas[id]
		if !ok {
			continue
		}
		if re := keywordPattern(p.Routing.Keywords); re != nil {
			set.Keywords = append(set.Keywords, PersonaPattern{PersonaID: id, Pattern: re})
		}
		if re := trackPattern(id, p.Routing.Tracks); re != nil {
			set.Tracks = append(set.Tracks, PersonaPattern{PersonaID: id, Pattern: re})
		}
	}
	return set
}

// keywordPattern returns (?i)\b(?:k1|k2)\b over the quoted keywords.
func keywordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// trackPattern joins a persona's track regexes, skipping invalid ones.
func trackPattern(personaID string, tracks []string) *regexp.Regexp {
	valid := make([]string, 0, len(tracks))
	for _, t := range tracks {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, err := regexp.Compile(t); err != nil {
			log.Printf("[Router] Warning: invalid track pattern %q for %s: %v", t, personaID, err)
			continue
		}
		valid = append(valid, "(?:"+t+")")
	}
	if len(valid) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)` + strings.Join(valid, "|"))
}

// ParseOverrides extracts override rules from the knowledge document, in
// document order. Lines that do not match the rule grammar are ignored.
func ParseOverrides(doc string) []Override {
	var out []Override
	for _, line := range strings.Split(doc, "\n") {
		m := overrideLine.FindStringSubmatch(strings.TrimSuffix(line, "\r"))
		if m == nil {
			continue
		}
		re, err := compileOverride(m[1])
		if err != nil {
			log.Printf("[Router] Warning: skipping invalid override %q: %v", m[1], err)
			continue
		}
		out = append(out, Override{Source: m[1], Pattern: re, PersonaID: m[2]})
	}
	return out
}

func compileOverride(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// FormatOverride renders one rule line in the document grammar.
func FormatOverride(pattern, personaID string) string {
	return "- `" + pattern + "` -> " + personaID
}
