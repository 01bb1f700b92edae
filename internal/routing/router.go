// Package routing decides which persona handles a work item.
//
// Resolution tiers, first match wins:
//
//  1. explicit assignment
//  2. learned overrides (regexes from the overrides knowledge document)
//  3. persona keywords, word-bounded, against the item name
//  4. persona track patterns against the item's group label
//  5. the default persona
package routing

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jordanhubbard/ensemble/internal/character"
	"github.com/jordanhubbard/ensemble/internal/files"
	"github.com/jordanhubbard/ensemble/internal/metrics"
)

// Tier names the rule that produced a decision.
type Tier string

const (
	TierExplicit Tier = "explicit"
	TierOverride Tier = "override"
	TierKeyword  Tier = "keyword"
	TierGroup    Tier = "group"
	TierDefault  Tier = "default"
)

// ErrInvalidPattern is returned by Learn for patterns that cannot be used.
var ErrInvalidPattern = errors.New("invalid override pattern")

// Decision explains a resolution.
type Decision struct {
	PersonaID string `json:"persona_id"`
	Tier      Tier   `json:"tier"`
	Pattern   string `json:"pattern,omitempty"`
}

// Options configures a Router.
type Options struct {
	OverridesPath  string
	DefaultPersona string
	// DevMode recompiles patterns from disk on every call.
	DevMode bool
	Metrics *metrics.Metrics
}

// Router resolves work items to persona ids.
type Router struct {
	store *character.Store
	opts  Options

	cache   atomic.Pointer[PatternSet]
	gen     atomic.Uint64
	learnMu sync.Mutex
}

// NewRouter creates a router over the character store.
func NewRouter(store *character.Store, opts Options) *Router {
	return &Router{store: store, opts: opts}
}

// Resolve returns the persona responsible for an item.
func (r *Router) Resolve(explicit, group, name string) string {
	return r.Explain(explicit, group, name).PersonaID
}

// Explain is Resolve plus the tier and pattern that decided it.
func (r *Router) Explain(explicit, group, name string) Decision {
	var d Decision
	if strings.TrimSpace(explicit) != "" {
		d = Decision{PersonaID: explicit, Tier: TierExplicit}
	} else {
		set := r.patterns()
		d = matchOverrides(set, name)
		if d.PersonaID == "" {
			d = r.classify(set, group, name)
		}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RoutingDecisions.WithLabelValues(string(d.Tier)).Inc()
	}
	return d
}

// ClassifyByGroup applies only the keyword and track tiers.
func (r *Router) ClassifyByGroup(group, name string) string {
	return r.classify(r.patterns(), group, name).PersonaID
}

func matchOverrides(set *PatternSet, name string) Decision {
	for _, o := range set.Overrides {
		if o.Pattern.MatchString(name) {
			return Decision{PersonaID: o.PersonaID, Tier: TierOverride, Pattern: o.Source}
		}
	}
	return Decision{}
}

func (r *Router) classify(set *PatternSet, group, name string) Decision {
	if name != "" {
		for _, k := range set.Keywords {
			if k.Pattern.MatchString(name) {
				return Decision{PersonaID: k.PersonaID, Tier: TierKeyword, Pattern: k.Pattern.String()}
			}
		}
	}
	if group != "" {
		for _, g := range set.Tracks {
			if g.Pattern.MatchString(group) {
				return Decision{PersonaID: g.PersonaID, Tier: TierGroup, Pattern: g.Pattern.String()}
			}
		}
	}
	return Decision{PersonaID: r.opts.DefaultPersona, Tier: TierDefault}
}

// Invalidate clears the override, keyword and track caches together.
func (r *Router) Invalidate() {
	r.gen.Add(1)
	r.cache.Store(nil)
	if r.opts.Metrics != nil {
		r.opts.Metrics.Invalidations.WithLabelValues("routing").Inc()
	}
}

func (r *Router) patterns() *PatternSet {
	if r.opts.DevMode {
		snap := r.store.ReadFresh()
		return Compile(snap.Personas, snap.Order, files.ReadOptional(r.opts.OverridesPath))
	}
	if set := r.cache.Load(); set != nil {
		return set
	}
	gen := r.gen.Load()
	snap := r.store.Load()
	set := Compile(snap.Personas, snap.Order, files.ReadOptional(r.opts.OverridesPath))
	if r.gen.Load() == gen {
		r.cache.CompareAndSwap(nil, set)
	}
	return set
}

// Learn appends an override rule to the knowledge document and invalidates
// the caches so the rule applies to the next resolution.
func (r *Router) Learn(pattern, personaID string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.ContainsAny(pattern, "`\n") {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if _, err := compileOverride(pattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	if _, ok := r.store.Persona(personaID); !ok {
		return fmt.Errorf("%w: %s", character.ErrUnknownPersona, personaID)
	}

	r.learnMu.Lock()
	defer r.learnMu.Unlock()

	doc := files.ReadOptional(r.opts.OverridesPath)
	if strings.TrimSpace(doc) == "" {
		doc = "# Routing Overrides\n\n"
	} else if !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	doc += FormatOverride(pattern, personaID) + "\n"

	if err := files.WriteAtomic(r.opts.OverridesPath, []byte(doc)); err != nil {
		return fmt.Errorf("write overrides: %w", err)
	}
	r.Invalidate()
	log.Printf("[Router] Learned override %q -> %s", pattern, personaID)
	return nil
}
