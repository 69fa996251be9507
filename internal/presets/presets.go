// Package presets holds the catalog of named activity presets.
package presets

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	lev "github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"

	"github.com/lox/fairweather/internal/suitability"
)

//go:embed presets.yaml
var defaultCatalog []byte

// maxSuggestDistance bounds how far a misspelt name may be from a preset
// before no suggestion is offered.
const maxSuggestDistance = 3

type catalogFile struct {
	Presets []suitability.Preset `yaml:"presets"`
}

// Catalog is an immutable set of presets keyed by lower-cased name.
type Catalog struct {
	byName map[string]suitability.Preset
	names  []string
}

// UnknownPresetError is returned by Lookup for names not in the catalog.
type UnknownPresetError struct {
	Name       string
	Suggestion string
}

func (e *UnknownPresetError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown preset %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown preset %q", e.Name)
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultCatalog)
		if err != nil {
			panic(fmt.Sprintf("presets: embedded catalog: %v", err))
		}
		defaultCat = c
	})
	return defaultCat
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalog. Names must be unique ignoring case.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if len(f.Presets) == 0 {
		return nil, fmt.Errorf("parse presets: no presets defined")
	}

	c := &Catalog{byName: make(map[string]suitability.Preset, len(f.Presets))}
	for i, p := range f.Presets {
		key := normalize(p.Name)
		if key == "" {
			return nil, fmt.Errorf("preset %d: missing name", i)
		}
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("preset %q defined twice", p.Name)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		c.byName[key] = p
		c.names = append(c.names, p.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Lookup finds a preset by name, ignoring case and surrounding space.
func (c *Catalog) Lookup(name string) (suitability.Preset, error) {
	if p, ok := c.byName[normalize(name)]; ok {
		return p, nil
	}
	return suitability.Preset{}, &UnknownPresetError{Name: name, Suggestion: c.suggest(name)}
}

func (c *Catalog) suggest(name string) string {
	name = normalize(name)
	best, bestDist := "", maxSuggestDistance+1
	for _, n := range c.names {
		if d := lev.ComputeDistance(name, normalize(n)); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

// Names returns the preset names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// All returns every preset sorted by name.
func (c *Catalog) All() []suitability.Preset {
	out := make([]suitability.Preset, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.byName[normalize(n)])
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
