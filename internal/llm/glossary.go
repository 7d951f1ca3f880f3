package llm

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed glossary.yaml
var defaultGlossary []byte

// Glossary maps synonyms onto canonical terms.
type Glossary struct {
	Terms []GlossaryTerm `yaml:"terms"`

	replacer *strings.Replacer
}

// GlossaryTerm is one canonical term and the phrases rewritten to it.
type GlossaryTerm struct {
	Canonical string   `yaml:"canonical"`
	Synonyms  []string `yaml:"synonyms"`
}

// DefaultGlossary returns the embedded glossary.
func DefaultGlossary() (*Glossary, error) {
	return parseGlossary(defaultGlossary)
}

// LoadGlossary returns the embedded glossary extended with the terms in path.
// An empty path returns the defaults.
func LoadGlossary(path string) (*Glossary, error) {
	g, err := DefaultGlossary()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return g, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	extra, err := parseGlossary(data)
	if err != nil {
		return nil, err
	}
	g.Terms = append(g.Terms, extra.Terms...)
	g.build()
	return g, nil
}

func parseGlossary(data []byte) (*Glossary, error) {
	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse glossary yaml: %w", err)
	}
	g.build()
	return &g, nil
}

func (g *Glossary) build() {
	type pair struct{ from, to string }
	var pairs []pair
	for _, t := range g.Terms {
		for _, s := range t.Synonyms {
			s = strings.TrimSpace(s)
			if s == "" || s == t.Canonical {
				continue
			}
			pairs = append(pairs, pair{s, t.Canonical})
		}
	}
	// Longest synonym first so that a phrase is never split by a shorter one.
	sort.SliceStable(pairs, func(i, j int) bool {
		return len([]rune(pairs[i].from)) > len([]rune(pairs[j].from))
	})
	args := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		args = append(args, p.from, p.to)
	}
	g.replacer = strings.NewReplacer(args...)
}

// Normalize rewrites every synonym in s to its canonical term.
func (g *Glossary) Normalize(s string) string {
	if g == nil || g.replacer == nil || s == "" {
		return s
	}
	return g.replacer.Replace(s)
}
