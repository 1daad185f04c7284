// Package testutil provides deterministic hierarchy fixtures, a scripted
// in-memory tree.Source, and assertion helpers for tree tests.
package testutil

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
)

// Fixture is an abstract hierarchy of slash-separated paths. Dirs are
// parent-capable (they may be empty); Files never have children.
type Fixture struct {
	Description string   `json:"description"`
	Dirs        []string `json:"dirs"`
	Files       []string `json:"files"`
}

// Paths returns every path in the fixture, sorted.
func (f Fixture) Paths() []string {
	out := make([]string, 0, len(f.Dirs)+len(f.Files))
	out = append(out, f.Dirs...)
	out = append(out, f.Files...)
	slices.Sort(out)
	return out
}

// GeneratorConfig controls fixture generation.
type GeneratorConfig struct {
	Seed       int64  // Random seed for determinism
	DirPrefix  string // Name prefix for directories (default: "d")
	FilePrefix string // Name prefix for files (default: "f")
}

// DefaultConfig returns a config suitable for most tests.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:       42,
		DirPrefix:  "d",
		FilePrefix: "f",
	}
}

// Generator creates hierarchy fixtures with various shapes.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// New creates a Generator with the given config.
func New(cfg GeneratorConfig) *Generator {
	if cfg.DirPrefix == "" {
		cfg.DirPrefix = "d"
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "f"
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// NewDefault creates a Generator with DefaultConfig.
func NewDefault() *Generator {
	return New(DefaultConfig())
}

func (g *Generator) dir(parent string, i int) string {
	return Join(parent, fmt.Sprintf("%s%02d", g.cfg.DirPrefix, i))
}

func (g *Generator) file(parent string, i int) string {
	return Join(parent, fmt.Sprintf("%s%02d", g.cfg.FilePrefix, i))
}

// Chain creates d00/d00/.../d00 of the given depth with one file at the bottom.
func (g *Generator) Chain(depth int) Fixture {
	f := Fixture{Description: fmt.Sprintf("chain of %d directories", depth)}
	cur := ""
	for range depth {
		cur = g.dir(cur, 0)
		f.Dirs = append(f.Dirs, cur)
	}
	if depth > 0 {
		f.Files = append(f.Files, g.file(cur, 0))
	}
	return f
}

// Wide creates one root directory holding n files.
func (g *Generator) Wide(n int) Fixture {
	root := g.dir("", 0)
	f := Fixture{Description: fmt.Sprintf("one directory with %d files", n), Dirs: []string{root}}
	for i := range n {
		f.Files = append(f.Files, g.file(root, i))
	}
	return f
}

// Tree creates a full tree: every directory above the last level holds
// breadth subdirectories, and every directory holds one file.
func (g *Generator) Tree(depth, breadth int) Fixture {
	f := Fixture{Description: fmt.Sprintf("tree depth=%d breadth=%d", depth, breadth)}
	var build func(parent string, level int)
	build = func(parent string, level int) {
		if level == depth {
			return
		}
		for i := range breadth {
			d := g.dir(parent, i)
			f.Dirs = append(f.Dirs, d)
			f.Files = append(f.Files, g.file(d, 0))
			build(d, level+1)
		}
	}
	build("", 0)
	return f
}

// Random creates size nodes; each new node picks a random existing directory
// (or the root level) as its parent and becomes a directory with dirRatio
// probability.
func (g *Generator) Random(size int, dirRatio float64) Fixture {
	f := Fixture{Description: fmt.Sprintf("random hierarchy of %d nodes", size)}
	parents := []string{""}
	for i := range size {
		parent := parents[g.rng.Intn(len(parents))]
		if g.rng.Float64() < dirRatio {
			d := g.dir(parent, i)
			f.Dirs = append(f.Dirs, d)
			parents = append(parents, d)
		} else {
			f.Files = append(f.Files, g.file(parent, i))
		}
	}
	return f
}

// Join appends name to a slash-separated parent path.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Parent returns the parent path, "" for root-level paths.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last path element.
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// Quick helpers for common fixtures.

func QuickChain(depth int) Fixture {
	return NewDefault().Chain(depth)
}

func QuickTree(depth, breadth int) Fixture {
	return NewDefault().Tree(depth, breadth)
}

func QuickWide(n int) Fixture {
	return NewDefault().Wide(n)
}

func QuickRandom(size int, dirRatio float64) Fixture {
	return NewDefault().Random(size, dirRatio)
}
