//go:build ignore

// generate_testdata.go creates SQLite node tables for trying out and
// benchmarking `lazytree --db`.
// Usage: go run scripts/generate_testdata.go
//
// Creates:
//   testdata/bench/small.sqlite   (100 nodes)
//   testdata/bench/medium.sqlite  (1000 nodes)
//   testdata/bench/large.sqlite   (10000 nodes)
//   testdata/bench/wide.sqlite    (one directory with 5000 entries)
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vanderheijden86/lazytree/internal/datasource"
	"github.com/vanderheijden86/lazytree/pkg/testutil"
)

type datasetSpec struct {
	name    string
	fixture func(g *testutil.Generator) testutil.Fixture
}

var datasets = []datasetSpec{
	{"small", func(g *testutil.Generator) testutil.Fixture { return g.Random(100, 0.3) }},
	{"medium", func(g *testutil.Generator) testutil.Fixture { return g.Random(1000, 0.2) }},
	{"large", func(g *testutil.Generator) testutil.Fixture { return g.Random(10000, 0.1) }},
	{"wide", func(g *testutil.Generator) testutil.Fixture { return g.Wide(5000) }},
}

func main() {
	outputDir := "testdata/bench"
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	for i, ds := range datasets {
		gen := testutil.New(testutil.GeneratorConfig{Seed: int64(i + 1)}) // Reproducible per dataset
		f := ds.fixture(gen)

		outputPath := filepath.Join(outputDir, ds.name+".sqlite")
		_ = os.Remove(outputPath)
		fmt.Printf("Generating %s (%s)...\n", outputPath, f.Description)

		n, err := writeFixture(ctx, outputPath, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", outputPath, err)
			os.Exit(1)
		}
		fmt.Printf("  Written %d nodes\n", n)
	}

	fmt.Println("\nDone! Browse one with: lazytree --db", filepath.Join(outputDir, "medium.sqlite"))
}

// writeFixture stores f as a node table. Paths sort parents first, which
// keeps the parent_id foreign key satisfied.
func writeFixture(ctx context.Context, path string, f testutil.Fixture) (int, error) {
	src, err := datasource.OpenSQLite(path, false)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dirs := make(map[string]bool, len(f.Dirs))
	for _, d := range f.Dirs {
		dirs[d] = true
	}
	paths := f.Paths()
	for _, p := range paths {
		if err := src.Put(ctx, p, testutil.Parent(p), testutil.Base(p), dirs[p]); err != nil {
			return 0, err
		}
	}
	return len(paths), nil
}
