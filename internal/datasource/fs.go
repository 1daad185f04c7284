package datasource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vanderheijden86/lazytree/pkg/tree"
)

// FSSource lists a directory tree one level at a time.
type FSSource struct {
	root string
	opts Options
}

// NewFSSource returns a source rooted at root. The root itself is the single
// top-level node.
func NewFSSource(root string, opts Options) *FSSource {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &FSSource{root: root, opts: opts}
}

func (s *FSSource) Root() string { return s.root }

func (s *FSSource) Roots(ctx context.Context) ([]*tree.Entry[Item], error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(s.root)
	if name == string(filepath.Separator) || name == "." {
		name = s.root
	}
	return []*tree.Entry[Item]{{
		Value:         Item{ID: s.root, Name: name, Dir: info.IsDir()},
		ParentCapable: info.IsDir(),
	}}, nil
}

// FetchChildren reads parent's directory. Symlinks to directories are
// expandable; broken links show up as plain entries.
func (s *FSSource) FetchChildren(ctx context.Context, parent Item) ([]*tree.Entry[Item], error) {
	dirents, err := os.ReadDir(parent.ID)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", parent.ID, err)
	}

	out := make([]*tree.Entry[Item], 0, len(dirents))
	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := d.Name()
		if !s.opts.ShowHidden && strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(parent.ID, name)
		dir := d.IsDir()
		if d.Type()&os.ModeSymlink != 0 {
			if info, err := os.Stat(path); err == nil {
				dir = info.IsDir()
			}
		}
		out = append(out, &tree.Entry[Item]{
			Value:         Item{ID: path, Name: name, Dir: dir},
			ParentCapable: dir,
		})
	}
	return out, nil
}

func (s *FSSource) Close() error { return nil }
