// Package datasource provides the hierarchical data sources the lazytree
// browser can open: a directory on disk or a SQLite adjacency table. Both
// hand out Items and load one level at a time.
package datasource

import (
	"bytes"
	"cmp"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vanderheijden86/lazytree/pkg/tree"
)

// SourceType identifies the type of data source
type SourceType string

const (
	// SourceTypeDirectory is a directory tree on disk
	SourceTypeDirectory SourceType = "directory"
	// SourceTypeSQLite is a SQLite database holding a nodes table
	SourceTypeSQLite SourceType = "sqlite"
)

// sqliteMagic opens every SQLite 3 database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// DataSource describes a path the browser can open.
type DataSource struct {
	Type    SourceType `json:"type"`
	Path    string     `json:"path"`
	ModTime time.Time  `json:"mod_time"`
	Size    int64      `json:"size"`
}

// String returns a human-readable description of the source
func (s DataSource) String() string {
	return fmt.Sprintf("%s (%s, mod=%s)", s.Path, s.Type, s.ModTime.Format(time.RFC3339))
}

// Detect classifies path as a directory or a SQLite database.
func Detect(path string) (DataSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return DataSource{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return DataSource{}, fmt.Errorf("cannot open source: %w", err)
	}
	ds := DataSource{Path: abs, ModTime: info.ModTime(), Size: info.Size()}
	if info.IsDir() {
		ds.Type = SourceTypeDirectory
		return ds, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return DataSource{}, fmt.Errorf("cannot open source: %w", err)
	}
	defer f.Close()
	header := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, sqliteMagic) {
		return DataSource{}, fmt.Errorf("%s is neither a directory nor a SQLite database", abs)
	}
	ds.Type = SourceTypeSQLite
	return ds, nil
}

// Source is a tree source that holds resources until closed.
type Source interface {
	tree.RootSource[Item]
	io.Closer
}

// Options tune how sources list entries.
type Options struct {
	ShowHidden bool
}

// Open returns the source for ds.
func Open(ds DataSource, opts Options) (Source, error) {
	switch ds.Type {
	case SourceTypeDirectory:
		return NewFSSource(ds.Path, opts), nil
	case SourceTypeSQLite:
		return OpenSQLite(ds.Path, true)
	default:
		return nil, fmt.Errorf("unknown source type: %s", ds.Type)
	}
}

// Item is the value held by every browser node.
type Item struct {
	// ID is the absolute path for directory sources and the row id for SQLite.
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Dir  bool   `json:"dir,omitempty" yaml:"dir,omitempty"`
}

func (i Item) String() string { return i.Name }

// CompareItems orders directories first, then names case-insensitively,
// falling back to ID so distinct items never compare equal.
func CompareItems(a, b Item) int {
	if a.Dir != b.Dir {
		if a.Dir {
			return -1
		}
		return 1
	}
	if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
		return c
	}
	return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.ID, b.ID))
}
