package datasource

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/lazytree/pkg/tree"
)

// Schema is the adjacency table SQLiteSource reads. A node is expandable
// when is_dir is set or it has at least one child row.
const Schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id        TEXT PRIMARY KEY,
	parent_id TEXT REFERENCES nodes(id) ON DELETE CASCADE,
	name      TEXT NOT NULL,
	is_dir    INTEGER NOT NULL DEFAULT 0,
	editable  INTEGER
);
CREATE INDEX IF NOT EXISTS nodes_parent ON nodes(parent_id);
`

const selectNodes = `
	SELECT n.id, n.name,
		n.is_dir OR EXISTS (SELECT 1 FROM nodes c WHERE c.parent_id = n.id),
		n.editable
	FROM nodes n
`

// SQLiteSource loads tree levels from a nodes table.
type SQLiteSource struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens the database at path. Writable handles create the schema.
func OpenSQLite(path string, readOnly bool) (*SQLiteSource, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	if readOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set pragmas for read performance
	pragmas := []string{
		"PRAGMA cache_size = -64000",  // 64MB cache
		"PRAGMA mmap_size = 268435456", // 256MB mmap
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		_, _ = db.Exec(pragma)
	}

	if !readOnly {
		if _, err := db.Exec(Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	return &SQLiteSource{db: db, path: path}, nil
}

// Close closes the database connection
func (s *SQLiteSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteSource) Path() string { return s.path }

func (s *SQLiteSource) Roots(ctx context.Context) ([]*tree.Entry[Item], error) {
	return s.query(ctx, selectNodes+`WHERE n.parent_id IS NULL`)
}

func (s *SQLiteSource) FetchChildren(ctx context.Context, parent Item) ([]*tree.Entry[Item], error) {
	return s.query(ctx, selectNodes+`WHERE n.parent_id = ?`, parent.ID)
}

func (s *SQLiteSource) query(ctx context.Context, q string, args ...any) ([]*tree.Entry[Item], error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var out []*tree.Entry[Item]
	for rows.Next() {
		var (
			item     Item
			editable sql.NullBool
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Dir, &editable); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		e := &tree.Entry[Item]{Value: item, ParentCapable: item.Dir}
		if editable.Valid {
			v := editable.Bool
			e.Editable = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Put inserts or replaces a node. An empty parent makes it a root.
func (s *SQLiteSource) Put(ctx context.Context, id, parent, name string, dir bool) error {
	var p sql.NullString
	if parent != "" {
		p = sql.NullString{String: parent, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, parent_id, name, is_dir) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET parent_id = excluded.parent_id, name = excluded.name, is_dir = excluded.is_dir`,
		id, p, name, dir)
	if err != nil {
		return fmt.Errorf("writing node %s: %w", id, err)
	}
	return nil
}

// Delete removes a node and, through the foreign key, its subtree.
func (s *SQLiteSource) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting node %s: %w", id, err)
	}
	return nil
}
