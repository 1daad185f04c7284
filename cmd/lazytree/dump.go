package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/vanderheijden86/lazytree/internal/datasource"
	"github.com/vanderheijden86/lazytree/pkg/tree"
)

// dumpNode is the nested form written by the json and yaml formats.
type dumpNode struct {
	ID       string      `json:"id" yaml:"id"`
	Name     string      `json:"name" yaml:"name"`
	Dir      bool        `json:"dir,omitempty" yaml:"dir,omitempty"`
	Children []*dumpNode `json:"children,omitempty" yaml:"children,omitempty"`
}

func buildDump(tr *tree.Tree[datasource.Item], parent tree.NodeID) []*dumpNode {
	var out []*dumpNode
	for _, s := range tr.Children(parent) {
		if s.IsProxy() {
			continue
		}
		out = append(out, &dumpNode{
			ID:       s.Value.ID,
			Name:     s.Value.Name,
			Dir:      s.Value.Dir,
			Children: buildDump(tr, s.ID),
		})
	}
	return out
}

// writeDump prints every loaded node of tr in format.
func writeDump(w io.Writer, tr *tree.Tree[datasource.Item], format string) error {
	switch format {
	case "", "text":
		var sb strings.Builder
		tr.Walk(func(s tree.NodeState[datasource.Item], depth int) bool {
			sb.WriteString(strings.Repeat("  ", depth))
			sb.WriteString(s.Value.Name)
			if s.Value.Dir {
				sb.WriteString("/")
			}
			sb.WriteString("\n")
			return true
		})
		_, err := io.WriteString(w, sb.String())
		return err
	case "json":
		data, err := json.MarshalIndent(buildDump(tr, tree.NodeID{}), "", "  ")
		if err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(buildDump(tr, tree.NodeID{})); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown dump format %q", format)
	}
}
