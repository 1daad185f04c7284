// Package ui is the bubbletea host for a lazily loaded tree: a flattened view
// of the visible nodes with a cursor, driven through the tree's async API.
package ui

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/lazytree/pkg/tree"
)

// TreeModel renders a tree.Tree and maps keys onto its operations. The tree
// must deliver through the model's dispatcher so that every callback runs on
// the update goroutine.
type TreeModel[V any] struct {
	tree       *tree.Tree[V]
	dispatcher *ProgramDispatcher
	label      func(V) string
	theme      Theme
	keys       KeyMap
	title      string

	rows           []tree.VisibleNode[V] // flattened visible nodes
	index          map[tree.NodeID]int
	cursor         int
	viewportOffset int
	width          int
	height         int

	statusMsg     string
	statusIsError bool
	clip          func(string) error
	unsubscribe   func()
}

// NewTreeModel builds a model for t. label renders node values; nil uses
// fmt.Sprint.
func NewTreeModel[V any](t *tree.Tree[V], d *ProgramDispatcher, label func(V) string, theme Theme) *TreeModel[V] {
	if label == nil {
		label = func(v V) string { return fmt.Sprint(v) }
	}
	m := &TreeModel[V]{
		tree:       t,
		dispatcher: d,
		label:      label,
		theme:      theme,
		keys:       DefaultKeyMap(),
		index:      make(map[tree.NodeID]int),
		clip:       clipboard.WriteAll,
	}
	m.unsubscribe = t.Subscribe(m.onEvent)
	m.rebuildFlatList()
	return m
}

func (m *TreeModel[V]) SetTitle(title string) { m.title = title }

// SetSize sets the available width and height.
func (m *TreeModel[V]) SetSize(width, height int) {
	m.width, m.height = width, height
	m.ensureCursorVisible()
}

// Stop detaches the model from the tree.
func (m *TreeModel[V]) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *TreeModel[V]) onEvent(ev tree.Event) {
	switch ev.Kind {
	case tree.ExpandAllCompleted:
		m.setStatus("Expanded all", false)
	case tree.LoadAllChildrenCompleted:
		m.setStatus(fmt.Sprintf("Loaded %d nodes", m.tree.Len()), false)
	case tree.ExpandCompleted:
		if s, ok := m.tree.Node(ev.Node); ok && s.Empty {
			m.setStatus(m.label(s.Value)+" is empty", false)
		} else if !m.statusIsError {
			m.setStatus("", false)
		}
	}
}

func (m *TreeModel[V]) setStatus(msg string, isErr bool) {
	m.statusMsg, m.statusIsError = msg, isErr
}

func (m *TreeModel[V]) Init() tea.Cmd {
	return nil
}

func (m *TreeModel[V]) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case DispatchMsg:
		m.dispatcher.Drain()
		m.rebuildFlatList()
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height-2) // status and help lines
	case tea.KeyMsg:
		cmd := m.handleKey(msg)
		m.rebuildFlatList()
		return m, cmd
	}
	return m, nil
}

func (m *TreeModel[V]) handleKey(msg tea.KeyMsg) tea.Cmd {
	k := m.keys
	switch {
	case key.Matches(msg, k.Quit):
		return tea.Quit
	case key.Matches(msg, k.Up):
		m.MoveUp()
	case key.Matches(msg, k.Down):
		m.MoveDown()
	case key.Matches(msg, k.Top):
		m.cursor = 0
		m.ensureCursorVisible()
	case key.Matches(msg, k.Bottom):
		m.cursor = max(len(m.rows)-1, 0)
		m.ensureCursorVisible()
	case key.Matches(msg, k.PageUp):
		m.page(-1)
	case key.Matches(msg, k.PageDown):
		m.page(1)
	case key.Matches(msg, k.Expand):
		m.ExpandOrMoveToChild()
	case key.Matches(msg, k.Collapse):
		m.CollapseOrJumpToParent()
	case key.Matches(msg, k.Mark):
		if node, ok := m.SelectedNode(); ok && !node.IsProxy() {
			m.tree.ToggleMultiSelected(node.ID)
		}
	case key.Matches(msg, k.Select):
		m.SelectCurrent()
	case key.Matches(msg, k.ExpandAll):
		if node, ok := m.SelectedNode(); ok && !node.IsProxy() {
			m.tree.ExpandAll(node.ID, false)
			m.setStatus("Expanding "+m.label(node.Value)+"…", false)
		}
	case key.Matches(msg, k.CollapseAll):
		m.tree.CollapseAll(tree.NodeID{})
	case key.Matches(msg, k.LoadAll):
		if node, ok := m.SelectedNode(); ok && !node.IsProxy() {
			m.tree.LoadAllAsync(node.ID)
			m.setStatus("Loading "+m.label(node.Value)+"…", false)
		}
	case key.Matches(msg, k.Reload):
		m.ReloadCurrent()
	case key.Matches(msg, k.Yank):
		if node, ok := m.SelectedNode(); ok && !node.IsProxy() {
			text := m.label(node.Value)
			if err := m.clip(text); err != nil {
				m.setStatus(fmt.Sprintf("Clipboard error: %v", err), true)
			} else {
				m.setStatus("Copied "+text, false)
			}
		}
	}
	return nil
}

// SelectedNode returns the row under the cursor.
func (m *TreeModel[V]) SelectedNode() (tree.VisibleNode[V], bool) {
	if m.cursor >= 0 && m.cursor < len(m.rows) {
		return m.rows[m.cursor], true
	}
	return tree.VisibleNode[V]{}, false
}

// Rows returns the flattened visible rows.
func (m *TreeModel[V]) Rows() []tree.VisibleNode[V] { return m.rows }

func (m *TreeModel[V]) Cursor() int { return m.cursor }

// MoveDown moves the cursor down in the flat list.
func (m *TreeModel[V]) MoveDown() {
	if m.cursor < len(m.rows)-1 {
		m.cursor++
		m.ensureCursorVisible()
	}
}

// MoveUp moves the cursor up in the flat list.
func (m *TreeModel[V]) MoveUp() {
	if m.cursor > 0 {
		m.cursor--
		m.ensureCursorVisible()
	}
}

func (m *TreeModel[V]) page(dir int) {
	size := max(m.effectiveVisibleCount()/2, 1)
	m.cursor = min(max(m.cursor+dir*size, 0), max(len(m.rows)-1, 0))
	m.ensureCursorVisible()
}

// ExpandOrMoveToChild handles the → / l key:
// - collapsed parent: expand it, loading children if needed
// - expanded parent: move to its first row below
// - leaf or placeholder: nothing
func (m *TreeModel[V]) ExpandOrMoveToChild() {
	node, ok := m.SelectedNode()
	if !ok || node.IsProxy() || !node.ParentCapable {
		return
	}
	if !node.Expanded {
		if !node.ChildrenLoaded {
			m.setStatus("Loading "+m.label(node.Value)+"…", false)
		}
		m.tree.Expand(node.ID)
		return
	}
	if next := m.cursor + 1; next < len(m.rows) && m.rows[next].Parent == node.ID {
		m.cursor = next
		m.ensureCursorVisible()
	}
}

// CollapseOrJumpToParent handles the ← / h key:
// - expanded parent: collapse it
// - otherwise: jump to the parent row
func (m *TreeModel[V]) CollapseOrJumpToParent() {
	node, ok := m.SelectedNode()
	if !ok {
		return
	}
	if node.ParentCapable && node.Expanded {
		m.tree.Collapse(node.ID)
		return
	}
	if i, ok := m.index[node.Parent]; ok && !node.Parent.IsZero() {
		m.cursor = i
		m.ensureCursorVisible()
	}
}

// SelectCurrent makes the cursor row the single tree selection.
func (m *TreeModel[V]) SelectCurrent() {
	node, ok := m.SelectedNode()
	if !ok || node.IsProxy() {
		return
	}
	if last, ok := m.tree.LastSelectedItem(); ok && last.ID != node.ID {
		m.tree.Deselect(last.ID)
	}
	m.tree.Select(node.ID)
}

// ReloadCurrent refetches the cursor node, or its parent for leaves.
func (m *TreeModel[V]) ReloadCurrent() {
	node, ok := m.SelectedNode()
	if !ok {
		return
	}
	id := node.ID
	if node.IsProxy() || !node.ParentCapable {
		id = node.Parent
	}
	if id.IsZero() {
		return
	}
	m.tree.Reload(id)
	m.setStatus("Reloading…", false)
}

// rebuildFlatList re-reads the visible rows and keeps the cursor on the same
// node, or on its parent when the node went away.
func (m *TreeModel[V]) rebuildFlatList() {
	var current, parent tree.NodeID
	if node, ok := m.SelectedNode(); ok {
		current, parent = node.ID, node.Parent
	}

	m.rows = m.tree.Visible()
	clear(m.index)
	for i, r := range m.rows {
		m.index[r.ID] = i
	}

	if i, ok := m.index[current]; ok {
		m.cursor = i
	} else if i, ok := m.index[parent]; ok {
		m.cursor = i
	}
	// Ensure cursor stays in bounds
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.ensureCursorVisible()
}

func (m *TreeModel[V]) effectiveVisibleCount() int {
	visibleCount := m.height - 1 // header row
	if visibleCount <= 0 {
		visibleCount = 19
	}
	// Reserve 1 more line for the position indicator when scrolling is needed
	if len(m.rows) > visibleCount {
		visibleCount--
	}
	return max(visibleCount, 1)
}

// ensureCursorVisible scrolls just enough to keep the cursor in view.
func (m *TreeModel[V]) ensureCursorVisible() {
	if len(m.rows) == 0 {
		m.viewportOffset = 0
		return
	}
	visibleCount := m.effectiveVisibleCount()
	if m.cursor < m.viewportOffset {
		m.viewportOffset = m.cursor
	}
	if m.cursor >= m.viewportOffset+visibleCount {
		m.viewportOffset = m.cursor - visibleCount + 1
	}
	m.viewportOffset = min(m.viewportOffset, max(len(m.rows)-visibleCount, 0))
	m.viewportOffset = max(m.viewportOffset, 0)
}

// visibleRange returns the [start, end) window of rows to render.
func (m *TreeModel[V]) visibleRange() (start, end int) {
	if len(m.rows) == 0 {
		return 0, 0
	}
	start = m.viewportOffset
	end = min(start+m.effectiveVisibleCount(), len(m.rows))
	return start, end
}

func (m *TreeModel[V]) View() string {
	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")

	if len(m.rows) == 0 {
		sb.WriteString(m.theme.MutedText.Render("Nothing to show."))
		sb.WriteString("\n")
	}

	start, end := m.visibleRange()
	for i := start; i < end; i++ {
		line := m.renderNode(m.rows[i])
		if i == m.cursor {
			line = m.theme.Selected.Render(line)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	if len(m.rows) > m.effectiveVisibleCount() {
		sb.WriteString(m.theme.MutedText.Render(fmt.Sprintf(" %d-%d of %d", start+1, end, len(m.rows))))
		sb.WriteString("\n")
	}

	sb.WriteString(m.renderStatus())
	return sb.String()
}

func (m *TreeModel[V]) renderHeader() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	marked := 0
	for _, s := range m.tree.SelectedItems() {
		if s.MultiSelected {
			marked++
		}
	}
	text := fmt.Sprintf("%s  %d loaded", m.title, m.tree.Len())
	if marked > 0 {
		text += fmt.Sprintf(", %d marked", marked)
	}
	return m.theme.Header.Width(width).Render(strings.TrimSpace(text))
}

func (m *TreeModel[V]) renderStatus() string {
	if m.statusMsg != "" {
		if m.statusIsError {
			return m.theme.StatusError.Render(m.statusMsg)
		}
		return m.theme.StatusText.Render(m.statusMsg)
	}
	var parts []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return m.theme.MutedText.Render(strings.Join(parts, " • "))
}

// renderNode renders one row: [tree-prefix] [mark] [indicator] [label]
func (m *TreeModel[V]) renderNode(node tree.VisibleNode[V]) string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	// Reduce width by 1 to prevent terminal wrapping on the exact edge
	width--

	prefix := buildTreePrefix(node)
	used := lipgloss.Width(prefix) + 4

	var sb strings.Builder
	sb.WriteString(m.theme.MutedText.Render(prefix))

	if node.IsProxy() {
		text := "loading…"
		if i, ok := m.index[node.Parent]; ok && m.rows[i].Empty {
			text = "(empty)"
		}
		sb.WriteString("    ")
		sb.WriteString(m.theme.MutedText.Render(truncateRunesHelper(text, width-used, "…")))
		return sb.String()
	}

	if node.MultiSelected {
		sb.WriteString(m.theme.MarkText.Render("✓ "))
	} else {
		sb.WriteString("  ")
	}
	sb.WriteString(expandIndicator(node))
	sb.WriteString(" ")

	label := truncateRunesHelper(m.label(node.Value), width-used, "…")
	switch {
	case node.Selected:
		label = m.theme.ActiveText.Render(label)
	case node.ParentCapable:
		label = m.theme.BranchText.Render(label)
	default:
		label = m.theme.Base.Render(label)
	}
	sb.WriteString(label)
	return sb.String()
}

// buildTreePrefix draws the guides and the branch for rows below the roots.
func buildTreePrefix[V any](node tree.VisibleNode[V]) string {
	if node.Depth == 0 {
		return ""
	}
	var sb strings.Builder
	for _, below := range node.Guides[1:] {
		if below {
			sb.WriteString("│   ")
		} else {
			sb.WriteString("    ")
		}
	}
	if node.LastSibling {
		sb.WriteString("└── ")
	} else {
		sb.WriteString("├── ")
	}
	return sb.String()
}

func expandIndicator[V any](node tree.VisibleNode[V]) string {
	if !node.ParentCapable {
		return "•"
	}
	if node.Expanded {
		return "▾"
	}
	return "▸"
}
