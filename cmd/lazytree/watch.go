package main

import (
	"path/filepath"

	"github.com/vanderheijden86/lazytree/internal/datasource"
	"github.com/vanderheijden86/lazytree/pkg/debug"
	"github.com/vanderheijden86/lazytree/pkg/tree"
	"github.com/vanderheijden86/lazytree/pkg/watcher"
)

// attachWatcher keeps w watching exactly the expanded directories of tr.
// Pair it with a watcher built with WithOnChange calling reloadDirs.
func attachWatcher(tr *tree.Tree[datasource.Item], w *watcher.Watcher) (detach func()) {
	syncWatched(tr, w)
	return tr.Subscribe(func(ev tree.Event) {
		switch ev.Kind {
		case tree.ExpandCompleted, tree.CollapseCompleted, tree.ExpandAllCompleted,
			tree.ItemsChanged, tree.SelectedItemChanged:
			syncWatched(tr, w)
		}
	})
}

// syncWatched adds every expanded directory reachable from the roots to w and
// drops the ones that were collapsed or unloaded. Silent expansions (reveals,
// ExpandAll) only show up here.
func syncWatched(tr *tree.Tree[datasource.Item], w *watcher.Watcher) {
	want := make(map[string]bool)
	tr.Walk(func(s tree.NodeState[datasource.Item], depth int) bool {
		if !s.Expanded {
			return false
		}
		if s.Value.Dir {
			if abs, err := filepath.Abs(s.Value.ID); err == nil {
				want[abs] = true
			}
		}
		return true
	})

	for _, dir := range w.Watched() {
		if !want[dir] {
			w.Remove(dir)
		}
		delete(want, dir)
	}
	for dir := range want {
		if err := w.Add(dir); err != nil {
			debug.Log("watch %s: %v", dir, err)
		}
	}
}

// reloadDirs reloads every expanded, loaded node whose directory is in dirs.
func reloadDirs(tr *tree.Tree[datasource.Item], dirs []string) []*tree.Task {
	changed := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		changed[d] = true
	}
	var ids []tree.NodeID
	tr.Walk(func(s tree.NodeState[datasource.Item], depth int) bool {
		if !s.Expanded {
			return false
		}
		if changed[s.Value.ID] && s.ChildrenLoaded {
			ids = append(ids, s.ID)
		}
		return true
	})
	tasks := make([]*tree.Task, 0, len(ids))
	for _, id := range ids {
		debug.Log("watch: reloading %s", id)
		tasks = append(tasks, tr.Reload(id))
	}
	return tasks
}
