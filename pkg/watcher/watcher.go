// Package watcher reports changes to a set of directories, using fsnotify
// with a polling fallback. The browser watches every expanded directory and
// reloads the matching tree node when its listing changes.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the default polling interval for fallback mode.
const DefaultPollInterval = 2 * time.Second

// Common errors.
var (
	ErrDirRemoved     = errors.New("watched directory was removed")
	ErrNotDirectory   = errors.New("not a directory")
	ErrPermission     = errors.New("permission denied")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDuration sets the debounce duration.
func WithDebounceDuration(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDuration = d
	}
}

// WithPollInterval sets the polling interval for fallback mode.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithOnChange sets the callback invoked with the directories whose listing
// changed during one debounce window, sorted.
func WithOnChange(fn func(dirs []string)) WatcherOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// WithOnError sets the callback invoked on errors.
func WithOnError(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithForcePoll forces polling mode even if fsnotify is available.
func WithForcePoll(force bool) WatcherOption {
	return func(w *Watcher) {
		w.forcePoll = force
	}
}

type dirStamp struct {
	mtime   time.Time
	entries int
}

// Watcher monitors directories for entries being added, removed or renamed.
type Watcher struct {
	root             string
	debounceDuration time.Duration
	pollInterval     time.Duration
	onChange         func([]string)
	onError          func(error)
	forcePoll        bool
	forcePollEnv     bool
	fsType           FilesystemType

	fsWatcher   *fsnotify.Watcher
	debouncer   *Debouncer
	useFallback bool
	dirs        map[string]dirStamp
	pending     map[string]struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	mu       sync.RWMutex
	changeCh chan struct{}
}

// NewWatcher creates a watcher rooted at root. The root decides the
// filesystem type; directories are added with Add.
func NewWatcher(root string, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:             absPath,
		debounceDuration: DefaultDebounceDuration,
		pollInterval:     DefaultPollInterval,
		onChange:         func([]string) {},
		onError:          func(error) {},
		dirs:             make(map[string]dirStamp),
		pending:          make(map[string]struct{}),
		changeCh:         make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.debouncer = NewDebouncer(w.debounceDuration)

	return w, nil
}

// Start begins watching the added directories.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())

	// Reset per-start state.
	w.useFallback = false
	w.forcePollEnv = envBool("LAZYTREE_FORCE_POLL")

	w.fsType = DetectFilesystemType(w.root)
	if isRemoteFilesystem(w.fsType) {
		w.useFallback = true
	}

	forcePoll := w.forcePoll || w.forcePollEnv
	if !forcePoll && !w.useFallback {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsWatcher = fsw
			for dir := range w.dirs {
				if err := fsw.Add(dir); err != nil {
					w.onError(err)
				}
			}
			go w.watchFsnotify()
		} else {
			w.useFallback = true
		}
	} else {
		w.useFallback = true
	}

	if w.useFallback {
		go w.watchPolling()
	}

	w.started = true
	return nil
}

// Stop stops watching. The registered directories are kept, so a later Start
// resumes them. Changed is never closed.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}

	if w.cancel != nil {
		w.cancel()
	}

	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		w.fsWatcher = nil
	}

	w.debouncer.Cancel()
	clear(w.pending)
	w.started = false
}

// Add starts watching dir. Adding a watched directory is a no-op.
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	st, err := stamp(abs)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[abs]; ok {
		return nil
	}
	if w.fsWatcher != nil {
		if err := w.fsWatcher.Add(abs); err != nil {
			return err
		}
	}
	w.dirs[abs] = st
	return nil
}

// Remove stops watching dir.
func (w *Watcher) Remove(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(abs)
}

func (w *Watcher) removeLocked(abs string) {
	if _, ok := w.dirs[abs]; !ok {
		return
	}
	delete(w.dirs, abs)
	delete(w.pending, abs)
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Remove(abs)
	}
}

// Watched returns the watched directories, sorted.
func (w *Watcher) Watched() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		out = append(out, dir)
	}
	slices.Sort(out)
	return out
}

// IsPolling returns true if the watcher is using polling mode.
func (w *Watcher) IsPolling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.useFallback
}

// IsStarted returns true if the watcher is running.
func (w *Watcher) IsStarted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.started
}

// Changed returns a channel that receives after each reported change.
// This is an alternative to using the OnChange callback.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changeCh
}

// Path returns the watcher root.
func (w *Watcher) Path() string {
	return w.root
}

// FilesystemType returns the best-effort filesystem classification for the root.
func (w *Watcher) FilesystemType() FilesystemType {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fsType
}

// PollInterval returns the polling interval used when polling mode is active.
func (w *Watcher) PollInterval() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pollInterval
}

func envBool(name string) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func stamp(dir string) (dirStamp, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsPermission(err) {
			return dirStamp{}, ErrPermission
		}
		return dirStamp{}, err
	}
	if !info.IsDir() {
		return dirStamp{}, ErrNotDirectory
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dirStamp{}, err
	}
	return dirStamp{mtime: info.ModTime(), entries: len(entries)}, nil
}

// watchFsnotify monitors using fsnotify events.
func (w *Watcher) watchFsnotify() {
	// Capture channel references to avoid race with Stop() setting fsWatcher to nil
	w.mu.RLock()
	if w.fsWatcher == nil {
		w.mu.RUnlock()
		return
	}
	ctx := w.ctx
	events := w.fsWatcher.Events
	errors := w.fsWatcher.Errors
	w.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.handleEntryChange(event.Name, event.Op&(fsnotify.Remove|fsnotify.Rename) != 0)

		case err, ok := <-errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

// handleEntryChange marks the directory holding name as changed. A watched
// directory that disappeared is dropped and reported.
func (w *Watcher) handleEntryChange(name string, gone bool) {
	w.mu.Lock()
	parent := filepath.Dir(name)
	_, parentWatched := w.dirs[parent]
	if parentWatched {
		w.pending[parent] = struct{}{}
	}
	_, selfWatched := w.dirs[name]
	if gone && selfWatched {
		w.removeLocked(name)
	}
	w.mu.Unlock()

	if gone && selfWatched {
		w.onError(ErrDirRemoved)
	}
	if parentWatched {
		w.debouncer.Trigger(w.notifyChange)
	}
}

// watchPolling monitors using periodic stat checks.
func (w *Watcher) watchPolling() {
	w.mu.RLock()
	ctx := w.ctx
	interval := w.pollInterval
	w.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	var changed bool
	var errs []error
	for _, dir := range w.Watched() {
		st, err := stamp(dir)
		w.mu.Lock()
		prev, ok := w.dirs[dir]
		switch {
		case !ok:
		case err != nil:
			if os.IsNotExist(err) {
				w.removeLocked(dir)
				if _, watched := w.dirs[filepath.Dir(dir)]; watched {
					w.pending[filepath.Dir(dir)] = struct{}{}
					changed = true
				}
				err = ErrDirRemoved
			}
			errs = append(errs, err)
		case !st.mtime.Equal(prev.mtime) || st.entries != prev.entries:
			w.dirs[dir] = st
			w.pending[dir] = struct{}{}
			changed = true
		}
		w.mu.Unlock()
	}

	for _, err := range errs {
		w.onError(err)
	}
	if changed {
		w.debouncer.Trigger(w.notifyChange)
	}
}

// notifyChange hands the pending directories to the onChange callback and
// signals the change channel.
func (w *Watcher) notifyChange() {
	w.mu.Lock()
	if !w.started || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	dirs := make([]string, 0, len(w.pending))
	for dir := range w.pending {
		dirs = append(dirs, dir)
	}
	clear(w.pending)
	w.mu.Unlock()

	slices.Sort(dirs)
	w.onChange(dirs)

	// Non-blocking send to change channel
	select {
	case w.changeCh <- struct{}{}:
	default:
	}
}
