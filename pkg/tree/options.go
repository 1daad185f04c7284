package tree

import (
	"os"
	"time"
)

// Options configures a Tree. Use the With* functions rather than building it
// directly.
type Options struct {
	LoadChildrenOnSelected   bool
	UnloadChildrenOnCollapse bool
	// MergeReloads diffs a forced reload into the existing children instead
	// of replacing them, so unchanged nodes keep their IDs and state.
	MergeReloads bool
	// LoadConcurrency bounds the fan-out of deep loads.
	LoadConcurrency int
	// FetchTimeout bounds a single FetchChildren call. Zero means none.
	FetchTimeout time.Duration
	Dispatcher   Dispatcher
	LogLevel     LogLevel
	TracePath    string

	proxyValue any // func(parent V) V
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		UnloadChildrenOnCollapse: true,
		MergeReloads:             true,
		LoadConcurrency:          4,
		Dispatcher:               Inline,
		LogLevel:                 ParseLogLevel(envOr("LAZYTREE_LOG_LEVEL", "warn")),
		TracePath:                os.Getenv("LAZYTREE_TRACE"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// WithLoadChildrenOnSelected makes selecting a node fetch its children.
func WithLoadChildrenOnSelected(on bool) Option {
	return func(o *Options) { o.LoadChildrenOnSelected = on }
}

// WithUnloadChildrenOnCollapse controls whether collapsing drops loaded
// children back to a placeholder. Defaults to true.
func WithUnloadChildrenOnCollapse(on bool) Option {
	return func(o *Options) { o.UnloadChildrenOnCollapse = on }
}

// WithMergeReloads makes forced reloads of loaded nodes merge into the existing
// children instead of replacing them. Defaults to true.
func WithMergeReloads(on bool) Option {
	return func(o *Options) { o.MergeReloads = on }
}

// WithLoadConcurrency bounds how many children a deep load fetches at once.
// Values below one are ignored.
func WithLoadConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.LoadConcurrency = n
		}
	}
}

// WithFetchTimeout bounds each FetchChildren call; zero means no limit.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Options) { o.FetchTimeout = d }
}

// WithDispatcher routes event delivery and child installation through d.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Options) {
		if d != nil {
			o.Dispatcher = d
		}
	}
}

// WithLogLevel sets the minimum level written to the log.
func WithLogLevel(l LogLevel) Option {
	return func(o *Options) { o.LogLevel = l }
}

// WithTracePath appends every log event, regardless of level, to path.
func WithTracePath(path string) Option {
	return func(o *Options) { o.TracePath = path }
}

// WithProxyValue sets how the value of a placeholder child is derived from
// its parent's value. By default placeholders carry the zero value.
func WithProxyValue[V any](fn func(parent V) V) Option {
	return func(o *Options) { o.proxyValue = fn }
}
