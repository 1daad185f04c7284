package tree

import (
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// LogLevel controls tree log verbosity.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	case LogLevelTrace:
		return "trace"
	default:
		return "none"
	}
}

// ParseLogLevel accepts names ("warn") and digits ("2"). Unknown input maps to warn.
func ParseLogLevel(raw string) LogLevel {
	value := strings.TrimSpace(strings.ToLower(raw))
	switch value {
	case "none", "off", "0":
		return LogLevelNone
	case "error", "err", "1":
		return LogLevelError
	case "warn", "warning", "2":
		return LogLevelWarn
	case "info", "3":
		return LogLevelInfo
	case "debug", "4":
		return LogLevelDebug
	case "trace", "5":
		return LogLevelTrace
	default:
		return LogLevelWarn
	}
}

type treeLog struct {
	level LogLevel

	traceMu   sync.Mutex
	tracePath string
	traceFile *os.File
}

func (l *treeLog) openTrace() {
	if l.tracePath == "" || l.traceFile != nil {
		return
	}
	f, err := os.OpenFile(l.tracePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("tree: open trace %s: %v", l.tracePath, err)
		return
	}
	l.traceFile = f
}

func (l *treeLog) closeTrace() {
	l.traceMu.Lock()
	f := l.traceFile
	l.traceFile = nil
	l.traceMu.Unlock()
	if f == nil {
		return
	}
	if err := f.Close(); err != nil {
		log.Printf("tree: close trace %s: %v", l.tracePath, err)
	}
}

func (t *Tree[V]) logEvent(level LogLevel, event string, fields map[string]any) {
	l := &t.log
	if level == LogLevelNone {
		return
	}
	l.traceMu.Lock()
	tracing := l.traceFile != nil
	l.traceMu.Unlock()
	if !tracing && (l.level == LogLevelNone || level > l.level) {
		return
	}

	payload := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"component": "tree",
		"event":     event,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("tree: failed to marshal log event %s: %v", event, err)
		return
	}

	if l.level != LogLevelNone && level <= l.level {
		log.Printf("%s", b)
	}
	if tracing {
		l.traceMu.Lock()
		if l.traceFile != nil {
			_, _ = l.traceFile.Write(append(b, '\n'))
		}
		l.traceMu.Unlock()
	}
}
