package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"golang.org/x/term"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/lazytree/internal/datasource"
	"github.com/vanderheijden86/lazytree/pkg/config"
	"github.com/vanderheijden86/lazytree/pkg/debug"
	"github.com/vanderheijden86/lazytree/pkg/metrics"
	"github.com/vanderheijden86/lazytree/pkg/tree"
	"github.com/vanderheijden86/lazytree/pkg/ui"
	"github.com/vanderheijden86/lazytree/pkg/version"
	"github.com/vanderheijden86/lazytree/pkg/watcher"
)

func main() {
	configPath := flag.String("config", "", "Read configuration from this file instead of the XDG location")
	dbPath := flag.String("db", "", "Browse a SQLite node table instead of a directory")
	watch := flag.Bool("watch", false, "Reload expanded directories when they change on disk")
	dump := flag.Bool("dump", false, "Load the whole tree and print it instead of starting the TUI")
	format := flag.String("format", "", "Dump format: text, json or yaml")
	trace := flag.String("trace", "", "Append JSONL tree events to this file (\"-\" for the state directory)")
	showHidden := flag.Bool("show-hidden", false, "Include dotfiles")
	printMetrics := flag.Bool("metrics", false, "Print load metrics to stderr on exit")
	help := flag.Bool("help", false, "Show help")
	versionFlag := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *help {
		fmt.Println("Usage: lazytree [options] [ROOT]")
		fmt.Println("\nBrowse a directory or SQLite node table as a lazily loaded tree.")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *versionFlag {
		fmt.Printf("lazytree %s\n", version.Version)
		os.Exit(0)
	}

	var cfg config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		// Non-fatal: continue with defaults
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		cfg = config.DefaultConfig()
	}

	// CLI flags override the config file
	if flag.NArg() > 0 {
		cfg.Browser.Root = flag.Arg(0)
	}
	if *dbPath != "" {
		cfg.Browser.Database = *dbPath
	}
	if *watch {
		cfg.Browser.Watch = true
	}
	if *showHidden {
		cfg.Browser.ShowHidden = true
	}
	if *format != "" {
		cfg.Browser.Format = *format
	}
	if *trace == "-" {
		cfg.Log.TracePath = config.DefaultTracePath()
	} else if *trace != "" {
		cfg.Log.TracePath = *trace
	}
	if cfg.Log.Debug {
		debug.SetEnabled(true)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if cfg.Log.TracePath != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.Log.TracePath), 0o755)
	}

	target := cfg.Browser.Root
	if cfg.Browser.Database != "" {
		target = cfg.Browser.Database
	}
	ds, err := datasource.Detect(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	src, err := datasource.Open(ds, datasource.Options{ShowHidden: cfg.Browser.ShowHidden})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", ds, err)
		os.Exit(1)
	}
	defer src.Close()

	if *printMetrics {
		defer writeMetrics(os.Stderr)
	}

	headless := *dump || !term.IsTerminal(int(os.Stdout.Fd()))
	if headless {
		err = runDump(os.Stdout, src, cfg)
	} else {
		err = runBrowser(ds, src, cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runDump loads every node and writes the tree to w.
func runDump(w io.Writer, src datasource.Source, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := tree.New(datasource.CompareItems, src, cfg.TreeOptions()...)
	defer tr.Close()
	if err := tr.Bootstrap(ctx); err != nil {
		return fmt.Errorf("loading roots: %w", err)
	}
	if err := tr.LoadAllAsync(tree.NodeID{}).Wait(ctx); err != nil {
		return err
	}
	if lerr := tr.LastError(); lerr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", lerr)
	}
	return writeDump(w, tr, cfg.Browser.Format)
}

func runBrowser(ds datasource.DataSource, src datasource.Source, cfg config.Config) error {
	// The TUI owns the terminal; send debug output to the state directory.
	if debug.Enabled() {
		if f, err := openDebugLog(); err == nil {
			defer f.Close()
			debug.SetOutput(log.New(f, "[LAZYTREE_DEBUG] ", log.Ltime|log.Lmicroseconds))
		}
	}

	d := ui.NewProgramDispatcher()
	opts := append(cfg.TreeOptions(), tree.WithDispatcher(d))
	tr := tree.New(datasource.CompareItems, src, opts...)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := tr.Bootstrap(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("loading roots: %w", err)
	}

	m := ui.NewTreeModel(tr, d, datasource.Item.String, ui.DefaultTheme(lipgloss.DefaultRenderer()))
	defer m.Stop()
	m.SetTitle(ds.String())

	if cfg.Browser.Watch && ds.Type == datasource.SourceTypeDirectory {
		w, err := watcher.NewWatcher(ds.Path,
			watcher.WithDebounceDuration(time.Duration(cfg.Browser.Debounce)),
			watcher.WithOnChange(func(dirs []string) { reloadDirs(tr, dirs) }),
			watcher.WithOnError(func(err error) { debug.Log("watch: %v", err) }),
		)
		if err != nil {
			return fmt.Errorf("watching %s: %w", ds.Path, err)
		}
		detach := attachWatcher(tr, w)
		defer detach()
		if err := w.Start(); err != nil {
			return fmt.Errorf("watching %s: %w", ds.Path, err)
		}
		defer w.Stop()
	}

	// A single root, as for a directory, starts open.
	if roots := tr.Items(); len(roots) == 1 {
		tr.Expand(roots[0].ID)
	}

	return runTUIProgram(m, d)
}

func runTUIProgram(m tea.Model, d *ui.ProgramDispatcher) error {
	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)
	d.Attach(p)

	runDone := make(chan struct{})
	defer close(runDone)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-runDone:
			return
		case <-sigCh:
		}

		p.Quit()

		select {
		case <-runDone:
			return
		case <-sigCh:
		case <-time.After(5 * time.Second):
		}

		p.Kill()
	}()

	// Optional auto-quit for automated tests: set LAZYTREE_TUI_AUTOCLOSE_MS.
	if v := os.Getenv("LAZYTREE_TUI_AUTOCLOSE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			go func() {
				timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
				defer timer.Stop()

				select {
				case <-runDone:
					return
				case <-timer.C:
				}

				p.Quit()
			}()
		}
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, tea.ErrInterrupted) {
		return nil
	}
	return err
}

func openDebugLog() (*os.File, error) {
	dir := config.StateDir()
	if dir == "" {
		return nil, errors.New("no state directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func writeMetrics(w io.Writer) {
	out := struct {
		Counters map[string]int64     `json:"counters"`
		Timings  []metrics.TimingStats `json:"timings"`
	}{
		Counters: metrics.CounterValues(),
		Timings:  metrics.AllTimingStats(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(w, string(data))
}
