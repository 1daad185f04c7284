package main

import (
	"os"
	"strings"
)

// init runs before Bubble Tea or Lipgloss touch the terminal.
//
// Termenv background detection writes OSC/DSR queries to stdout, which ends
// up inside piped dump output. Headless invocations set CI=1 early, which
// makes termenv skip the probe.
func init() {
	if os.Getenv("CI") != "" {
		return
	}
	if !shouldSuppressTTYQueries(os.Args[1:], os.Getenv("LAZYTREE_TEST_MODE") != "") {
		return
	}
	_ = os.Setenv("CI", "1")
}

func shouldSuppressTTYQueries(args []string, envTest bool) bool {
	if envTest {
		return true
	}
	for _, arg := range args {
		if strings.HasPrefix(arg, "--format") || strings.HasPrefix(arg, "-format") {
			return true
		}
		switch arg {
		case "--dump", "-dump", "--version", "-version", "--help", "-help", "--metrics", "-metrics":
			return true
		}
	}
	return false
}
