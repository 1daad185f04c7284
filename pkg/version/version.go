// Package version reports the lazytree build version.
package version

import "runtime/debug"

// Version is the current application version. Release builds set it with:
//
//	go build -ldflags "-X github.com/vanderheijden86/lazytree/pkg/version.Version=v0.2.0" ./cmd/lazytree
//
// Builds installed with `go install module@version` fall back to the module
// version recorded in the binary.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
}
