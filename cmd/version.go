package cmd

import (
	"fmt"
	"runtime/debug"
)

// Version is set at build time via -ldflags. Falls back to module build info
// for `go install` builds.
var Version = "dev"

// runVersion prints version information.
func runVersion() {
	v := Version
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
	}
	fmt.Printf("modsift %s\n", v)
}
