// Package version exposes the binary's version string.
package version

import (
	"runtime/debug"
	"strings"
)

// Version is populated at build time via
// -X github.com/borgsave/borgsave/internal/version.Version=v1.2.3
var Version = "0.1.0-dev"

// String returns the effective version: the ldflags-injected value when
// present, otherwise the main module version from build info, with any
// leading "v" stripped.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}
	if v == "" {
		v = "0.1.0-dev"
	}
	return strings.TrimPrefix(v, "v")
}
