// Package appversion reports the croft build version.
package appversion

import "runtime/debug"

// version is set at build time via
// -ldflags "-X croft/internal/appversion.version=v1.2.3".
var version = "" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the ldflags version, else the module version recorded by
// go install, else "dev".
func String() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
