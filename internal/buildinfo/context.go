// Package buildinfo holds build-time metadata that is not part of the user
// configuration.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// UnknownValue is reported for metadata the build did not provide.
const UnknownValue = "unknown"

// Context contains build-time metadata injected at startup.
type Context struct {
	version   string
	buildDate string
}

// NewContext creates a Context. Empty values fall back to the module
// version recorded by the Go toolchain, or UnknownValue.
func NewContext(version, buildDate string) *Context {
	if version == "" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the build version string.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date string.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// String formats the version line printed by --version.
func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.Version(), c.BuildDate())
}
