// Package build carries version metadata injected at link time.
package build

import "strings"

var (
	// Version is set via -ldflags at release builds.
	Version = "dev"
	AppName = "Flowbench"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
