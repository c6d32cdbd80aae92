// Package version carries build metadata set with
// -ldflags "-X github.com/veesix-networks/dhcpmon/pkg/version.Version=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("%s (%s) built on %s with %s %s/%s",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
