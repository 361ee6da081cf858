// Package version holds the build identity of the opsdesk binary.
package version

import (
	"fmt"
	"runtime"
)

// These are stamped at build time through -ldflags; a plain `go build`
// produces a "dev" binary.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is a point-in-time snapshot of the build identity plus the
// runtime it was compiled with.
type Info struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
	Platform  string
}

func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders the full one-line banner shown by `opsdesk version`.
func (i Info) String() string {
	commit := i.Commit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	return fmt.Sprintf("Opsdesk %s (%s) built %s with %s for %s",
		i.Version, commit, i.Date, i.GoVersion, i.Platform)
}

// Short returns only the version number, for --short and probe output.
func (i Info) Short() string {
	return i.Version
}
