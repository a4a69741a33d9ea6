// Package version reports the lumenctl build identity.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/lumen/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/lumen/internal/version.Commit=abc1234"
var (
	Version = ""
	Commit  = ""
)

var resolveOnce sync.Once

// Info is the resolved build identity.
type Info struct {
	Version string
	Commit  string
	Dirty   bool
}

// Get resolves the build identity, falling back to VCS data embedded by the
// Go toolchain when ldflags were not supplied.
func Get() Info {
	resolveOnce.Do(resolve)
	return Info{Version: Version, Commit: Commit, Dirty: dirty}
}

var dirty bool

func resolve() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if Commit == "" {
					Commit = s.Value
					if len(Commit) > 7 {
						Commit = Commit[:7]
					}
				}
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
		if Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			Version = bi.Main.Version
		}
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// String renders "v0.3.0 (commit: abc1234)", with a -dirty suffix for
// modified trees.
func (i Info) String() string {
	commit := i.Commit
	if i.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (commit: %s)", i.Version, commit)
}
