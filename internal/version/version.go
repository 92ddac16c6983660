// Package version reports the switchboard build.
package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/memohai/switchboard/internal/version.Version=...".
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

var fillOnce sync.Once

// Get returns build info, falling back to the VCS stamp embedded by the go tool.
func Get() Info {
	fillOnce.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				CommitHash = s.Value
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = s.Value
				}
			}
		}
	})
	return Info{
		Version:   Version,
		Commit:    CommitHash,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String formats the version with a short commit, e.g. "1.2.0 (a1b2c3d)".
func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return i.Version + " (" + short + ")"
}

// GetInfo is shorthand for Get().String().
func GetInfo() string {
	return Get().String()
}
