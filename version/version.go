// Package version reports the tonpool build.
//
// Version, GitCommit and BuildTime are set at build time using ldflags:
//
//	go build -ldflags "-X github.com/tonpool/tonpool/version.Version=1.0.0 \
//	    -X github.com/tonpool/tonpool/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Development builds report "dev" and fall back to the VCS revision the Go
// toolchain embeds in the binary.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

// Get returns the build information, preferring ldflags values over the
// embedded VCS settings.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// Full returns the version string including commit and build time if
// available.
func Full() string {
	info := Get()
	v := info.Version
	if info.Commit != "" {
		v += "-" + info.Commit
		if info.Modified {
			v += "+dirty"
		}
	}
	if info.BuildTime != "" {
		v += " (" + info.BuildTime + ")"
	}
	return v
}
