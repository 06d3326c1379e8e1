package version

import (
	"runtime"
	"runtime/debug"
	"testing"
)

func withBuild(t *testing.T, version, commit, built string, settings []debug.BuildSetting) {
	t.Helper()
	origVersion, origCommit, origBuildTime, origRead := Version, GitCommit, BuildTime, readBuildInfo
	t.Cleanup(func() {
		Version, GitCommit, BuildTime, readBuildInfo = origVersion, origCommit, origBuildTime, origRead
	})

	Version, GitCommit, BuildTime = version, commit, built
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		if settings == nil {
			return nil, false
		}
		return &debug.BuildInfo{Settings: settings}, true
	}
}

func TestFull(t *testing.T) {
	vcs := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
		{Key: "vcs.modified", Value: "false"},
	}
	dirty := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.modified", Value: "true"},
	}

	tests := []struct {
		name     string
		version  string
		commit   string
		built    string
		settings []debug.BuildSetting
		want     string
	}{
		{"version only", "1.0.0", "", "", nil, "1.0.0"},
		{"with commit", "1.0.0", "abc1234", "", nil, "1.0.0-abc1234"},
		{"with build time", "1.0.0", "", "2026-01-29T12:00:00Z", nil, "1.0.0 (2026-01-29T12:00:00Z)"},
		{"complete", "1.0.0", "abc1234", "2026-01-29T12:00:00Z", nil, "1.0.0-abc1234 (2026-01-29T12:00:00Z)"},
		{"vcs fallback", "dev", "", "", vcs, "dev-0123456 (2026-10-01T08:00:00Z)"},
		{"ldflags win", "1.2.0", "fedcba9", "", vcs, "1.2.0-fedcba9 (2026-10-01T08:00:00Z)"},
		{"dirty tree", "dev", "", "", dirty, "dev-0123456+dirty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuild(t, tt.version, tt.commit, tt.built, tt.settings)
			if got := Full(); got != tt.want {
				t.Errorf("Full() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGet(t *testing.T) {
	withBuild(t, "1.0.0", "", "", nil)

	info := Get()
	if info.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", info.Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.Commit != "" || info.Modified {
		t.Errorf("unexpected vcs data without build info: %+v", info)
	}
}
