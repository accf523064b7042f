package version

import (
	"runtime/debug"
	"testing"
)

func TestApplyBuildInfo(t *testing.T) {
	t.Parallel()

	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	}
	var info Info
	applyBuildInfo(&info, bi)
	if info.Version != "v0.3.1" || info.Commit != "0123456789abcdef0123" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected info: %+v", info)
	}

	pinned := Info{Version: "v1.0.0", Commit: "feedface"}
	applyBuildInfo(&pinned, bi)
	if pinned.Version != "v1.0.0" || pinned.Commit != "feedface" {
		t.Fatalf("ldflags values were overwritten: %+v", pinned)
	}

	devel := Info{}
	applyBuildInfo(&devel, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if devel.Version != "" {
		t.Fatalf("devel version leaked: %q", devel.Version)
	}
}

func TestShortCommit(t *testing.T) {
	t.Parallel()

	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("shortCommit(abc) = %q", got)
	}
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortCommit = %q", got)
	}
}

func TestResolveHasVersion(t *testing.T) {
	t.Parallel()

	info := Resolve()
	if info.Version == "" || info.GoVersion == "" || info.Platform == "" {
		t.Fatalf("incomplete info: %+v", info)
	}
}
