package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestString_UsesProvidedValues(t *testing.T) {
	got := String("v1.2.3", "abc", "2020-01-01T00:00:00Z")
	want := "v1.2.3 (abc) 2020-01-01T00:00:00Z"
	if got != want {
		t.Fatalf("unexpected version string: got %q, want %q", got, want)
	}
}

func TestResolve_FallsBackToBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "deadbeef"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	}
	got := resolve("dev", "unknown", "unknown", info)
	if got.Version != "v0.4.0" || got.Commit != "deadbeef" || got.Date != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected info: %+v", got)
	}
	if got.GoVersion == "" {
		t.Fatalf("expected go version")
	}
}

func TestResolve_DevelModuleStaysDev(t *testing.T) {
	info := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}
	got := resolve("", "", "", info)
	if got.String() != "dev" {
		t.Fatalf("got %q, want %q", got.String(), "dev")
	}
}

func TestString_OmitsUnknownVCSFields(t *testing.T) {
	got := resolve("v1.2.3", "unknown", "unknown", nil).String()
	if got != "v1.2.3" {
		t.Fatalf("unexpected version string: got %q", got)
	}
	if strings.Contains(String("", "unknown", "unknown"), "unknown") {
		t.Fatalf("expected VCS placeholders to be omitted")
	}
}
