// Package version resolves the build identity printed by lantun.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Info is the resolved build identity.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"go_version"`
}

// Resolve prefers values injected via -ldflags and falls back to module build info
// when they are unset or placeholders.
func Resolve(version, commit, date string) Info {
	return resolve(version, commit, date, readBuildInfo())
}

func readBuildInfo() *debug.BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info
}

func resolve(version, commit, date string, info *debug.BuildInfo) Info {
	out := Info{
		Version:   clean(version, "dev", "(devel)"),
		Commit:    clean(commit, "unknown"),
		Date:      clean(date, "unknown"),
		GoVersion: runtime.Version(),
	}
	if info != nil {
		if out.Version == "" {
			out.Version = clean(info.Main.Version, "(devel)")
		}
		if out.Commit == "" {
			out.Commit = buildSetting(info, "vcs.revision")
		}
		if out.Date == "" {
			out.Date = buildSetting(info, "vcs.time")
		}
	}
	if out.Version == "" {
		out.Version = "dev"
	}
	return out
}

// String renders "version (commit) date", omitting unknown fields.
func (i Info) String() string {
	out := i.Version
	if i.Commit != "" {
		out += " (" + i.Commit + ")"
	}
	if i.Date != "" {
		out += " " + i.Date
	}
	return out
}

// String is shorthand for Resolve(version, commit, date).String().
func String(version, commit, date string) string {
	return Resolve(version, commit, date).String()
}

// clean trims s and maps any placeholder to "".
func clean(s string, placeholders ...string) string {
	s = strings.TrimSpace(s)
	for _, p := range placeholders {
		if s == p {
			return ""
		}
	}
	return s
}

func buildSetting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
