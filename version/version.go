package version

import (
	"runtime/debug"
	"strings"
)

var (
	// These variables are set at build time using -ldflags
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// DefaultRelease is reported on lifecycle events when the binary carries
// no stamped version and the configuration names none.
const DefaultRelease = "1.0.0"

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	IsDirty   bool   `json:"is_dirty"`
}

// Get returns the stamped build variables, completed from the Go build info
// (VCS revision, time and modified flag) where the stamp is empty.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = buildInfo.GoVersion
		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = setting.Value
				}
			case "vcs.modified":
				info.IsDirty = setting.Value == "true"
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = setting.Value
				}
			}
		}
	}
	if len(info.GitCommit) > 7 {
		info.GitCommit = info.GitCommit[:7]
	}
	return info
}

// Release returns the version string published on service events. A stamped
// build version wins; otherwise configured is used, then DefaultRelease.
func Release(configured string) string {
	if v := strings.TrimSpace(Version); v != "" && v != "dev" {
		return v
	}
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	return DefaultRelease
}

// Fields renders the build info for structured log records.
func (i Info) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"version":    i.Version,
		"go_version": i.GoVersion,
	}
	if i.GitCommit != "" {
		commit := i.GitCommit
		if i.IsDirty {
			commit += "-dirty"
		}
		fields["commit"] = commit
	}
	if i.BuildTime != "" {
		fields["build_time"] = i.BuildTime
	}
	return fields
}
