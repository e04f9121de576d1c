// Package version derives the running build's identity. Resolution order:
// -ldflags override, then VCS revision from debug.BuildInfo, then "dev"
// (go test, tarball builds).
package version

import "runtime/debug"

// AppName appears in version strings and the observer handshake reply.
const AppName = "taskpilot"

// commitOverride can be injected with -ldflags for container builds where
// .git is stripped before compilation.
var commitOverride string

// GitCommit is the short (8 char) commit hash, or "dev".
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "taskpilot/<commit>" for logs and handshake replies.
func Full() string {
	return AppName + "/" + GitCommit
}
