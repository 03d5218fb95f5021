// Package version identifies the build in CLI output, run manifests and
// recording headers.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/banshee-data/cardio.report/internal/version.Version=...".
var (
	Version   = "dev"
	GitSHA    = ""
	BuildTime = ""
)

// String formats the build identity. Commit and time fall back to the VCS
// stamp the go tool embeds, then to "unknown".
func String() string {
	sha, at := GitSHA, BuildTime
	if sha == "" || at == "" {
		vcsSHA, vcsTime := vcsStamp()
		if sha == "" {
			sha = vcsSHA
		}
		if at == "" {
			at = vcsTime
		}
	}
	return fmt.Sprintf("cardio.report %s (%s, built %s)", Version, orUnknown(sha), orUnknown(at))
}

func vcsStamp() (sha, at string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			sha = s.Value
			if len(sha) > 12 {
				sha = sha[:12]
			}
		case "vcs.time":
			at = s.Value
		}
	}
	return sha, at
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
