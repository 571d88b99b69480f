// Package version reports alphad's build identity: the module version plus,
// when available, VCS commit/date metadata embedded by the Go toolchain.
//
// Grounded on the teacher's cmd/mive/config.go call sites (version.VCS(),
// params.VersionWithCommit(git.Commit, git.Date)); no literal source for this
// package itself was present in the retrieval pack, so its shape follows the
// well-known go-ethereum internal/version API instead.
package version

import "runtime/debug"

// VCSInfo carries the VCS commit hash and commit date, when the binary was
// built with module/VCS stamping (Go 1.18+, `go build` from a git checkout).
type VCSInfo struct {
	Commit string
	Date   string
	Dirty  bool
}

// VCS reads VCS stamping from the running binary's build info. ok is false
// when the binary wasn't built from a VCS checkout (e.g. `go build` from a
// module cache without a .git directory), matching the teacher's `git, _ :=
// version.VCS()` call site which tolerates a zero-value result.
func VCS() (VCSInfo, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return VCSInfo{}, false
	}
	var v VCSInfo
	var haveRevision bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Commit = s.Value
			haveRevision = true
		case "vcs.time":
			v.Date = s.Value
		case "vcs.modified":
			v.Dirty = s.Value == "true"
		}
	}
	return v, haveRevision
}

// VersionWithCommit composes a human-readable version string from the
// module version plus a shortened commit hash and date, e.g.
// "0.1.0-aabbccdd-20260101".
func VersionWithCommit(commit, date string) string {
	vsn := Version
	if len(commit) >= 8 {
		vsn += "-" + commit[:8]
	}
	if (Version == "" || isUnstable) && date != "" {
		vsn += "-" + date
	}
	return vsn
}

// Version is alphad's semantic version; isUnstable marks pre-release builds
// so VersionWithCommit appends a build date even without overriding Version
// itself, matching go-ethereum's params.VersionMeta convention.
var (
	Version    = "0.1.0"
	isUnstable = true
)
