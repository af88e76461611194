package cruiser

import "golang.org/x/mod/semver"

// Version is this module's release tag. Validated against
// golang.org/x/mod/semver at package init, the same library the
// teacher's cmd/racedetector/runtime package uses to parse go.mod
// (modfile rather than semver there; semver here, since this module
// validates its own tag rather than a consumer's module file).
const Version = "v0.1.0"

func init() {
	if !semver.IsValid(Version) {
		panic("cruiser: build tag " + Version + " is not valid semver")
	}
}

// VersionString returns the canonical form of Version.
func VersionString() string { return semver.Canonical(Version) }
