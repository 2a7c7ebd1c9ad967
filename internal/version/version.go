// Package version provides the current server version and semver helpers
// used by the store migrator to order schema versions.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the service version, kept in major.minor.patch form so the
// migrator can compare it against the schema version stored in the database.
var Version = "0.1.2"

// DevVersion is the version used in dev and demo modes.
var DevVersion = Version

// GetCurrentVersion returns the effective version for the given mode.
func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

// GetMinorVersion returns the "major.minor" prefix of a version string.
func GetMinorVersion(version string) string {
	versionList := strings.Split(version, ".")
	if len(versionList) < 2 {
		return "0.0"
	}
	return versionList[0] + "." + versionList[1]
}

// IsVersionGreaterOrEqualThan reports whether version >= target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(fmt.Sprintf("v%s", version), fmt.Sprintf("v%s", target)) >= 0
}

// IsVersionGreaterThan reports whether version > target.
func IsVersionGreaterThan(version, target string) bool {
	return semver.Compare(fmt.Sprintf("v%s", version), fmt.Sprintf("v%s", target)) > 0
}
