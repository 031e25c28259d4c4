package updatecheck

import (
	"github.com/golang/glog"
	version "github.com/hashicorp/go-version"
)

// IsNewer reports whether latest is a higher version than current.
// Missing segments count as zero, so "1.2" equals "v1.2.0". If either
// version can not be parsed latest is not newer.
func IsNewer(current, latest string) bool {
	cur, err := version.NewVersion(current)
	if err != nil {
		glog.Warningf("Can not parse current version %q: %v", current, err)
		return false
	}
	next, err := version.NewVersion(latest)
	if err != nil {
		glog.Warningf("Can not parse latest version %q: %v", latest, err)
		return false
	}
	return next.GreaterThan(cur)
}
