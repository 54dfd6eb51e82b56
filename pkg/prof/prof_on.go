//go:build profile

package prof

import (
	"github.com/pkg/profile"
)

const ProfileEnabled = true

func StartProfile(path string) interface {
	Stop()
} {
	return profile.Start(profile.CPUProfile, profile.ProfilePath(path),
		profile.NoShutdownHook, profile.Quiet)
}
