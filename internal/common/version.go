package common

// Version is the release identifier reported by the binary. Stamped at build
// time via:
//
//	go build -ldflags "-X github.com/ternarybob/conductor/internal/common.Version=<tag>"
var Version = "dev"

// GetVersion returns the current version string
func GetVersion() string {
	return Version
}
