// Package utils holds the build stamp and the small string helpers shared by
// the relay and its CLI.
package utils

// Stamped with -ldflags -X by the release build.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// UserAgent identifies this relay build on upstream requests.
func UserAgent() string {
	return "wsrelay/" + Version
}
