package version

// version is set at build time with
// -ldflags "-X github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/version.version=..."
var version = "dev"

// Get returns the build version.
func Get() string {
	return version
}
