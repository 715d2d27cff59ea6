package version

// Version is set via build-time ldflags:
// go build -ldflags "-X git.home.luguber.info/inful/wasmforge/internal/version.Version=v1.0.0".
var Version = "unknown"

// Build metadata, also ldflags-injected.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)
