package config

// Linker-injected build metadata, e.g.:
//
//	go build -ldflags "-X github.com/Smalik1203/ktscb-sub006/internal/config.version=1.2.3 \
//	    -X github.com/Smalik1203/ktscb-sub006/internal/config.commit=$(git rev-parse --short HEAD)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
