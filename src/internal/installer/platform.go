package installer

import (
	"runtime"
)

// PlatformInfo describes the OS/architecture pair releases are matched against.
type PlatformInfo interface {
	GetPlatform() string
	GetArch() string
}

// RuntimePlatform reports the platform the binary is running on.
type RuntimePlatform struct{}

// NewRuntimePlatform creates a new platform info instance
func NewRuntimePlatform() *RuntimePlatform {
	return &RuntimePlatform{}
}

// GetPlatform returns current platform (linux, darwin, windows)
func (p *RuntimePlatform) GetPlatform() string {
	return runtime.GOOS
}

// GetArch returns current architecture (amd64, arm64)
func (p *RuntimePlatform) GetArch() string {
	return runtime.GOARCH
}

// StaticPlatform is a fixed platform, used to pin asset selection.
type StaticPlatform struct {
	OS   string
	Arch string
}

func (p StaticPlatform) GetPlatform() string { return p.OS }
func (p StaticPlatform) GetArch() string     { return p.Arch }

// OSToken returns the token release assets use for a GOOS value.
func OSToken(goos string) (string, bool) {
	switch goos {
	case "darwin":
		return "apple-darwin", true
	case "linux", "android":
		return "linux-gnu", true
	case "windows":
		return "pc-windows", true
	default:
		return "", false
	}
}

// ArchToken returns the token release assets use for a GOARCH value.
func ArchToken(goarch string) (string, bool) {
	switch goarch {
	case "arm64":
		return "aarch64", true
	case "amd64":
		return "x86_64", true
	default:
		return "", false
	}
}
