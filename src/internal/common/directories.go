package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	// AppDirName is the per-user data directory name under $HOME.
	AppDirName = ".unity-references"
	// ServerDirectory holds the unpacked server release inside the data directory.
	ServerDirectory = "server"
	// ServerBinaryName is the server executable without platform suffix.
	ServerBinaryName = "unity-reference-server"
)

// DefaultDataDir returns ~/.unity-references, falling back to the current
// directory when the home directory cannot be determined.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", AppDirName)
	}
	return filepath.Join(homeDir, AppDirName)
}

// ServerExecutableName returns the server binary name for the running OS.
func ServerExecutableName() string {
	if runtime.GOOS == "windows" {
		return ServerBinaryName + ".exe"
	}
	return ServerBinaryName
}

// ServerInstallDir returns the directory the updater unpacks releases into.
func ServerInstallDir(dataDir string) string {
	return filepath.Join(dataDir, ServerDirectory)
}

// DefaultServerExecutable returns the path of the installed server binary.
func DefaultServerExecutable(dataDir string) string {
	return filepath.Join(ServerInstallDir(dataDir), ServerExecutableName())
}

// ExpandPath expands ~ to the user's home directory in file paths.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path, fmt.Errorf("failed to get user home directory: %w", err)
	}

	if path == "~" {
		return homeDir, nil
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}
