package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"unity-references/src/config"
	"unity-references/src/internal/common"
	"unity-references/src/internal/project"
)

// LoadConfigForCLI loads configuration and applies its log level to host
// logging.
func LoadConfigForCLI(configPath string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}

	if level, ok := common.ParseLogLevel(cfg.LogLevel); ok {
		common.SetLevel(level)
	}
	return cfg, nil
}

// FindWorkspaceRoot walks up from path to the nearest Unity project root.
func FindWorkspaceRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	dir := abs
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	for {
		if project.HasUnityProject(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s is not inside a Unity project", path)
		}
		dir = parent
	}
}

// ProgressLogger returns a download progress callback that logs at most once
// per interval.
func ProgressLogger(logger *common.SafeLogger, interval time.Duration) func(downloaded, total int64) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(downloaded, total int64) {
		mu.Lock()
		defer mu.Unlock()

		done := total > 0 && downloaded >= total
		if !done && time.Since(last) < interval {
			return
		}
		last = time.Now()

		if total > 0 {
			logger.Info("Downloaded %s of %s (%.0f%%)", FormatBytes(downloaded), FormatBytes(total),
				float64(downloaded)*100/float64(total))
		} else {
			logger.Info("Downloaded %s", FormatBytes(downloaded))
		}
	}
}

// FormatBytes formats a byte count for display.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
