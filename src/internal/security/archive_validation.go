package security

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateArchiveEntry rejects archive entry names that would be written
// outside the extraction directory.
func ValidateArchiveEntry(name string) error {
	if name == "" {
		return fmt.Errorf("empty archive entry name")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid character in archive entry: %q", name)
	}

	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("absolute path in archive entry: %s", name)
	}
	if len(slashed) >= 2 && slashed[1] == ':' {
		return fmt.Errorf("absolute path in archive entry: %s", name)
	}

	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return fmt.Errorf("path traversal detected in archive entry: %s", name)
		}
	}
	if cleaned := path.Clean(slashed); cleaned == "." || cleaned == ".." {
		return fmt.Errorf("invalid archive entry: %s", name)
	}

	return nil
}

// EntryDestination validates name and returns where it extracts to under
// destDir.
func EntryDestination(destDir, name string) (string, error) {
	if err := ValidateArchiveEntry(name); err != nil {
		return "", err
	}

	cleanDest := filepath.Clean(destDir)
	destPath := filepath.Join(cleanDest, filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if !strings.HasPrefix(destPath, cleanDest+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid file path: %s", name)
	}
	return destPath, nil
}
