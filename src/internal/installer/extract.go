package installer

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"unity-references/src/internal/security"
)

// ExtractZip unpacks archivePath into destDir. Directory entries are skipped;
// parents are created on demand. Each entry is read fully before its output
// file is created so a corrupt entry never leaves a truncated file behind.
func ExtractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = reader.Close() }()

	for _, entry := range reader.File {
		if strings.HasSuffix(entry.Name, "/") {
			continue
		}

		destPath, err := security.EntryDestination(destDir, entry.Name)
		if err != nil {
			return err
		}

		data, err := readEntry(entry)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create parent directory for %s: %w", destPath, err)
		}

		mode := entry.Mode().Perm()
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(destPath, data, mode); err != nil {
			return fmt.Errorf("failed to write file %s: %w", destPath, err)
		}
	}

	return nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", entry.Name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", entry.Name, err)
	}
	return data, nil
}
