package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"unity-references/src/internal/common"
)

const zipSuffix = ".zip"

// scratchDirName is the per-user temp folder downloads land in.
const scratchDirName = "unity-references"

// Installer downloads a release archive and unpacks it over an install
// directory.
type Installer struct {
	downloader *FileDownloader
	scratchDir string
	progress   func(downloaded, total int64)
}

// InstallerOption customizes an Installer.
type InstallerOption func(*Installer)

// WithScratchDir overrides where archives are downloaded before unpacking.
func WithScratchDir(dir string) InstallerOption {
	return func(i *Installer) { i.scratchDir = dir }
}

// WithProgress reports download progress.
func WithProgress(fn func(downloaded, total int64)) InstallerOption {
	return func(i *Installer) { i.progress = fn }
}

// NewInstaller creates an installer that downloads through downloader.
func NewInstaller(downloader *FileDownloader, opts ...InstallerOption) *Installer {
	if downloader == nil {
		downloader = NewFileDownloader(nil)
	}
	i := &Installer{
		downloader: downloader,
		scratchDir: filepath.Join(os.TempDir(), scratchDirName),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install replaces the contents of installDir with the release archive.
// Nothing under installDir changes until the archive has been downloaded and,
// when a sidecar exists, verified.
func (i *Installer) Install(ctx context.Context, release *Release, installDir string) error {
	if release == nil {
		return errors.New("install: release is nil")
	}
	if !strings.HasSuffix(release.AssetName, zipSuffix) {
		return fmt.Errorf("%w: %s", ErrUnknownFormat, release.AssetName)
	}

	var expected string
	if release.ChecksumURL != "" {
		sum, err := i.downloader.FetchChecksum(ctx, release.ChecksumURL)
		if err != nil {
			return fmt.Errorf("failed to fetch checksum for %s: %w", release.AssetName, err)
		}
		expected = sum
	}

	scratch, err := i.reserveScratch(release.AssetName)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(scratch) }()
	common.UpdateLogger.Info("Downloading %s", release.AssetURL)

	result, err := i.downloader.Download(ctx, DownloadOptions{
		URL:              release.AssetURL,
		OutputPath:       scratch,
		ExpectedChecksum: expected,
		ProgressCallback: i.progress,
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", release.AssetName, err)
	}

	common.UpdateLogger.Debug("Downloaded %d bytes in %s (verified=%t)", result.FileSize, result.Duration, result.Verified)

	if err := os.RemoveAll(installDir); err != nil {
		return fmt.Errorf("failed to clear install directory: %w", err)
	}
	if err := os.MkdirAll(installDir, 0755); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}

	common.UpdateLogger.Info("Extracting %s into %s", release.AssetName, installDir)
	if err := ExtractZip(scratch, installDir); err != nil {
		return fmt.Errorf("failed to extract %s: %w", release.AssetName, err)
	}

	return nil
}

// reserveScratch creates an empty scratch file unique to this install so
// concurrent updates never share a download.
func (i *Installer) reserveScratch(assetName string) (string, error) {
	if err := os.MkdirAll(i.scratchDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	f, err := os.CreateTemp(i.scratchDir, "*-"+filepath.Base(assetName))
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	return name, nil
}
