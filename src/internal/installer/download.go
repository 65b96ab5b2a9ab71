package installer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"unity-references/src/internal/constants"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 4096

// DownloadOptions contains options for file downloads
type DownloadOptions struct {
	URL              string
	OutputPath       string
	ExpectedChecksum string
	ProgressCallback func(downloaded, total int64)
}

// DownloadResult contains the result of a download operation
type DownloadResult struct {
	FilePath       string
	ActualChecksum string
	FileSize       int64
	Duration       time.Duration
	Verified       bool
}

// FileDownloader fetches release assets over HTTP.
type FileDownloader struct {
	client *http.Client
}

// NewFileDownloader creates a new file downloader. A nil client gets a default
// one with a generous overall timeout.
func NewFileDownloader(client *http.Client) *FileDownloader {
	if client == nil {
		client = &http.Client{
			Timeout: constants.DownloadTimeout,
			Transport: &http.Transport{
				ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
				ExpectContinueTimeout: constants.ExpectContinueTimeout,
			},
		}
	}
	return &FileDownloader{client: client}
}

// Download writes the body at options.URL to options.OutputPath. Non-success
// responses yield a *DownloadError carrying the status and body text. A
// partially written file is removed on failure.
func (d *FileDownloader) Download(ctx context.Context, options DownloadOptions) (*DownloadResult, error) {
	start := time.Now()

	result, err := d.download(ctx, options)
	if err != nil {
		_ = os.Remove(options.OutputPath)
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (d *FileDownloader) download(ctx context.Context, options DownloadOptions) (*DownloadResult, error) {
	resp, err := d.get(ctx, options.URL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(options.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	outFile, err := os.Create(options.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = outFile.Close() }()

	var body io.Reader = resp.Body
	if options.ProgressCallback != nil {
		body = &progressReader{
			reader:   resp.Body,
			total:    resp.ContentLength,
			callback: options.ProgressCallback,
		}
	}

	// Hash while writing so the archive is read only once.
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(outFile, hasher), body)
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	result := &DownloadResult{
		FilePath:       options.OutputPath,
		ActualChecksum: fmt.Sprintf("%x", hasher.Sum(nil)),
		FileSize:       written,
	}

	if options.ExpectedChecksum != "" {
		if !strings.EqualFold(result.ActualChecksum, options.ExpectedChecksum) {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, options.ExpectedChecksum, result.ActualChecksum)
		}
		result.Verified = true
	}

	return result, nil
}

// FetchChecksum downloads a .sha256 sidecar and returns the hex digest it
// names. Both bare digests and "digest  filename" lines are accepted.
func (d *FileDownloader) FetchChecksum(ctx context.Context, url string) (string, error) {
	resp, err := d.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", fmt.Errorf("failed to read checksum: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", fmt.Errorf("malformed checksum file at %s", url)
	}
	return strings.ToLower(fields[0]), nil
}

func (d *FileDownloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &DownloadError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// progressReader wraps a reader to provide progress callbacks
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	callback   func(downloaded, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.downloaded += int64(n)
	pr.callback(pr.downloaded, pr.total)
	return n, err
}
