package installer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoRelease means no usable release could be located right now. It is a
	// soft condition: the caller keeps whatever is installed.
	ErrNoRelease = errors.New("no compatible server release found")

	// ErrUnknownFormat is returned for assets that are not zip archives.
	ErrUnknownFormat = errors.New("unknown archive format")

	// ErrChecksumMismatch is returned when a downloaded archive does not match
	// its .sha256 sidecar.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// AmbiguousAssetError reports a release that carries more than one archive for
// the same platform. This is a feed authoring bug and is never resolved by
// picking one.
type AmbiguousAssetError struct {
	Tag    string
	Assets []string
}

func (e *AmbiguousAssetError) Error() string {
	return fmt.Sprintf("release %s has %d assets for this platform: %s",
		e.Tag, len(e.Assets), strings.Join(e.Assets, ", "))
}

// DownloadError carries a non-success HTTP response.
type DownloadError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download not OK: %d, %s", e.StatusCode, e.Body)
}
