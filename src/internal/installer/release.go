package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"unity-references/src/internal/common"
	"unity-references/src/internal/constants"
	"unity-references/src/internal/semver"
	"unity-references/src/internal/version"
)

const (
	// DefaultFeedURL lists the reference server releases.
	DefaultFeedURL = "https://api.github.com/repos/cloone8/unity-reference-server/releases"

	checksumSuffix = ".sha256"
)

// Release is a located, platform- and protocol-compatible server release.
type Release struct {
	Tag         string
	Version     semver.Version
	AssetName   string
	AssetURL    string
	ChecksumURL string // empty when the release carries no sidecar
}

type feedRelease struct {
	TagName string      `json:"tag_name"`
	Assets  []feedAsset `json:"assets"`
}

type feedAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// LocatorOptions configures a ReleaseLocator. Zero values pick defaults.
type LocatorOptions struct {
	Client       *http.Client
	FeedURL      string
	Platform     PlatformInfo
	MajorVersion *int
}

// ReleaseLocator finds the newest release usable on this platform.
type ReleaseLocator struct {
	client   *http.Client
	feedURL  string
	platform PlatformInfo
	major    int
}

// NewReleaseLocator creates a locator for the release feed.
func NewReleaseLocator(opts LocatorOptions) *ReleaseLocator {
	l := &ReleaseLocator{
		client:   opts.Client,
		feedURL:  opts.FeedURL,
		platform: opts.Platform,
		major:    version.ServerMajorVersion,
	}
	if l.client == nil {
		l.client = &http.Client{Timeout: constants.FeedRequestTimeout}
	}
	if l.feedURL == "" {
		l.feedURL = DefaultFeedURL
	}
	if l.platform == nil {
		l.platform = NewRuntimePlatform()
	}
	if opts.MajorVersion != nil {
		l.major = *opts.MajorVersion
	}
	return l
}

// Latest queries the feed. Every "nothing usable" outcome wraps ErrNoRelease;
// an *AmbiguousAssetError is returned as-is.
func (l *ReleaseLocator) Latest(ctx context.Context) (*Release, error) {
	osToken, ok := OSToken(l.platform.GetPlatform())
	if !ok {
		return nil, fmt.Errorf("%w: platform %s has no server target", ErrNoRelease, l.platform.GetPlatform())
	}
	archToken, ok := ArchToken(l.platform.GetArch())
	if !ok {
		return nil, fmt.Errorf("%w: architecture %s has no server target", ErrNoRelease, l.platform.GetArch())
	}

	releases, err := l.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRelease, err)
	}

	return selectLatest(releases, osToken, archToken, l.major)
}

func (l *ReleaseLocator) fetch(ctx context.Context) ([]feedRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "unity-references/"+version.GetVersion())

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query release feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release feed returned HTTP %d", resp.StatusCode)
	}

	var releases []feedRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("failed to decode release feed: %w", err)
	}
	return releases, nil
}

// selectLatest picks the newest release whose tag parses, whose major version
// equals major and which has exactly one non-checksum asset for the platform.
func selectLatest(releases []feedRelease, osToken, archToken string, major int) (*Release, error) {
	var best *Release

	for _, rel := range releases {
		asset, checksum, err := findPlatformAsset(rel, osToken, archToken)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			continue
		}

		v, ok := semver.Parse(rel.TagName)
		if !ok || v.Major != major {
			continue
		}

		if best != nil && !semver.IsNewer(v, best.Version) {
			continue
		}

		best = &Release{
			Tag:       rel.TagName,
			Version:   v,
			AssetName: asset.Name,
			AssetURL:  asset.BrowserDownloadURL,
		}
		if checksum != nil {
			best.ChecksumURL = checksum.BrowserDownloadURL
		}
	}

	if best == nil {
		common.UpdateLogger.Error("No compatible releases found for %s/%s (major %d)", osToken, archToken, major)
		return nil, ErrNoRelease
	}

	common.UpdateLogger.Debug("Latest compatible release is %s (%s)", best.Tag, best.AssetName)
	return best, nil
}

func findPlatformAsset(rel feedRelease, osToken, archToken string) (*feedAsset, *feedAsset, error) {
	var matching []feedAsset
	for _, asset := range rel.Assets {
		if strings.HasSuffix(asset.Name, checksumSuffix) {
			continue
		}
		if strings.Contains(asset.Name, osToken) && strings.Contains(asset.Name, archToken) {
			matching = append(matching, asset)
		}
	}

	switch len(matching) {
	case 0:
		return nil, nil, nil
	case 1:
	default:
		names := make([]string, 0, len(matching))
		for _, a := range matching {
			names = append(names, a.Name)
		}
		return nil, nil, &AmbiguousAssetError{Tag: rel.TagName, Assets: names}
	}

	asset := matching[0]
	for _, candidate := range rel.Assets {
		if candidate.Name == asset.Name+checksumSuffix {
			return &asset, &candidate, nil
		}
	}
	return &asset, nil, nil
}
