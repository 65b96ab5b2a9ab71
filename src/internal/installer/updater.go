package installer

import (
	"context"
	"errors"
	"fmt"

	"unity-references/src/internal/common"
	"unity-references/src/internal/semver"
	"unity-references/src/internal/state"
)

// VersionStore persists the installed server tag.
type VersionStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Locator finds the newest compatible release.
type Locator interface {
	Latest(ctx context.Context) (*Release, error)
}

// ReleaseInstaller installs a release into a directory.
type ReleaseInstaller interface {
	Install(ctx context.Context, release *Release, installDir string) error
}

// UpdateAction describes what EnsureLatest did.
type UpdateAction string

const (
	ActionNoRelease UpdateAction = "no-release"
	ActionUpToDate  UpdateAction = "up-to-date"
	ActionInstalled UpdateAction = "installed"
)

// UpdateResult reports the outcome of EnsureLatest.
type UpdateResult struct {
	Action    UpdateAction
	Installed string // previously persisted tag, may be empty
	Latest    string // located tag, empty when no release was found
}

// Updater keeps the default server installation current.
type Updater struct {
	store      VersionStore
	locator    Locator
	installer  ReleaseInstaller
	installDir string
}

// NewUpdater wires the update pipeline.
func NewUpdater(store VersionStore, locator Locator, installer ReleaseInstaller, installDir string) *Updater {
	return &Updater{
		store:      store,
		locator:    locator,
		installer:  installer,
		installDir: installDir,
	}
}

// NeedsInstall reports whether latest should replace installed. A missing or
// unparseable installed tag is older than anything.
func NeedsInstall(installed string, latest semver.Version) bool {
	current, ok := semver.Parse(installed)
	if !ok {
		return true
	}
	return semver.IsNewer(latest, current)
}

// EnsureLatest installs the newest compatible release when it is newer than
// the persisted one, or unconditionally when force is set. A missing release
// is not an error. The persisted tag only changes after a successful install.
func (u *Updater) EnsureLatest(ctx context.Context, force bool) (UpdateResult, error) {
	var result UpdateResult

	release, err := u.locator.Latest(ctx)
	if err != nil {
		if errors.Is(err, ErrNoRelease) {
			common.UpdateLogger.Warn("Could not find a server release: %v", err)
			result.Action = ActionNoRelease
			return result, nil
		}
		return result, err
	}
	result.Latest = release.Tag

	installed, err := u.store.Get(state.KeyServerTag)
	if err != nil && !errors.Is(err, state.ErrNoValue) {
		return result, fmt.Errorf("failed to read installed version: %w", err)
	}
	result.Installed = installed

	if !force && !NeedsInstall(installed, release.Version) {
		common.UpdateLogger.Debug("Server %s is up to date (latest %s)", installed, release.Tag)
		result.Action = ActionUpToDate
		return result, nil
	}

	common.UpdateLogger.Info("Installing server %s (installed: %q, force: %t)", release.Tag, installed, force)
	if err := u.installer.Install(ctx, release, u.installDir); err != nil {
		return result, fmt.Errorf("failed to install server %s: %w", release.Tag, err)
	}

	if err := u.store.Set(state.KeyServerTag, release.Tag); err != nil {
		return result, fmt.Errorf("failed to record installed version: %w", err)
	}

	result.Action = ActionInstalled
	common.UpdateLogger.Info("Installed server %s", release.Tag)
	return result, nil
}
