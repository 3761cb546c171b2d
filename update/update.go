// Package update checks GitHub releases for newer boardroom binaries and
// installs them in place.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ErrDevBuild is returned when the running binary carries no release version.
var ErrDevBuild = errors.New("development build, no release version to compare")

// Release is a newer release with the asset for this platform.
type Release struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Asset   string `json:"asset"`
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Updater checks for and applies updates of one binary.
type Updater struct {
	CurrentVersion string
	Binary         string // asset name prefix, e.g. "boardroomd"
	Repo           string // owner/name
	APIBase        string
	GOOS, GOARCH   string
	HTTPClient     *http.Client
}

// New returns an Updater for binary in the GoCodeAlone/boardroom repository.
func New(currentVersion, binary string) *Updater {
	return &Updater{
		CurrentVersion: currentVersion,
		Binary:         binary,
		Repo:           "GoCodeAlone/boardroom",
		APIBase:        "https://api.github.com",
		GOOS:           runtime.GOOS,
		GOARCH:         runtime.GOARCH,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Check returns the latest release when it differs from the running
// version, or nil when up to date.
func (u *Updater) Check(ctx context.Context) (*Release, error) {
	if u.CurrentVersion == "" || u.CurrentVersion == "dev" {
		return nil, ErrDevBuild
	}
	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(u.APIBase, "/"), u.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", u.Binary+"/"+u.CurrentVersion)

	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned %d", resp.StatusCode)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	if strings.TrimPrefix(rel.TagName, "v") == strings.TrimPrefix(u.CurrentVersion, "v") {
		return nil, nil
	}

	asset, ok := u.match(rel.Assets)
	if !ok {
		return nil, fmt.Errorf("release %s has no %s asset for %s/%s", rel.TagName, u.Binary, u.GOOS, u.GOARCH)
	}
	return &Release{Version: rel.TagName, URL: asset.BrowserDownloadURL, Asset: asset.Name}, nil
}

// match finds the asset for this binary, OS and architecture. Release
// archives name amd64 as x86_64.
func (u *Updater) match(assets []githubAsset) (githubAsset, bool) {
	archs := []string{u.GOARCH}
	if u.GOARCH == "amd64" {
		archs = append(archs, "x86_64")
	}
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if !strings.HasPrefix(name, u.Binary) || !strings.Contains(name, u.GOOS) {
			continue
		}
		for _, arch := range archs {
			if strings.Contains(name, arch) {
				return a, true
			}
		}
	}
	return githubAsset{}, false
}

// Apply downloads rel and atomically replaces the file at target. An empty
// target means the running executable.
func (u *Updater) Apply(ctx context.Context, rel *Release, target string) error {
	if target == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		target = exe
	}

	// Same directory as target so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+u.Binary+"-update-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rel.URL, nil)
	if err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("download release: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("download returned %d", resp.StatusCode)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("replace binary: %w", err)
	}
	return nil
}
