package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DownloadBase is where release archives listed in the index are served from.
const DownloadBase = "https://go.dev/dl/"

// Release is one entry of the go.dev release index.
type Release struct {
	Version string        `json:"version"` // e.g. go1.24.4
	Stable  bool          `json:"stable"`
	Files   []ReleaseFile `json:"files"`
}

// ReleaseFile is a downloadable artifact of a Release.
type ReleaseFile struct {
	Filename string `json:"filename"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	SHA256   string `json:"sha256"`
	Kind     string `json:"kind"` // archive, installer or source
}

// Asset is a resolved archive ready to download.
type Asset struct {
	Version string
	URL     string
	SHA256  string
}

// normalizeVersion accepts "1.24.4" and "go1.24.4" alike.
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "go") {
		return v
	}
	return "go" + v
}

// fetchIndex downloads and decodes the release index.
func (i *Installer) fetchIndex(ctx context.Context) ([]Release, error) {
	i.log.Debug("Fetching release index from %s", i.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.index, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET error fetching release index: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			i.log.Warn("Failed to close HTTP response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release index fetch failed: HTTP status %d", resp.StatusCode)
	}

	var releases []Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("failed to decode release index: %w", err)
	}
	i.log.Debug("Release index lists %d releases", len(releases))
	return releases, nil
}

// selectAsset picks the archive for version, goos and goarch out of the
// index. Only kind=archive files are considered.
func selectAsset(releases []Release, version, goos, goarch string) (Asset, error) {
	version = normalizeVersion(version)
	for _, r := range releases {
		if r.Version != version {
			continue
		}
		for _, f := range r.Files {
			if f.Kind == "archive" && f.OS == goos && f.Arch == goarch {
				return Asset{Version: r.Version, URL: DownloadBase + f.Filename, SHA256: f.SHA256}, nil
			}
		}
		return Asset{}, fmt.Errorf("release %s has no archive for %s/%s", version, goos, goarch)
	}
	return Asset{}, fmt.Errorf("release %s not found in index", version)
}
