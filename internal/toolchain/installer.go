// Package toolchain resolves the Go toolchain used to scaffold and run the
// generated application: an explicit archive URL, a version looked up in the
// release index, or the go binary already on PATH.
package toolchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"devdb-setup/internal/config"
	"devdb-setup/internal/logger"
)

// Toolchain describes the go binary a run will use.
type Toolchain struct {
	GoBinary   string // absolute path, or "go" when taken from PATH
	Root       string // extracted toolchain root, empty for PATH
	Version    string
	Downloaded bool
}

// Installer fetches and unpacks toolchain archives under a fixed directory.
type Installer struct {
	dir    string
	index  string
	goos   string
	goarch string
	client *http.Client
	log    *logger.Logger
}

// NewInstaller returns an Installer for the host platform.
func NewInstaller(s config.ToolchainSettings, log *logger.Logger) *Installer {
	return &Installer{
		dir:    s.Dir,
		index:  s.ReleaseIndex,
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
		client: &http.Client{Timeout: 10 * time.Minute},
		log:    log,
	}
}

// Resolve returns the toolchain for the given optional version and URL.
// A URL wins over a version; with neither, the go binary on PATH is used.
func (i *Installer) Resolve(ctx context.Context, version, url string) (Toolchain, error) {
	switch {
	case url != "":
		return i.install(ctx, Asset{Version: normalizeVersion(version), URL: url})
	case version != "":
		releases, err := i.fetchIndex(ctx)
		if err != nil {
			return Toolchain{}, err
		}
		asset, err := selectAsset(releases, version, i.goos, i.goarch)
		if err != nil {
			return Toolchain{}, err
		}
		return i.install(ctx, asset)
	default:
		i.log.Info("No toolchain version or URL given, using go from PATH")
		return Toolchain{GoBinary: "go"}, nil
	}
}

// install downloads and extracts asset unless an extracted copy already
// exists.
func (i *Installer) install(ctx context.Context, asset Asset) (Toolchain, error) {
	archiveName := path.Base(asset.URL)
	root := filepath.Join(i.dir, archiveStem(archiveName))

	if bin, err := findGoBinary(root); err == nil {
		i.log.Info("Toolchain already present at %s", root)
		return Toolchain{GoBinary: bin, Root: root, Version: asset.Version}, nil
	}

	downloads := filepath.Join(i.dir, "downloads")
	if err := os.MkdirAll(downloads, 0755); err != nil {
		return Toolchain{}, fmt.Errorf("failed to create %s: %w", downloads, err)
	}
	archive := filepath.Join(downloads, archiveName)

	i.log.Info("Downloading toolchain %s to %s", asset.URL, archive)
	if err := i.downloadFile(ctx, asset.URL, archive); err != nil {
		return Toolchain{}, err
	}
	if asset.SHA256 != "" {
		if err := verifyChecksum(archive, asset.SHA256); err != nil {
			return Toolchain{}, err
		}
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return Toolchain{}, fmt.Errorf("failed to create %s: %w", root, err)
	}
	top, err := ExtractArchive(archive, root)
	if err != nil {
		return Toolchain{}, fmt.Errorf("failed to extract archive: %w", err)
	}
	i.log.Debug("Extracted toolchain to %s", top)

	bin, err := findGoBinary(root)
	if err != nil {
		return Toolchain{}, err
	}
	i.log.Info("Installed toolchain %s", bin)
	return Toolchain{GoBinary: bin, Root: root, Version: asset.Version, Downloaded: true}, nil
}

// downloadFile saves the content located at url to destPath.
func (i *Installer) downloadFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to GET %s: %w", url, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			i.log.Error("Failed to close response body: %s", cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to GET %s: HTTP status %d", url, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", destPath, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			i.log.Error("Failed to close destination file: %s", cerr)
		}
	}()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write response to file: %w", err)
	}
	i.log.Debug("Downloaded archive to: %s", destPath)
	return nil
}

func verifyChecksum(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", filepath.Base(path), got, want)
	}
	return nil
}
