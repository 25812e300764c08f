// Package platform detects the host distribution and provides the
// OS-specific capabilities the other phases need: package installation,
// data store initialization, service control and the location of the
// client-authentication policy file.
package platform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero" // Filesystem port; tests use an in-memory tree

	"devdb-setup/internal/executil"
)

// ErrUnsupported is returned by Probe when no known distribution marker is
// present. Phases that need a Profile skip themselves when they get it.
var ErrUnsupported = errors.New("unsupported operating system")

// Family is the distribution family.
type Family string

const (
	FamilyRHEL   Family = "rhel"
	FamilyDebian Family = "debian"
)

// ServiceName is the systemd unit of the database server on both families.
const ServiceName = "postgresql"

// Profile is the capability provider for one distribution family.
type Profile interface {
	Family() Family
	// Description is a human readable distribution name.
	Description() string
	ServiceName() string
	InstallPackages(ctx context.Context) error
	RemovePackages(ctx context.Context) error
	// DataDir is the root of everything the server stores on disk.
	DataDir() string
	// InitializeDataStore creates the cluster only when its directory is
	// missing or empty. It reports whether initialization actually ran.
	InitializeDataStore(ctx context.Context) (bool, error)
	// ServiceControl runs systemctl with the given arguments for the unit.
	ServiceControl(ctx context.Context, args ...string) error
	PolicyFilePath() (string, error)
}

// markers maps distribution marker files to their family, checked in order.
var markers = []struct {
	path   string
	family Family
}{
	{"/etc/redhat-release", FamilyRHEL},
	{"/etc/fedora-release", FamilyRHEL},
	{"/etc/centos-release", FamilyRHEL},
	{"/etc/rocky-release", FamilyRHEL},
	{"/etc/debian_version", FamilyDebian},
}

// Probe inspects fs for distribution markers and returns the matching
// Profile, or ErrUnsupported.
func Probe(fs afero.Fs, run executil.Runner, out io.Writer) (Profile, error) {
	if out == nil {
		out = io.Discard
	}
	h := host{fs: fs, run: run, out: out, description: prettyName(fs)}

	for _, m := range markers {
		ok, err := afero.Exists(fs, m.path)
		if err != nil || !ok {
			continue
		}
		if h.description == "" {
			h.description = string(m.family)
		}
		switch m.family {
		case FamilyRHEL:
			return &RHEL{host: h}, nil
		case FamilyDebian:
			return &Debian{host: h}, nil
		}
	}
	return nil, ErrUnsupported
}

// prettyName reads PRETTY_NAME from /etc/os-release; "" when unavailable.
func prettyName(fs afero.Fs) string {
	f, err := fs.Open("/etc/os-release")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(v, `"'`)
		}
	}
	return ""
}

// host carries what every profile needs to act on the machine.
type host struct {
	fs          afero.Fs
	run         executil.Runner
	out         io.Writer
	description string
}

func (h host) Description() string { return h.description }
func (h host) ServiceName() string { return ServiceName }

func (h host) exec(ctx context.Context, c executil.Command) error {
	c.Privileged = true
	c.Stream = h.out
	_, err := h.run.Run(ctx, c)
	return err
}

func (h host) ServiceControl(ctx context.Context, args ...string) error {
	full := append([]string{}, args...)
	full = append(full, ServiceName)
	return h.exec(ctx, executil.Command{Name: "systemctl", Args: full})
}

// needsInit reports whether dir is missing or empty. Any error reading it
// is returned so the caller never initializes on top of unknown contents.
func (h host) needsInit(dir string) (bool, error) {
	exists, err := afero.DirExists(h.fs, dir)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !exists {
		return true, nil
	}
	empty, err := afero.IsEmpty(h.fs, dir)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", dir, err)
	}
	return empty, nil
}

// newestVersionDir returns the path matched by pattern whose versioned path
// element (the one replacing "*") is numerically the highest.
func newestVersionDir(fs afero.Fs, pattern string) (string, string, error) {
	matches, err := afero.Glob(fs, pattern)
	if err != nil {
		return "", "", err
	}
	if len(matches) == 0 {
		return "", "", fmt.Errorf("nothing matches %s: %w", pattern, os.ErrNotExist)
	}

	idx := strings.Count(filepath.ToSlash(pattern[:strings.Index(pattern, "*")]), "/")
	version := func(p string) string {
		parts := strings.Split(filepath.ToSlash(p), "/")
		if idx < len(parts) {
			return parts[idx]
		}
		return ""
	}
	sort.Slice(matches, func(i, j int) bool {
		return versionLess(version(matches[i]), version(matches[j]))
	})
	newest := matches[len(matches)-1]
	return newest, version(newest), nil
}

// versionLess compares dotted numeric versions such as "9.6" and "16".
func versionLess(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr != nil || berr != nil {
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
			continue
		}
		if ai != bi {
			return ai < bi
		}
	}
	return len(as) < len(bs)
}
