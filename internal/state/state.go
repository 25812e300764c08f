// Package state persists what the last run provisioned so the environment
// can be torn down later by a separate invocation.
package state

import (
	"encoding/json" // For JSON encoding and decoding of the state file
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/afero"

	"devdb-setup/internal/runstatus"
)

// ErrNoState is returned by Load when no state file exists.
var ErrNoState = errors.New("no saved run state")

// RunState records the environment created by one run.
type RunState struct {
	RunID          string           `json:"run_id"`
	Family         string           `json:"family"` // Distribution family, empty when unsupported
	DBName         string           `json:"db_name"`
	DBUser         string           `json:"db_user"`
	AppDir         string           `json:"app_dir"`
	MigrationsDir  string           `json:"migrations_dir"`
	ToolchainDir   string           `json:"toolchain_dir,omitempty"` // Only set for downloaded toolchains
	LogFile        string           `json:"log_file"`
	Status         runstatus.Status `json:"status"`
	Decommissioned bool             `json:"decommissioned"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Load reads the state file at path.
func Load(fsys afero.Fs, path string) (*RunState, error) {
	file, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoState, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	var st RunState
	if err := json.Unmarshal(file, &st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return &st, nil
}

// Save writes st to path as indented JSON, stamping UpdatedAt.
func Save(fsys afero.Fs, path string, st *RunState) error {
	st.UpdatedAt = time.Now().UTC()
	file, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := afero.WriteFile(fsys, path, file, 0644); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}
