package exitcodes

import "devdb-setup/internal/runstatus"

// Exit codes of devdb-setup.
// These codes form the contract with wrapper scripts and CI jobs.
const (
	Success       = 0 // Run finished with a clean status
	ErrorOccurred = 1 // Run finished but at least one fatal outcome counts
	InvalidInput  = 2 // Settings file or operator input could not be used
	Unsupported   = 3 // Host distribution is not supported
)

// FromStatus maps a final run status to an exit code.
func FromStatus(s runstatus.Status) int {
	if s == runstatus.Clean {
		return Success
	}
	return ErrorOccurred
}
