package exitcodes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"devdb-setup/internal/runstatus"
)

func TestFromStatus(t *testing.T) {
	assert.Equal(t, Success, FromStatus(runstatus.Clean))
	assert.Equal(t, ErrorOccurred, FromStatus(runstatus.ErrorOccurred))
	assert.Equal(t, ErrorOccurred, FromStatus(""))
}
