package streamcapture

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler-vision-go/internal/apperr"
)

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
