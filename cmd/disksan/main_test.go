package main

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disksanitizer/internal/app"
	"disksanitizer/internal/security"
)

func TestFailCarriesExitCode(t *testing.T) {
	assert.NoError(t, fail(nil))

	err := fail(errors.Wrap(security.ErrMounted, "/dev/sdb"))
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, app.ExitInUse, ee.code)
	assert.True(t, errors.Is(err, security.ErrMounted))
}

func TestUsageIsExitOne(t *testing.T) {
	var ee *exitError
	require.True(t, errors.As(usage(errors.New("bad flag")), &ee))
	assert.Equal(t, app.ExitUsage, ee.code)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "disksan "+Version+"\n", out.String())
}
