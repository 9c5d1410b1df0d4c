package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/cbdistill/internal/pipeline"
)

// captureStdout returns what fn prints to stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestPrintBullet_StageHeading(t *testing.T) {
	names := pipeline.StageNames()
	out := captureStdout(t, func() {
		printBullet(fmt.Sprintf("%d %s", pipeline.StageExtract, names[pipeline.StageExtract]))
	})
	assert.Equal(t, "\n● 2 extract\n", out)
}
