package train

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/manifest"
	"github.com/kamusis/cbdistill/internal/runner"
)

func newRun(t *testing.T, devices string, mutate func(*config.Config)) (*config.Run, *layout.Layout) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Root = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	run, _, err := config.Resolve(cfg, func(string) string { return devices })
	require.NoError(t, err)
	return run, layout.New(run)
}

// seedManifest writes a one-cut training manifest whose codebook file exists
// when withIndexes is set.
func seedManifest(t *testing.T, l *layout.Layout, withIndexes bool) {
	t.Helper()
	h5 := filepath.Join(l.SplitsDir(), "cb.h5")
	if withIndexes {
		require.NoError(t, os.MkdirAll(l.SplitsDir(), 0o755))
		require.NoError(t, os.WriteFile(h5, []byte("x"), 0o644))
	}
	path := l.TrainManifests()[0]
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	fmt.Fprintf(gz, `{"id":"u1","custom":{"codebook_indexes":{"array":{"storage_type":"numpy_hdf5","storage_path":%q,"storage_key":"u1"}}}}`+"\n", h5)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestCommand_ForwardsConfiguration(t *testing.T) {
	run, l := newRun(t, "0,1,2,3", func(c *config.Config) { c.FullLibri = true })
	c := Command(run, l)

	assert.Equal(t, "python3", c.Name)
	assert.Equal(t, l.Root(), c.Dir)
	args := strings.Join(c.Args, " ")
	for _, want := range []string{
		"--manifest-dir " + l.ManifestDir(),
		"--master-port 12359",
		"--full-libri True",
		"--spec-aug-time-warp-factor -1",
		"--max-duration 300",
		"--world-size 4",
		"--num-epochs 20",
		"--exp-dir " + l.ExpDir(),
		"--enable-distillation True",
		"--codebook-loss-scale 0.01",
	} {
		assert.Contains(t, args, want)
	}
	assert.Equal(t, l.Script(Script), c.Args[0])
}

func TestCommand_WorldSizeFromDevices(t *testing.T) {
	for devices, want := range map[string]string{"0": "1", "": "1", "2,3": "2"} {
		run, l := newRun(t, devices, nil)
		args := strings.Join(Command(run, l).Args, " ")
		assert.Contains(t, args, "--world-size "+want, "devices %q", devices)
	}
}

func TestRun_RequiresCodebookIndexes(t *testing.T) {
	run, l := newRun(t, "0", nil)
	rec := &runner.Recorder{}
	tr := &Trainer{Runner: rec, Log: logger.Discard()}

	err := tr.Run(context.Background(), run, l)
	assert.True(t, errors.Is(err, layout.ErrMissingPrecondition))

	seedManifest(t, l, false)
	err = tr.Run(context.Background(), run, l)
	assert.True(t, errors.Is(err, manifest.ErrMissingCodebook))
	assert.Empty(t, rec.Calls())

	seedManifest(t, l, true)
	require.NoError(t, tr.Run(context.Background(), run, l))
	assert.Len(t, rec.Matching(Script), 1)
}

func TestRun_DryRunSkipsValidation(t *testing.T) {
	run, l := newRun(t, "0", nil)
	rec := &runner.Recorder{}
	tr := &Trainer{Runner: rec, Log: logger.Discard(), DryRun: true}

	require.NoError(t, tr.Run(context.Background(), run, l))
	assert.Len(t, rec.Calls(), 1)
}

func TestRun_FailurePropagates(t *testing.T) {
	run, l := newRun(t, "0", nil)
	seedManifest(t, l, true)
	boom := errors.New("exit status 1")
	tr := &Trainer{Runner: &runner.Recorder{OnRun: func(runner.Command) error { return boom }}, Log: logger.Discard()}

	assert.ErrorIs(t, tr.Run(context.Background(), run, l), boom)
}
