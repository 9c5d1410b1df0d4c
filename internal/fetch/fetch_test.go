package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/probe"
	"github.com/kamusis/cbdistill/internal/runner"
)

type fixture struct {
	run      *config.Run
	layout   *layout.Layout
	requests *atomic.Int32
	python   *runner.Recorder
	fetcher  *Fetcher
}

func newFixture(t *testing.T, modulesInstalled bool) *fixture {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch r.URL.Path {
		case "/hubert/hubert_xtralarge_ll60k_finetune_ls960.pt":
			_, _ = w.Write([]byte("weights"))
		case "/dict.ltr.txt":
			_, _ = w.Write([]byte("| 1\nE 2\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Paths.Root = t.TempDir()
	cfg.Remote.ModelBaseURL = srv.URL + "/hubert"
	cfg.Remote.DictURL = srv.URL + "/dict.ltr.txt"
	run, _, err := config.Resolve(cfg, func(string) string { return "" })
	require.NoError(t, err)

	answer := "True\n"
	if !modulesInstalled {
		answer = "False\n"
	}
	python := &runner.Recorder{OnOutput: func(runner.Command) (string, error) { return answer, nil }}

	return &fixture{
		run:      run,
		layout:   layout.New(run),
		requests: &requests,
		python:   python,
		fetcher: &Fetcher{
			Client:   srv.Client(),
			Prober:   &probe.Prober{Runner: python, Python: "python3"},
			Log:      logger.Discard(),
			Progress: &bytes.Buffer{},
		},
	}
}

func TestFetch_DownloadsModelAndDict(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.fetcher.Fetch(context.Background(), f.run, f.layout)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Len(t, res.Downloaded, 2)

	got, err := os.ReadFile(f.layout.HubertModel())
	require.NoError(t, err)
	assert.Equal(t, "weights", string(got))
	_, err = os.Stat(f.layout.HubertDict())
	require.NoError(t, err)
	_, err = os.Stat(f.layout.HubertModel() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestFetch_IsIdempotent(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.fetcher.Fetch(context.Background(), f.run, f.layout)
	require.NoError(t, err)
	first := f.requests.Load()
	assert.Equal(t, int32(2), first)

	res, err := f.fetcher.Fetch(context.Background(), f.run, f.layout)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Downloaded)
	assert.Equal(t, first, f.requests.Load(), "second fetch must not download")
}

func TestFetch_MissingModulesBeforeDownload(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.fetcher.Fetch(context.Background(), f.run, f.layout)
	require.Error(t, err)
	assert.True(t, errors.Is(err, probe.ErrMissingDependency))
	assert.Equal(t, int32(0), f.requests.Load())
	_, statErr := os.Stat(f.layout.HubertModelDir())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_HTTPErrorLeavesNoPartialFile(t *testing.T) {
	f := newFixture(t, true)
	f.fetcher.Client = &http.Client{}
	cfg := f.run.Config
	cfg.Remote.ModelBaseURL = cfg.Remote.ModelBaseURL + "/missing"
	run, _, err := config.Resolve(&cfg, func(string) string { return "" })
	require.NoError(t, err)

	_, err = f.fetcher.Fetch(context.Background(), run, layout.New(run))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	entries, _ := os.ReadDir(filepath.Dir(f.layout.HubertModel()))
	assert.Empty(t, entries)
}

func TestFetch_DryRunDownloadsNothing(t *testing.T) {
	f := newFixture(t, true)
	f.fetcher.DryRun = true

	res, err := f.fetcher.Fetch(context.Background(), f.run, f.layout)
	require.NoError(t, err)
	assert.Empty(t, res.Downloaded)
	assert.Equal(t, int32(0), f.requests.Load())
}

func TestModelURL(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.ModelBaseURL = "https://example.org/hubert/"
	run := &config.Run{Config: *cfg}
	assert.Equal(t, "https://example.org/hubert/hubert_xtralarge_ll60k_finetune_ls960.pt", ModelURL(run))
}
