package config

import (
	"errors"
	"fmt"
	"strings"
)

// DevicesEnv is the device-visibility variable whose entry count sets the
// number of training and extraction workers.
const DevicesEnv = "CUDA_VISIBLE_DEVICES"

// Codebook setup of the prepackaged indexes published for download.
const (
	DownloadEmbeddingLayer = 36
	DownloadNumCodebooks   = 8
)

// ErrUnsupportedConfig marks configurations the pipeline refuses to run.
var ErrUnsupportedConfig = errors.New("unsupported configuration")

// CodebookSource selects how stage 2 obtains codebook indexes.
type CodebookSource int

const (
	SourceDownload CodebookSource = iota
	SourceCompute
)

func (s CodebookSource) String() string {
	switch s {
	case SourceDownload:
		return "download"
	case SourceCompute:
		return "compute"
	default:
		return fmt.Sprintf("CodebookSource(%d)", int(s))
	}
}

// Run is the effective configuration of one invocation. It is built once by
// Resolve and only read afterwards.
type Run struct {
	Config
	Source  CodebookSource
	Workers int
	Devices string
}

// Resolve validates cfg and derives the effective run configuration.
// getenv supplies the process environment. Notes about values that were
// overridden are returned for the caller to log.
func Resolve(cfg *Config, getenv func(string) string) (*Run, []string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	run := &Run{Config: *cfg}
	run.Verify.Subsets = append([]string(nil), cfg.Verify.Subsets...)
	run.Decode.TestSets = append([]string(nil), cfg.Decode.TestSets...)
	run.Devices = getenv(DevicesEnv)
	run.Workers = WorkerCount(run.Devices)

	var notes []string
	if cfg.UseExtractedCodebook {
		run.Source = SourceDownload
		if cfg.EmbeddingLayer != DownloadEmbeddingLayer || cfg.NumCodebooks != DownloadNumCodebooks {
			notes = append(notes, fmt.Sprintf(
				"prepackaged codebook indexes use layer %d with %d codebooks; overriding layer %d / %d codebooks",
				DownloadEmbeddingLayer, DownloadNumCodebooks, cfg.EmbeddingLayer, cfg.NumCodebooks))
			run.EmbeddingLayer = DownloadEmbeddingLayer
			run.NumCodebooks = DownloadNumCodebooks
		}
	} else {
		run.Source = SourceCompute
	}
	return run, notes, nil
}

// WorkerCount returns the number of comma-separated device ids in devices.
// An empty value means a single worker.
func WorkerCount(devices string) int {
	n := 0
	for _, id := range strings.Split(devices, ",") {
		if strings.TrimSpace(id) != "" {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// TrainSubsets returns the training subsets selected by the full_libri flag.
func (r *Run) TrainSubsets() []string {
	if r.FullLibri {
		return []string{"train-clean-100", "train-clean-360", "train-other-500"}
	}
	return []string{"train-clean-100"}
}
