// Package codebook obtains the codebook indexes the student is distilled
// from, either by downloading the prepackaged ones or by running the
// quantizer over the teacher embeddings.
package codebook

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/manifest"
	"github.com/kamusis/cbdistill/internal/probe"
	"github.com/kamusis/cbdistill/internal/runner"
)

// ErrStagingExists is returned when a previous download left its staging
// directory behind. The user has to remove it before retrying.
var ErrStagingExists = errors.New("staging directory already exists")

// Extractor runs stage 2 of the pipeline.
type Extractor struct {
	Runner runner.Runner
	Prober *probe.Prober
	Log    *logger.Logger
	// Rand shuffles the merged full-corpus manifest. A time-seeded source is
	// used when nil.
	Rand   *rand.Rand
	DryRun bool
}

// Run obtains the codebook indexes for run, merges the full corpus when
// requested and checks that every training cut has its indexes on disk.
func (e *Extractor) Run(ctx context.Context, run *config.Run, l *layout.Layout) error {
	var err error
	switch run.Source {
	case config.SourceDownload:
		err = e.download(ctx, run, l)
	case config.SourceCompute:
		err = e.compute(ctx, run, l)
	default:
		err = fmt.Errorf("%w: codebook source %v", config.ErrUnsupportedConfig, run.Source)
	}
	if err != nil {
		return err
	}

	if e.DryRun {
		e.Log.Info("dry-run: skipping manifest merge and codebook validation")
		return nil
	}

	if run.FullLibri {
		n, err := MergeFullCorpus(run, l, e.rand())
		if err != nil {
			return err
		}
		e.Log.WithField("cuts", n).WithField("path", l.CombinedManifest()).Info("merged full-corpus manifest")
	}

	reports, err := Validate(l)
	if err != nil {
		return err
	}
	for i, rep := range reports {
		e.Log.WithField("manifest", l.TrainManifests()[i]).
			WithField("cuts", rep.Cuts).
			WithField("files", len(rep.StorageFiles)).
			Info("codebook indexes complete")
	}
	return nil
}

func (e *Extractor) rand() *rand.Rand {
	if e.Rand != nil {
		return e.Rand
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// MergeFullCorpus merges the manifests of the three training subsets into the
// shuffled combined manifest, replacing any stale one. It returns the number
// of cuts written.
func MergeFullCorpus(run *config.Run, l *layout.Layout, rng *rand.Rand) (int, error) {
	var inputs []string
	for _, s := range fullCorpusSubsets {
		p := l.Manifest(s)
		if _, err := os.Stat(p); err != nil {
			return 0, fmt.Errorf("%w: manifest of %s not found at %s", layout.ErrMissingPrecondition, s, p)
		}
		inputs = append(inputs, p)
	}
	return manifest.Merge(inputs, l.CombinedManifest(), rng)
}

var fullCorpusSubsets = []string{"train-clean-100", "train-clean-360", "train-other-500"}

// Validate checks the codebook invariant on every manifest the trainer
// reads. Storage paths recorded in the manifests are relative to the recipe
// root.
func Validate(l *layout.Layout) ([]*manifest.Report, error) {
	var reports []*manifest.Report
	for _, p := range l.TrainManifests() {
		if err := layout.RequireFile(p, "training manifest"); err != nil {
			return reports, err
		}
		rep, err := manifest.ValidateCodebooks(p, l.Root())
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
