package codebook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/manifest"
	"github.com/kamusis/cbdistill/internal/runner"
)

// ExtractScript is the recipe script that trains the quantizer and encodes
// teacher embeddings into codebook indexes.
const ExtractScript = "extract_codebook_index.py"

// compute trains the quantizer on a sample of teacher embeddings, encodes
// every training subset with it and combines the per-split manifests.
func (e *Extractor) compute(ctx context.Context, run *config.Run, l *layout.Layout) error {
	if err := layout.RequireFile(l.HubertModel(), "teacher model"); err != nil && !e.DryRun {
		return fmt.Errorf("%w; run stage 0 first", err)
	}

	e.Log.WithField("layer", run.EmbeddingLayer).
		WithField("codebooks", run.NumCodebooks).
		WithField("num_utts", run.Extract.NumUtts).
		Info("training quantizer")
	if err := e.Runner.Run(ctx, extractCommand(run, l)); err != nil {
		return err
	}

	splits := l.Splits()
	for _, subset := range run.TrainSubsets() {
		e.Log.WithField("subset", subset).WithField("splits", splits).Info("extracting codebook indexes")
		c := extractCommand(run, l)
		c.Args = append(c.Args, "--subset", subset, "--num-splits", strconv.Itoa(splits))
		if err := e.Runner.Run(ctx, c); err != nil {
			return err
		}
		if e.DryRun {
			continue
		}
		n, err := e.combineSplits(l, subset)
		if err != nil {
			return err
		}
		e.Log.WithField("subset", subset).WithField("cuts", n).Info("combined split manifests")
	}
	return nil
}

func extractCommand(run *config.Run, l *layout.Layout) runner.Command {
	return runner.Command{
		Name: run.Paths.Python,
		Dir:  l.Root(),
		Args: []string{
			l.Script(ExtractScript),
			"--full-libri", runner.PyBool(run.FullLibri),
			"--exp-dir", l.ExpDir(),
			"--embedding-layer", strconv.Itoa(run.EmbeddingLayer),
			"--num-utts", strconv.Itoa(run.Extract.NumUtts),
			"--num-codebooks", strconv.Itoa(run.NumCodebooks),
			"--max-duration", strconv.Itoa(run.Extract.MaxDuration),
			"--teacher-model-id", string(run.TeacherModelID),
			"--use-extracted-codebook", runner.PyBool(false),
		},
	}
}

// combineSplits concatenates the split manifests written next to the
// codebook indexes into the subset manifest.
func (e *Extractor) combineSplits(l *layout.Layout, subset string) (int, error) {
	parts, err := SplitManifests(l.SplitsDir(), subset)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(l.ManifestDir(), 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", l.ManifestDir(), err)
	}
	return manifest.Combine(parts, l.Manifest(subset))
}

// SplitManifests lists the split manifests of subset in dir ordered by split
// number, so that split 10 follows split 9.
func SplitManifests(dir, subset string) ([]string, error) {
	prefix := strings.TrimSuffix(layout.ManifestName(subset), ".jsonl.gz") + "."
	parts, err := filepath.Glob(filepath.Join(dir, prefix+"*.jsonl.gz"))
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no split manifests for %s in %s", layout.ErrMissingPrecondition, subset, dir)
	}
	splitNum := func(p string) int {
		s := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), prefix), ".jsonl.gz")
		n, err := strconv.Atoi(s)
		if err != nil {
			return -1
		}
		return n
	}
	slices.SortFunc(parts, func(a, b string) int {
		if na, nb := splitNum(a), splitNum(b); na != nb {
			return na - nb
		}
		return strings.Compare(a, b)
	})
	return parts, nil
}
