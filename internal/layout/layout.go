// Package layout names every path the pipeline reads or writes inside the
// experiment and data directories.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kamusis/cbdistill/internal/config"
)

// CombinedSubset is the pseudo-subset name of the merged full-corpus manifest.
const CombinedSubset = "train-all-shuf"

// ErrMissingPrecondition marks an input a stage needs that is not on disk.
var ErrMissingPrecondition = errors.New("missing precondition")

// Layout resolves pipeline paths for one run.
type Layout struct {
	run *config.Run
}

func New(run *config.Run) *Layout {
	return &Layout{run: run}
}

// Abs resolves p against the configured root unless it is already absolute.
func (l *Layout) Abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.run.Paths.Root, p)
}

func (l *Layout) Root() string      { return l.run.Paths.Root }
func (l *Layout) ExpDir() string    { return l.Abs(l.run.Paths.ExpDir) }
func (l *Layout) RecipeDir() string { return l.Abs(l.run.Paths.RecipeDir) }
func (l *Layout) DataDir() string   { return l.Abs(l.run.Paths.DataDir) }

// Script returns the path of a recipe script such as train.py.
func (l *Layout) Script(name string) string {
	return filepath.Join(l.RecipeDir(), name)
}

// FbankDir is the feature directory produced by the data preparation recipe.
func (l *Layout) FbankDir() string {
	return filepath.Join(l.DataDir(), "fbank")
}

func (l *Layout) HubertModelDir() string {
	return filepath.Join(l.ExpDir(), "hubert_models")
}

// HubertModel is the teacher checkpoint file.
func (l *Layout) HubertModel() string {
	return filepath.Join(l.HubertModelDir(), string(l.run.TeacherModelID)+".pt")
}

// HubertDict is the letter dictionary that accompanies the checkpoint.
func (l *Layout) HubertDict() string {
	return filepath.Join(l.HubertModelDir(), "dict.ltr.txt")
}

// VQName identifies a quantizer setup: {model}_layer{L}_cb{K}.
func (l *Layout) VQName() string {
	return fmt.Sprintf("%s_layer%d_cb%d", l.run.TeacherModelID, l.run.EmbeddingLayer, l.run.NumCodebooks)
}

// CodebookDir holds the trained quantizer and the codebook index files.
func (l *Layout) CodebookDir() string {
	return filepath.Join(l.ExpDir(), "vq", l.VQName())
}

// Splits is the number of partitions the codebook indexes are stored in.
// Prepackaged indexes come with a fixed split count; computed ones use one
// split per worker.
func (l *Layout) Splits() int {
	switch l.run.Source {
	case config.SourceDownload:
		return l.run.Remote.CodebookSplits
	default:
		return l.run.Workers
	}
}

// SplitsDir is where the *.h5 codebook index files live.
func (l *Layout) SplitsDir() string {
	return filepath.Join(l.CodebookDir(), fmt.Sprintf("splits%d", l.Splits()))
}

// ManifestDir holds the cut manifests that reference codebook indexes.
func (l *Layout) ManifestDir() string {
	return filepath.Join(l.DataDir(), fmt.Sprintf("vq_fbank_layer%d_cb%d", l.run.EmbeddingLayer, l.run.NumCodebooks))
}

// ManifestName is the file name of the cut manifest of a subset.
func ManifestName(subset string) string {
	return fmt.Sprintf("librispeech_cuts_%s.jsonl.gz", subset)
}

// Manifest returns the codebook-carrying manifest of subset.
func (l *Layout) Manifest(subset string) string {
	return filepath.Join(l.ManifestDir(), ManifestName(subset))
}

// CombinedManifest is the shuffled union of the full-corpus training subsets.
func (l *Layout) CombinedManifest() string {
	return l.Manifest(CombinedSubset)
}

// TrainManifests lists the manifests train.py reads for the configured scope.
func (l *Layout) TrainManifests() []string {
	if l.run.FullLibri {
		return []string{l.CombinedManifest()}
	}
	var out []string
	for _, s := range l.run.TrainSubsets() {
		out = append(out, l.Manifest(s))
	}
	return out
}

// StagingDir is the transient folder the prepackaged indexes are cloned into.
func (l *Layout) StagingDir() string {
	return filepath.Join(l.Abs(l.run.Paths.DownloadDir), l.run.Remote.CodebookVersion)
}

// DecodeDir is where decode.py writes recognition results for the method.
func (l *Layout) DecodeDir() string {
	return filepath.Join(l.ExpDir(), l.run.Decode.Method)
}

// Checkpoint is the student checkpoint written at the end of epoch.
func (l *Layout) Checkpoint(epoch int) string {
	return filepath.Join(l.ExpDir(), fmt.Sprintf("epoch-%d.pt", epoch))
}

// CheckFeatures fails unless the feature directory produced by the data
// preparation recipe exists.
func (l *Layout) CheckFeatures() error {
	info, err := os.Stat(l.FbankDir())
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s not found; it must be generated by prepare.sh first", ErrMissingPrecondition, l.FbankDir())
	}
	return nil
}

// RequireFile fails with ErrMissingPrecondition unless path is a regular file.
func RequireFile(path, what string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s not found at %s", ErrMissingPrecondition, what, path)
	}
	return nil
}
