// Package train launches the distributed student training.
package train

import (
	"context"
	"strconv"

	"github.com/kamusis/cbdistill/internal/codebook"
	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/runner"
)

// Script is the recipe training entry point.
const Script = "train.py"

// Trainer runs stage 3.
type Trainer struct {
	Runner runner.Runner
	Log    *logger.Logger
	DryRun bool
}

// Run checks that every training cut has codebook indexes and then runs the
// training script with one worker per visible device.
func (t *Trainer) Run(ctx context.Context, run *config.Run, l *layout.Layout) error {
	if !t.DryRun {
		if _, err := codebook.Validate(l); err != nil {
			return err
		}
	}

	t.Log.WithField("world_size", run.Workers).
		WithField("devices", run.Devices).
		WithField("epochs", run.Train.NumEpochs).
		Info("training student model")
	return t.Runner.Run(ctx, Command(run, l))
}

// Command builds the train.py invocation for run.
func Command(run *config.Run, l *layout.Layout) runner.Command {
	tc := run.Train
	return runner.Command{
		Name: run.Paths.Python,
		Dir:  l.Root(),
		Args: []string{
			l.Script(Script),
			"--manifest-dir", l.ManifestDir(),
			"--master-port", strconv.Itoa(tc.MasterPort),
			"--full-libri", runner.PyBool(run.FullLibri),
			"--spec-aug-time-warp-factor", strconv.Itoa(tc.SpecAugTimeWarpFactor),
			"--max-duration", strconv.Itoa(tc.MaxDuration),
			"--world-size", strconv.Itoa(run.Workers),
			"--num-epochs", strconv.Itoa(tc.NumEpochs),
			"--exp-dir", l.ExpDir(),
			"--enable-distillation", "True",
			"--codebook-loss-scale", strconv.FormatFloat(tc.CodebookLossScale, 'g', -1, 64),
		},
	}
}
