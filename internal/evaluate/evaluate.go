package evaluate

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/runner"
)

// DecodeScript decodes test data with the averaged student checkpoint.
const DecodeScript = "decode.py"

// Evaluator runs stage 4.
type Evaluator struct {
	Runner runner.Runner
	Log    *logger.Logger
	DryRun bool
}

// Run decodes the test sets with the student model and logs the best WER
// found in each summary written by decode.py.
func (e *Evaluator) Run(ctx context.Context, run *config.Run, l *layout.Layout) error {
	if !e.DryRun {
		if err := layout.RequireFile(l.Checkpoint(run.Decode.Epoch), "student checkpoint"); err != nil {
			return fmt.Errorf("%w; run stage 3 first", err)
		}
	}

	e.Log.WithField("method", run.Decode.Method).
		WithField("epoch", run.Decode.Epoch).
		WithField("avg", run.Decode.Avg).
		Info("decoding with student model")
	if err := e.Runner.Run(ctx, DecodeCommand(run, l)); err != nil {
		return err
	}
	if e.DryRun {
		return nil
	}

	results, err := Results(run, l)
	for _, r := range results {
		e.Log.WithField("test_set", r.TestSet).
			WithField("setting", r.Best.Name).
			WithField("wer", r.Best.WER).
			WithField("summary", r.Path).
			Info("word error rate")
	}
	if errors.Is(err, ErrNoSummary) {
		e.Log.WithError(err).Warn("decode finished without a WER summary")
		return nil
	}
	return err
}

// DecodeCommand builds the decode.py invocation for run.
func DecodeCommand(run *config.Run, l *layout.Layout) runner.Command {
	dc := run.Decode
	return runner.Command{
		Name: run.Paths.Python,
		Dir:  l.Root(),
		Args: []string{
			l.Script(DecodeScript),
			"--decoding-method", dc.Method,
			"--epoch", strconv.Itoa(dc.Epoch),
			"--avg", strconv.Itoa(dc.Avg),
			"--max-duration", strconv.Itoa(dc.MaxDuration),
			"--exp-dir", l.ExpDir(),
			"--enable-distillation", "True",
		},
	}
}

// Result is the best WER reported for one test set.
type Result struct {
	TestSet string
	Path    string
	Best    Setting
}

// Results reads the newest WER summary of every configured test set. Test
// sets without a summary are reported through an ErrNoSummary error after
// the others have been read.
func Results(run *config.Run, l *layout.Layout) ([]Result, error) {
	var out []Result
	var missing []error
	for _, ts := range run.Decode.TestSets {
		path, err := LatestSummary(l.DecodeDir(), ts)
		if err != nil {
			if errors.Is(err, ErrNoSummary) {
				missing = append(missing, err)
				continue
			}
			return out, err
		}
		settings, err := ReadSummary(path)
		if err != nil {
			return out, err
		}
		out = append(out, Result{TestSet: ts, Path: path, Best: Best(settings)})
	}
	return out, errors.Join(missing...)
}
