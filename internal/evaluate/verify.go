// Package evaluate runs the decode scripts of the recipe and reports word
// error rates: the sanity decode of the teacher model (stage 1) and the
// evaluation of the trained student (stage 4).
package evaluate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/runner"
)

// VerifyScript decodes test data with the teacher model.
const VerifyScript = "hubert_decode.py"

// Verifier runs stage 1.
type Verifier struct {
	Runner runner.Runner
	Log    *logger.Logger
	DryRun bool
}

// Run decodes every verification subset with the fetched teacher model.
// Nothing happens when verification is disabled.
func (v *Verifier) Run(ctx context.Context, run *config.Run, l *layout.Layout) error {
	if run.SkipVerify {
		v.Log.Info("skip_verify set, not decoding with the teacher model")
		return nil
	}
	if !v.DryRun {
		if err := layout.RequireFile(l.HubertModel(), "teacher model"); err != nil {
			return fmt.Errorf("%w; run stage 0 first", err)
		}
	}

	for _, subset := range run.Verify.Subsets {
		v.Log.WithField("subset", subset).Info("decoding with teacher model")
		if err := v.Runner.Run(ctx, VerifyCommand(run, l, subset)); err != nil {
			return err
		}
	}
	return nil
}

// VerifyCommand builds the hubert_decode.py invocation for subset.
func VerifyCommand(run *config.Run, l *layout.Layout, subset string) runner.Command {
	return runner.Command{
		Name: run.Paths.Python,
		Dir:  l.Root(),
		Args: []string{
			l.Script(VerifyScript),
			"--decode-subset", subset,
			"--hubert-model-dir", l.HubertModelDir(),
			"--teacher-model-id", string(run.TeacherModelID),
			"--max-duration", strconv.Itoa(run.Verify.MaxDuration),
		},
	}
}
