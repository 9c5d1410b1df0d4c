package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/evaluate"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which stage outputs exist in the experiment directory",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	run, _, err := config.Resolve(cfg, os.Getenv)
	if err != nil {
		return err
	}
	l := layout.New(run)
	names := pipeline.StageNames()

	fmt.Println("=== Stage Outputs ===")
	fmt.Printf("  exp dir: %s\n", l.ExpDir())

	printBullet(fmt.Sprintf("%d %s", pipeline.StageFetch, names[pipeline.StageFetch]))
	showFile("teacher", l.HubertModel())
	showFile("dict", l.HubertDict())

	printBullet(fmt.Sprintf("%d %s", pipeline.StageVerify, names[pipeline.StageVerify]))
	if run.SkipVerify {
		printSkip("", "skip_verify set")
	} else {
		printInfo("", "teacher decode leaves no artifact; see the logs of the last run")
	}

	printBullet(fmt.Sprintf("%d %s", pipeline.StageExtract, names[pipeline.StageExtract]))
	h5, _ := filepath.Glob(filepath.Join(l.SplitsDir(), "*.h5"))
	if len(h5) == 0 {
		printMiss("indexes", l.SplitsDir())
	} else {
		printOK("indexes", fmt.Sprintf("%d file(s) in %s", len(h5), l.SplitsDir()))
	}
	for _, m := range l.TrainManifests() {
		showFile("manifest", m)
	}
	if _, err := os.Stat(l.StagingDir()); err == nil {
		printWarn("staging", fmt.Sprintf("%s left behind; 'cbdistill doctor fix' removes it", l.StagingDir()))
	}

	printBullet(fmt.Sprintf("%d %s", pipeline.StageTrain, names[pipeline.StageTrain]))
	ckpts, _ := filepath.Glob(filepath.Join(l.ExpDir(), "epoch-*.pt"))
	if len(ckpts) == 0 {
		printMiss("checkpoints", "none")
	} else {
		printOK("checkpoints", fmt.Sprintf("%d epoch checkpoint(s)", len(ckpts)))
	}
	showFile("decode epoch", l.Checkpoint(run.Decode.Epoch))

	printBullet(fmt.Sprintf("%d %s", pipeline.StageEvaluate, names[pipeline.StageEvaluate]))
	results, err := evaluate.Results(run, l)
	for _, r := range results {
		printOK(r.TestSet, fmt.Sprintf("WER %.2f%% (%s)", r.Best.WER, r.Best.Name))
	}
	if err != nil {
		if !errors.Is(err, evaluate.ErrNoSummary) {
			return err
		}
		printMiss("", err.Error())
	}
	fmt.Println()
	return nil
}

func showFile(name, path string) {
	info, err := os.Stat(path)
	if err != nil {
		printMiss(name, path)
		return
	}
	printOK(name, fmt.Sprintf("%s (%s)", path, humanize.Bytes(uint64(info.Size()))))
}
