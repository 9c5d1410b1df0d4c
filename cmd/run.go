package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/cbdistill/internal/codebook"
	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/evaluate"
	"github.com/kamusis/cbdistill/internal/fetch"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/lock"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/pipeline"
	"github.com/kamusis/cbdistill/internal/probe"
	"github.com/kamusis/cbdistill/internal/runner"
	"github.com/kamusis/cbdistill/internal/train"
)

var runFlags struct {
	stage                int
	stopStage            int
	fullLibri            bool
	useExtractedCodebook bool
	teacherModelID       string
	embeddingLayer       int
	numCodebooks         int
	expDir               string
	skipVerify           bool
	dryRun               bool
	lockTimeout          time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the distillation pipeline",
	Long: `Run the stages selected by --stage and --stop-stage:

  0  fetch     download the HuBERT teacher model
  1  verify    decode test-clean/test-other with the teacher
  2  extract   download or compute codebook indexes
  3  train     train the student with codebook distillation
  4  evaluate  decode with the student and report WER

Flags override the values in the config file. Stages 1-4 need the fbank
features produced by prepare.sh under data/fbank.`,
	Example: `  cbdistill run --stage 2 --stop-stage 2
  cbdistill run --full-libri --use-extracted-codebook=false --embedding-layer 18
  CUDA_VISIBLE_DEVICES=0,1,2,3 cbdistill run --stage 3`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&runFlags.stage, "stage", 0, "first stage to run")
	f.IntVar(&runFlags.stopStage, "stop-stage", 4, "last stage to run")
	f.BoolVar(&runFlags.fullLibri, "full-libri", false, "train on the full 960h corpus")
	f.BoolVar(&runFlags.useExtractedCodebook, "use-extracted-codebook", true, "download published codebook indexes instead of computing them")
	f.StringVar(&runFlags.teacherModelID, "teacher-model-id", "", "teacher checkpoint id")
	f.IntVar(&runFlags.embeddingLayer, "embedding-layer", 0, "teacher layer the embeddings are taken from")
	f.IntVar(&runFlags.numCodebooks, "num-codebooks", 0, "number of codebooks of the quantizer")
	f.StringVar(&runFlags.expDir, "exp-dir", "", "experiment directory")
	f.BoolVar(&runFlags.skipVerify, "skip-verify", false, "skip the teacher sanity decode")
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "log the commands instead of executing them")
	f.DurationVar(&runFlags.lockTimeout, "lock-timeout", 5*time.Second, "how long to wait for another run on the same experiment directory")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies the flags the user set onto cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("stage") {
		cfg.Stage = runFlags.stage
	}
	if set("stop-stage") {
		cfg.StopStage = runFlags.stopStage
	}
	if set("full-libri") {
		cfg.FullLibri = runFlags.fullLibri
	}
	if set("use-extracted-codebook") {
		cfg.UseExtractedCodebook = runFlags.useExtractedCodebook
	}
	if set("teacher-model-id") {
		cfg.TeacherModelID = config.TeacherModel(runFlags.teacherModelID)
	}
	if set("embedding-layer") {
		cfg.EmbeddingLayer = runFlags.embeddingLayer
	}
	if set("num-codebooks") {
		cfg.NumCodebooks = runFlags.numCodebooks
	}
	if set("exp-dir") {
		cfg.Paths.ExpDir = runFlags.expDir
	}
	if set("skip-verify") {
		cfg.SkipVerify = runFlags.skipVerify
	}
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	run, notes, err := config.Resolve(cfg, os.Getenv)
	if err != nil {
		return err
	}
	for _, n := range notes {
		log.Warn(n)
	}
	l := layout.New(run)

	log.WithField("stages", fmt.Sprintf("%d-%d", run.Stage, run.StopStage)).
		WithField("source", run.Source.String()).
		WithField("teacher", string(run.TeacherModelID)).
		WithField("workers", run.Workers).
		WithField("exp_dir", l.ExpDir()).
		Info("starting pipeline")

	if !runFlags.dryRun {
		lk, err := lock.Acquire(l.ExpDir(), runFlags.lockTimeout)
		if err != nil {
			return err
		}
		defer lk.Release()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &pipeline.Pipeline{Stages: pipeline.Standard(buildDeps(run, log, runFlags.dryRun)), Log: log}
	if err := p.Run(ctx, run, l); err != nil {
		log.WithError(err).Error("pipeline failed")
		return err
	}
	log.Info("pipeline finished")
	return nil
}

// buildDeps wires the stage implementations to the process runner.
func buildDeps(run *config.Run, log *logger.Logger, dryRun bool) pipeline.Deps {
	var r runner.Runner = runner.NewExec()
	if dryRun {
		r = &runner.DryRun{Next: r, Log: log}
	}
	prober := &probe.Prober{Runner: r, Python: run.Paths.Python}
	return pipeline.Deps{
		Fetcher: &fetch.Fetcher{
			Client:   &http.Client{},
			Prober:   prober,
			Log:      log,
			Progress: os.Stderr,
			DryRun:   dryRun,
		},
		Verifier:  &evaluate.Verifier{Runner: r, Log: log, DryRun: dryRun},
		Extractor: &codebook.Extractor{Runner: r, Prober: prober, Log: log, DryRun: dryRun},
		Trainer:   &train.Trainer{Runner: r, Log: log, DryRun: dryRun},
		Evaluator: &evaluate.Evaluator{Runner: r, Log: log, DryRun: dryRun},
	}
}
