// Package pipeline runs the distillation stages in order, gated by the
// configured stage range.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kamusis/cbdistill/internal/codebook"
	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/evaluate"
	"github.com/kamusis/cbdistill/internal/fetch"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/train"
)

// Stage indexes.
const (
	StageFetch = iota
	StageVerify
	StageExtract
	StageTrain
	StageEvaluate
)

// Range is the inclusive [Start, Stop] window of stages to execute.
type Range struct {
	Start int
	Stop  int
}

// Contains reports whether stage i is selected.
func (r Range) Contains(i int) bool {
	return i >= r.Start && i <= r.Stop
}

func (r Range) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("stage must be >= 0, got %d", r.Start)
	}
	if r.Stop < r.Start {
		return fmt.Errorf("stop_stage %d is before stage %d", r.Stop, r.Start)
	}
	return nil
}

// StageFunc does the work of one stage.
type StageFunc func(ctx context.Context, run *config.Run, l *layout.Layout) error

// Stage is a named step of the pipeline.
type Stage struct {
	Index int
	Name  string
	Run   StageFunc
	// NeedsFeatures marks stages that read the precomputed fbank features.
	NeedsFeatures bool
}

// Pipeline executes stages sequentially.
type Pipeline struct {
	Stages []Stage
	Log    *logger.Logger
}

// Run executes every stage whose index lies in the run's stage range, in
// index order. The feature directory is checked once before the first
// selected stage that needs it. The first failing stage aborts the run.
func (p *Pipeline) Run(ctx context.Context, run *config.Run, l *layout.Layout) error {
	rng := Range{Start: run.Stage, Stop: run.StopStage}
	if err := rng.Validate(); err != nil {
		return err
	}

	stages := slices.Clone(p.Stages)
	slices.SortStableFunc(stages, func(a, b Stage) int { return a.Index - b.Index })

	featuresChecked := false
	for _, st := range stages {
		log := p.Log.WithStage(st.Index, st.Name)
		if !rng.Contains(st.Index) {
			log.Debug("stage not selected")
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if st.NeedsFeatures && !featuresChecked {
			if err := l.CheckFeatures(); err != nil {
				return err
			}
			featuresChecked = true
		}

		log.Info("stage started")
		start := time.Now()
		if err := st.Run(ctx, run, l); err != nil {
			return fmt.Errorf("stage %d (%s): %w", st.Index, st.Name, err)
		}
		log.WithField("elapsed", time.Since(start).Round(time.Second).String()).Info("stage finished")
	}
	return nil
}

// Deps are the stage implementations of the standard pipeline.
type Deps struct {
	Fetcher   *fetch.Fetcher
	Verifier  *evaluate.Verifier
	Extractor *codebook.Extractor
	Trainer   *train.Trainer
	Evaluator *evaluate.Evaluator
}

// Standard returns the five stages fetch, verify, extract, train and
// evaluate.
func Standard(d Deps) []Stage {
	return []Stage{
		{Index: StageFetch, Name: "fetch", Run: func(ctx context.Context, run *config.Run, l *layout.Layout) error {
			_, err := d.Fetcher.Fetch(ctx, run, l)
			return err
		}},
		{Index: StageVerify, Name: "verify", Run: d.Verifier.Run, NeedsFeatures: true},
		{Index: StageExtract, Name: "extract", Run: d.Extractor.Run, NeedsFeatures: true},
		{Index: StageTrain, Name: "train", Run: d.Trainer.Run, NeedsFeatures: true},
		{Index: StageEvaluate, Name: "evaluate", Run: d.Evaluator.Run, NeedsFeatures: true},
	}
}

// StageNames returns the stage names of the standard pipeline by index.
func StageNames() []string {
	return []string{"fetch", "verify", "extract", "train", "evaluate"}
}
