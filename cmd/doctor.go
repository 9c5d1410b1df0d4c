package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/fetch"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/probe"
	"github.com/kamusis/cbdistill/internal/runner"
)

// minFreeBytes is the free space below which doctor warns. The published
// codebook indexes of the full corpus alone take tens of gigabytes.
const minFreeBytes = 100 * 1000 * 1000 * 1000

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run pre-flight environment checks",
	Long: `Check that the tools, Python libraries and inputs the pipeline needs are
in place. Run this before the first 'cbdistill run' or when a stage fails
on a missing dependency.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

var doctorFixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Remove leftovers of interrupted runs",
	Long: `Fix detected issues in the experiment directory.

Currently fixes:
  - a codebook staging directory left by an interrupted download
  - partial *.tmp downloads next to the teacher model

Run 'cbdistill doctor' first to see what will be fixed.`,
	Args: cobra.NoArgs,
	RunE: runDoctorFix,
}

func init() {
	doctorCmd.AddCommand(doctorFixCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}

	printSection("cbdistill doctor")
	fmt.Println()

	// ── Check 1: config ───────────────────────────────────────────────────────
	fmt.Println("[ config ]")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	run, notes, err := config.Resolve(cfg, os.Getenv)
	if err != nil {
		failD("invalid config %s: %v", configPath, err)
		return fmt.Errorf("doctor found issues")
	}
	printOK("", fmt.Sprintf("%s: stages %d-%d, %s codebook indexes, teacher %s",
		configPath, run.Stage, run.StopStage, run.Source, run.TeacherModelID))
	for _, n := range notes {
		printWarn("", n)
	}
	fmt.Println()

	l := layout.New(run)
	r := runner.NewExec()
	prober := &probe.Prober{Runner: r, Python: run.Paths.Python}
	ctx := cmd.Context()

	// ── Check 2: tools ────────────────────────────────────────────────────────
	fmt.Println("[ tools ]")
	if err := prober.RequireTool(run.Paths.Python); err != nil {
		failD("%v", err)
	} else if out, err := r.Output(ctx, runner.Command{Name: run.Paths.Python, Args: []string{"--version"}}); err == nil {
		printOK("", strings.TrimSpace(out))
	}
	if run.Source == config.SourceDownload {
		if err := prober.RequireGitLFS(ctx); err != nil {
			failD("%v", err)
		} else {
			printOK("", "git and git-lfs available")
		}
	} else {
		printSkip("", "git-lfs not needed when computing codebook indexes")
	}
	fmt.Println()

	// ── Check 3: Python libraries ─────────────────────────────────────────────
	fmt.Println("[ Python libraries ]")
	checkPythonModules(ctx, prober, run, failD)
	fmt.Println()

	// ── Check 4: inputs ───────────────────────────────────────────────────────
	fmt.Println("[ inputs ]")
	if err := l.CheckFeatures(); err != nil {
		failD("%v", err)
	} else {
		printOK("", fmt.Sprintf("features: %s", l.FbankDir()))
	}
	for _, name := range []string{"train.py", "decode.py", "hubert_decode.py", "extract_codebook_index.py"} {
		if err := layout.RequireFile(l.Script(name), "recipe script"); err != nil {
			failD("%v", err)
		}
	}
	if _, err := os.Stat(l.StagingDir()); err == nil && run.Source == config.SourceDownload {
		failD("staging directory %s exists; run 'cbdistill doctor fix' to remove it", l.StagingDir())
	}
	fmt.Println()

	// ── Check 5: devices and disk ─────────────────────────────────────────────
	fmt.Println("[ resources ]")
	devices, err := config.GetConfigValue(config.DevicesEnv, envFile)
	if err != nil {
		printWarn("", err.Error())
	}
	if devices == "" {
		printWarn("", fmt.Sprintf("%s not set; training and extraction will use 1 worker", config.DevicesEnv))
	} else {
		printOK("", fmt.Sprintf("%s=%s (%d workers)", config.DevicesEnv, devices, config.WorkerCount(devices)))
	}
	if free, err := probe.FreeBytes(l.Root()); err != nil {
		printWarn("", fmt.Sprintf("cannot determine free disk space: %v", err))
	} else if free < minFreeBytes {
		printWarn("", fmt.Sprintf("only %s free under %s", humanize.Bytes(free), l.Root()))
	} else {
		printOK("", fmt.Sprintf("%s free under %s", humanize.Bytes(free), l.Root()))
	}
	fmt.Println()

	// ── Summary ───────────────────────────────────────────────────────────────
	fmt.Println("===================")
	if allOK {
		fmt.Println("✓  All checks passed. The pipeline is ready to run.")
	} else {
		fmt.Fprintln(os.Stderr, "✗  One or more checks failed. See details above.")
		return fmt.Errorf("doctor found issues")
	}
	return nil
}

// checkPythonModules reports each library the selected stages import.
func checkPythonModules(ctx context.Context, prober *probe.Prober, run *config.Run, failD func(string, ...any)) {
	modules := append([]string{}, fetch.RequiredModules...)
	modules = append(modules, "lhotse")
	for _, m := range modules {
		ok, err := prober.HasPythonModule(ctx, m)
		switch {
		case err != nil:
			failD("%v", err)
			return
		case !ok:
			failD("%s is not installed", m)
		default:
			printOK(m, "installed")
		}
	}
	if run.Source != config.SourceDownload {
		return
	}
	if v, err := prober.PythonModuleVersion(ctx, "lhotse"); err == nil && !probe.VersionAtLeast(v, run.Remote.MinLhotseVersion) {
		printWarn("lhotse", fmt.Sprintf("version %s is older than %s needed by the published manifests", v, run.Remote.MinLhotseVersion))
	}
}

func runDoctorFix(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	run, _, err := config.Resolve(cfg, os.Getenv)
	if err != nil {
		return err
	}
	l := layout.New(run)

	printSection("cbdistill doctor fix")

	// ── Fix: staging directory ────────────────────────────────────────────────
	fmt.Println("\n[ Codebook staging ]")
	var failed int
	if _, err := os.Stat(l.StagingDir()); os.IsNotExist(err) {
		printOK("", "no staging directory found — nothing to fix")
	} else if err := os.RemoveAll(l.StagingDir()); err != nil {
		printErr("", fmt.Sprintf("cannot delete %s: %v", l.StagingDir(), err))
		failed++
	} else {
		printOK("", fmt.Sprintf("deleted %s", l.StagingDir()))
	}

	// ── Fix: partial downloads ────────────────────────────────────────────────
	fmt.Println("\n[ Partial downloads ]")
	partial, _ := filepath.Glob(filepath.Join(l.HubertModelDir(), "*.tmp"))
	if len(partial) == 0 {
		printOK("", "no partial downloads found — nothing to fix")
	}
	for _, p := range partial {
		if err := os.Remove(p); err != nil {
			printErr("", fmt.Sprintf("cannot delete %s: %v", p, err))
			failed++
		} else {
			printOK("", fmt.Sprintf("deleted %s", p))
		}
	}

	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d item(s) could not be deleted", failed)
	}
	return nil
}
