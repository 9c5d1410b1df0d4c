package codebook

import (
	"context"
	"fmt"
	"os"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/probe"
	"github.com/kamusis/cbdistill/internal/runner"
)

// DownloadModel is the only teacher whose codebook indexes are published.
const DownloadModel = config.HubertXtraLarge

// download clones the prepackaged codebook indexes into the staging
// directory and installs them into the manifest and splits directories.
func (e *Extractor) download(ctx context.Context, run *config.Run, l *layout.Layout) error {
	if run.TeacherModelID != DownloadModel {
		return fmt.Errorf("%w: codebook indexes are only published for %s, not %s; set use_extracted_codebook to false to compute them",
			config.ErrUnsupportedConfig, DownloadModel, run.TeacherModelID)
	}

	staging := l.StagingDir()
	if _, err := os.Stat(staging); err == nil {
		return fmt.Errorf("%w: %s; remove it first", ErrStagingExists, staging)
	}

	if err := e.Prober.RequireGitLFS(ctx); err != nil {
		return err
	}
	e.checkLhotse(ctx, run)

	log := e.Log.WithField("repo", run.Remote.CodebookRepo).WithField("staging", staging)
	log.Info("downloading extracted codebook indexes")

	cmds := []runner.Command{
		{Name: "git", Args: []string{"lfs", "install"}, Dir: l.Root()},
		{Name: "git", Args: []string{"clone", run.Remote.CodebookRepo, staging}, Dir: l.Root()},
	}
	for _, c := range cmds {
		if err := e.Runner.Run(ctx, c); err != nil {
			return err
		}
	}
	if e.DryRun {
		log.Info("dry-run: would install manifests and codebook indexes")
		return nil
	}

	manifests, err := layout.Install(staging, l.ManifestDir(), "*.jsonl.gz")
	if err != nil {
		return fmt.Errorf("installing manifests: %w", err)
	}
	indexes, err := layout.Install(staging, l.SplitsDir(), "*.h5")
	if err != nil {
		return fmt.Errorf("installing codebook indexes: %w", err)
	}
	if len(manifests.Installed)+manifests.Skipped == 0 || len(indexes.Installed)+indexes.Skipped == 0 {
		return fmt.Errorf("%w: %s holds no manifests or codebook indexes", layout.ErrMissingPrecondition, staging)
	}
	e.Log.WithField("manifests", len(manifests.Installed)).
		WithField("indexes", len(indexes.Installed)).
		WithField("skipped", manifests.Skipped+indexes.Skipped).
		Info("installed codebook indexes")

	log.Info("removing staging directory")
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("removing %s: %w", staging, err)
	}
	return nil
}

// checkLhotse warns when the installed lhotse is too old to read the
// published manifests. A missing or unreadable version is only logged.
func (e *Extractor) checkLhotse(ctx context.Context, run *config.Run) {
	want := run.Remote.MinLhotseVersion
	have, err := e.Prober.PythonModuleVersion(ctx, "lhotse")
	if err != nil {
		e.Log.WithError(err).Debug("lhotse version unknown")
		return
	}
	if !probe.VersionAtLeast(have, want) {
		e.Log.WithField("have", have).WithField("want", want).
			Warn("the published manifests need a newer lhotse; consider upgrading")
	}
}
