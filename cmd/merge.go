package cmd

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/cbdistill/internal/codebook"
	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
)

var mergeSeed uint64

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the three training subsets into the shuffled full-corpus manifest",
	Long: `Merge train-clean-100, train-clean-360 and train-other-500 into
librispeech_cuts_train-all-shuf.jsonl.gz. Any existing combined manifest is
replaced. Stage 2 does this automatically when full_libri is set.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().Uint64Var(&mergeSeed, "seed", 0, "shuffle seed (0 picks a random one)")
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.FullLibri = true
	run, _, err := config.Resolve(cfg, os.Getenv)
	if err != nil {
		return err
	}
	l := layout.New(run)

	seed := mergeSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	n, err := codebook.MergeFullCorpus(run, l, rand.New(rand.NewPCG(seed, seed)))
	if err != nil {
		return err
	}
	printOK("", fmt.Sprintf("%d cuts written to %s (seed %d)", n, l.CombinedManifest(), seed))

	reports, err := codebook.Validate(l)
	if err != nil {
		printWarn("", err.Error())
		return nil
	}
	for _, rep := range reports {
		printOK("", fmt.Sprintf("all %d cuts reference existing codebook files", rep.Cuts))
	}
	return nil
}
