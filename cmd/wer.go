package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/cbdistill/internal/evaluate"
)

var werCmd = &cobra.Command{
	Use:   "wer <recogs-file>...",
	Short: "Recompute the word error rate of decode.py recogs files",
	Long: `Score recogs-*.txt files written by decode.py. Words are compared after
Unicode NFKC normalization and case folding.`,
	Example: `  cbdistill wer pruned_transducer_stateless6/exp/modified_beam_search/recogs-test-clean-*.txt`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runWER,
}

func init() {
	rootCmd.AddCommand(werCmd)
}

func runWER(_ *cobra.Command, args []string) error {
	var failed int
	for _, path := range args {
		w, err := evaluate.ScoreRecogs(path)
		if err != nil {
			printErr(filepath.Base(path), err.Error())
			failed++
			continue
		}
		printOK(filepath.Base(path), fmt.Sprintf("%s over %d utterances", w, w.Utterances))
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be scored", failed)
	}
	return nil
}
