package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/addrscore/internal/version"
)

// errScoreFailed marks a score run whose result was a Failure. The result
// itself is already on stdout.
var errScoreFailed = errors.New("score failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errScoreFailed) {
			fmt.Fprintln(os.Stderr, version.Name+":", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   version.Name,
		Short: "Classify blockchain addresses as illicit or licit",
		Long: `addrscore scores a blockchain address from 66 numeric features with an
embedded ONNX classifier. An address is illicit when the classifier's
probability for the illicit class is at least 0.5.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newScoreCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build metadata",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n",
				version.Name, version.Version, version.Commit, version.Date)
		},
	}
}
