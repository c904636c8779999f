package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/addrscore"
)

// maxStdinBytes bounds a feature row read from stdin.
const maxStdinBytes = 1 << 20

func newScoreCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "score [csv|-]",
		Short: "Score one feature row and print the result as JSON",
		Long: `Scores one comma-separated row of 66 numbers, read from the argument or,
when it is absent or "-", from stdin. Prints {"Success":{...}} or
{"Failure":{...}} and exits 1 on Failure.

A row starting with a negative number must follow "--":
  addrscore score -- -0.5,1,...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			csv, err := readRow(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			opts := []addrscore.Option{addrscore.WithCacheSize(0)}
			if verbose {
				opts = append(opts, addrscore.WithLogger(slog.New(
					slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}),
				)))
			}
			client, err := addrscore.New(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			defer client.Close()

			res := client.PredictAddress(cmd.Context(), csv)
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			if res.Failure != nil {
				return errScoreFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log timing to stderr")
	return cmd
}

func readRow(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	b, err := io.ReadAll(io.LimitReader(stdin, maxStdinBytes))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
