package cli

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-pdsa/internal/seed"
)

func newSeedCmd() *cobra.Command {
	var (
		out     string
		n       int
		seedVal int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write synthetic telemetry with periodic pre-failure bursts to a CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n <= 0 {
				return fmt.Errorf("--n must be positive, got %d", n)
			}
			if !cmd.Flags().Changed("seed") {
				seedVal = time.Now().UnixNano()
			}
			records := seed.Generate(n, seed.DefaultStart(n), rand.New(rand.NewSource(seedVal)))
			if err := seed.WriteFile(out, records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d rows to %s\n", len(records), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", filepath.Join("data", "sample_logs.csv"), "output CSV path")
	cmd.Flags().IntVar(&n, "n", 500, "number of rows, one per minute")
	cmd.Flags().Int64Var(&seedVal, "seed", 0, "random seed for reproducible output (default: time based)")
	return cmd
}
