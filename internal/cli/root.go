// Package cli implements the pdsactl command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-pdsa/internal/client"
	"github.com/kubilitics/kubilitics-pdsa/internal/version"
)

type app struct {
	apiURL  string
	timeout time.Duration
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewRootCommand builds pdsactl wired to the process streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{
		stdin:  in,
		stdout: out,
		stderr: errOut,
	}

	cmd := &cobra.Command{
		Use:           "pdsactl",
		Short:         "Predictive downtime and smart alerts",
		Long:          "pdsactl generates sample telemetry, trains the risk and anomaly models, scores records and shows prioritized alerts from a pdsa-server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}

	cmd.PersistentFlags().StringVar(&a.apiURL, "api-url", defaultAPIURL(), "pdsa-server base URL (env PDSA_API_URL or API_URL)")
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 60*time.Second, "HTTP request timeout")

	cmd.AddCommand(
		newSeedCmd(),
		newTrainCmd(a),
		newPredictCmd(a),
		newAlertsCmd(a),
		newDashboardCmd(a),
		newVersionCmd(),
	)

	cmd.SetVersionTemplate(fmt.Sprintf("pdsactl {{.Version}} (commit %s, built %s)\n", version.Commit, version.BuildDate))
	cmd.SetErrPrefix("pdsactl: ")
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	return cmd
}

func defaultAPIURL() string {
	for _, key := range []string{"PDSA_API_URL", "API_URL"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return client.DefaultBaseURL
}

func (a *app) client() *client.Client {
	return client.New(a.apiURL, a.timeout)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show pdsactl build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "pdsactl %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
			return nil
		},
	}
}
