package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-pdsa/internal/dashboard"
	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

func newAlertsCmd(a *app) *cobra.Command {
	var (
		dataset  string
		output   string
		priority string
		actions  bool
	)
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show prioritized alerts for a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), output)
			if err != nil {
				return err
			}
			want := strings.ToUpper(strings.TrimSpace(priority))
			switch want {
			case "", "GREEN", "YELLOW", "RED":
			default:
				return fmt.Errorf("unknown priority %q (use GREEN, YELLOW or RED)", priority)
			}

			resp, err := a.client().Alerts(cmd.Context(), dataset)
			if err != nil {
				return fmt.Errorf("fetching alerts failed: %w", err)
			}
			resp.Alerts = filterAlerts(resp.Alerts, want)

			if p.structured() {
				return p.Encode(resp)
			}
			if len(resp.Alerts) == 0 {
				p.Printf("No alerts.\n")
			} else if err := p.Table(
				[]string{"TIMESTAMP", "PRIORITY", "RISK_SCORE", "ANOMALY", "SUMMARY"},
				alertRows(resp.Alerts),
			); err != nil {
				return err
			}
			if actions {
				for _, item := range resp.Alerts {
					if item.Priority == "GREEN" {
						continue
					}
					p.Printf("\n%s - %s\n", item.Timestamp, item.Priority)
					for _, step := range item.RecommendedActions {
						p.Printf("  - %s\n", step)
					}
				}
			}
			p.Printf("\nTotals: RED=%d YELLOW=%d GREEN=%d\n", resp.Totals["RED"], resp.Totals["YELLOW"], resp.Totals["GREEN"])
			return nil
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "CSV path on the server (default: server's data.alerts_path)")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, json or yaml")
	cmd.Flags().StringVar(&priority, "priority", "", "only show alerts of this priority")
	cmd.Flags().BoolVar(&actions, "actions", false, "print recommended actions for YELLOW and RED alerts")
	return cmd
}

// filterAlerts keeps alerts of the given priority. Totals are left as the
// server reported them.
func filterAlerts(items []types.AlertItem, priority string) []types.AlertItem {
	if priority == "" {
		return items
	}
	out := make([]types.AlertItem, 0, len(items))
	for _, item := range items {
		if item.Priority == priority {
			out = append(out, item)
		}
	}
	return out
}

func alertRows(items []types.AlertItem) [][]string {
	rows := make([][]string, len(items))
	for i, item := range items {
		rows[i] = []string{
			item.Timestamp,
			item.Priority,
			strconv.FormatFloat(item.RiskScore, 'f', 4, 64),
			strconv.FormatBool(item.Anomaly),
			item.Summary,
		}
	}
	return rows
}

func newDashboardCmd(a *app) *cobra.Command {
	var (
		dataset string
		refresh time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Launch the interactive alerts dashboard",
		Long:  "Launch the terminal dashboard: backend health, alert totals per priority, the alerts table and the recommended actions for the selected alert. Press t to train, r to refresh and q to quit.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c := a.client()
			return dashboard.Run(dashboard.Options{
				API:     c,
				BaseURL: c.BaseURL(),
				Dataset: dataset,
				Refresh: refresh,
			})
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "CSV path on the server for train and alerts")
	cmd.Flags().DurationVar(&refresh, "refresh", dashboard.DefaultRefresh, "auto-refresh interval, 0 to disable")
	return cmd
}
