package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubilitics/kubilitics-pdsa/internal/telemetry"
	"github.com/kubilitics/kubilitics-pdsa/pkg/types"
)

func newTrainCmd(a *app) *cobra.Command {
	var dataset string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the risk and anomaly models on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.client().Train(cmd.Context(), dataset)
			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Models %s on %d samples\n", resp.Status, resp.Samples)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "training CSV path on the server (default: server's data.train_path)")
	return cmd
}

func newPredictCmd(a *app) *cobra.Command {
	var (
		file   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score telemetry records read from a JSON or CSV file",
		Long: `Score telemetry records against the trained models.

Records are read from --file, or stdin when --file is "-" or empty. JSON input
may be an array of records or an object with a "records" array. Files ending
in .csv use the dataset column layout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), output)
			if err != nil {
				return err
			}
			records, err := readRecords(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			resp, err := a.client().Predict(cmd.Context(), records)
			if err != nil {
				return fmt.Errorf("prediction failed: %w", err)
			}
			if p.structured() {
				return p.Encode(resp)
			}
			rows := make([][]string, len(resp.RiskScores))
			for i, score := range resp.RiskScores {
				ts := ""
				if i < len(records) {
					ts = records[i].Timestamp
				}
				anomaly := "no"
				if i < len(resp.AnomalyFlags) && resp.AnomalyFlags[i] == 1 {
					anomaly = "yes"
				}
				rows[i] = []string{strconv.Itoa(i), ts, strconv.FormatFloat(score, 'f', 4, 64), anomaly}
			}
			return p.Table([]string{"INDEX", "TIMESTAMP", "RISK_SCORE", "ANOMALY"}, rows)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `records file, "-" for stdin`)
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, json or yaml")
	return cmd
}

func readRecords(path string, stdin io.Reader) ([]types.LogRecord, error) {
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		recs, err := telemetry.LoadCSV(path)
		if err != nil {
			return nil, err
		}
		return fromTelemetry(recs), nil
	}

	var (
		raw []byte
		err error
	)
	if path == "" || path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return decodeRecords(raw)
}

// decodeRecords accepts a bare JSON array or a {"records": [...]} object.
func decodeRecords(raw []byte) ([]types.LogRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("no records provided")
	}
	var records []types.LogRecord
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	} else {
		var req types.PredictRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		records = req.Records
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no records provided")
	}
	return records, nil
}

func fromTelemetry(in []telemetry.Record) []types.LogRecord {
	out := make([]types.LogRecord, len(in))
	for i, r := range in {
		out[i] = types.LogRecord{
			Timestamp: r.Timestamp,
			CPU:       r.CPU,
			Memory:    r.Memory,
			DiskIO:    r.DiskIO,
			NetIO:     r.NetIO,
			Errors:    r.Errors,
		}
	}
	return out
}
