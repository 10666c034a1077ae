package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-hotspots/internal/api"
	"github.com/miradorstack/mirador-hotspots/internal/models"
)

var (
	opJob         string
	opSource      string
	opLogName     string
	opRecordsFile string
	opStart       string
	opEnd         string
	opMaxRecords  int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check availability of the engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *api.Client) error {
			out, err := client.Ping(ctx)
			if err != nil {
				return err
			}
			if IsJSONOutput() {
				return printJSON(out)
			}
			fields := out.GetFields()
			fmt.Printf("%s is up (utc %s)\n", fields["service"].GetStringValue(), fields["utcnow"].GetStringValue())
			return nil
		})
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Queue training of one or all dynamic models",
	Long: `Queue training of a single job, or of every dynamic job with --job all.
Training data comes from the telemetry logs, from a records file (--source request)
or from the built-in labelled datasets (--source test_dataset).`,
	RunE: runTrain,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect anomalies with one or all models",
	Long: `Run detection synchronously and print the anomalies. Detection through the CLI
never moves the engine's checkpoint and never sends alerts.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(pingCmd, trainCmd, detectCmd)
	for _, c := range []*cobra.Command{trainCmd, detectCmd} {
		c.Flags().StringVar(&opJob, "job", models.AllJobs, "job name, or all (logs only)")
		c.Flags().StringVar(&opSource, "source", string(models.DataSourceLogs), "data source: logs, request or test_dataset")
		c.Flags().StringVar(&opLogName, "log-name", "", "log the records were copied from (request source)")
		c.Flags().StringVar(&opRecordsFile, "records", "", "JSON file holding an array of log records (request source)")
		c.Flags().StringVar(&opStart, "start", "", "window start, RFC3339 (logs source)")
		c.Flags().StringVar(&opEnd, "end", "", "window end, RFC3339 (logs source)")
		c.Flags().IntVar(&opMaxRecords, "max-records", 0, "maximum number of log records to use")
	}
}

func operationRequest() (*structpb.Struct, error) {
	req := models.OperationRequest{
		Job:        opJob,
		Source:     models.DataSource(opSource),
		LogName:    opLogName,
		MaxRecords: opMaxRecords,
	}
	var err error
	if opStart != "" {
		if req.TimeRange.Start, err = time.Parse(time.RFC3339, opStart); err != nil {
			return nil, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if opEnd != "" {
		if req.TimeRange.End, err = time.Parse(time.RFC3339, opEnd); err != nil {
			return nil, fmt.Errorf("invalid --end: %w", err)
		}
	}
	if opRecordsFile != "" {
		data, err := os.ReadFile(opRecordsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read records: %w", err)
		}
		if err := json.Unmarshal(data, &req.Data); err != nil {
			return nil, fmt.Errorf("failed to parse records: %w", err)
		}
	}
	return api.ToStructOperationRequest(req)
}

func runTrain(cmd *cobra.Command, args []string) error {
	req, err := operationRequest()
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, client *api.Client) error {
		out, err := client.Train(ctx, req)
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(out)
		}
		fields := out.GetFields()
		fmt.Printf("Training %s (task %s)\n", fields["status"].GetStringValue(), fields["task_id"].GetStringValue())
		for _, name := range fields[api.FieldJobs].GetListValue().GetValues() {
			fmt.Printf("  - %s\n", name.GetStringValue())
		}
		return nil
	})
}

func runDetect(cmd *cobra.Command, args []string) error {
	req, err := operationRequest()
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, client *api.Client) error {
		out, err := client.Detect(ctx, req)
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(out)
		}
		list := out.GetFields()[api.FieldAnomalies].GetListValue().GetValues()
		if len(list) == 0 {
			fmt.Println("No anomalies")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Job", "Time", "Confidence", "Description")
		for _, item := range list {
			a := item.GetStructValue().GetFields()
			ts := time.Unix(int64(a["time"].GetNumberValue()), 0).UTC()
			table.Append(
				a["job"].GetStringValue(),
				ts.Format(time.RFC3339),
				fmt.Sprintf("%.2f", a["confidence"].GetNumberValue()),
				a["description"].GetStringValue(),
			)
		}
		table.Render()
		fmt.Printf("\nTotal anomalies: %d\n", len(list))
		return nil
	})
}
