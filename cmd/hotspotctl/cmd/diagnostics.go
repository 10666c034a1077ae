package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-hotspots/internal/api"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Run and inspect self-diagnostics",
}

var diagnosticsStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Queue a self-diagnostics pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *api.Client) error {
			out, err := client.StartSelfDiagnostics(ctx)
			if err != nil {
				return err
			}
			if IsJSONOutput() {
				return printJSON(out)
			}
			fmt.Printf("Self-diagnostics queued: %s\n", out.GetFields()[api.FieldID].GetStringValue())
			return nil
		})
	},
}

var diagnosticsResultCmd = &cobra.Command{
	Use:   "result [id]",
	Short: "Show a self-diagnostics result",
	Long: `Show a self-diagnostics result by id, or by index counted from the end:
-1 is the latest result, -2 the one before it. Unknown ids show the latest result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := "-1"
		if len(args) == 1 {
			id = args[0]
		}
		req, err := structpb.NewStruct(map[string]any{api.FieldID: id})
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, client *api.Client) error {
			out, err := client.GetSelfDiagnosticsResult(ctx, req)
			if err != nil {
				return err
			}
			if IsJSONOutput() {
				return printJSON(out)
			}
			printReport(out)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(diagnosticsCmd)
	diagnosticsCmd.AddCommand(diagnosticsStartCmd, diagnosticsResultCmd)
}

func printReport(report *structpb.Struct) {
	fields := report.GetFields()
	fmt.Printf("Self-diagnostics %s: %s\n", fields["id"].GetStringValue(), fields["result"].GetStringValue())

	fixture := fields["fixture_cycle"].GetStructValue().GetFields()
	live := fields["live_cycle"].GetStructValue().GetFields()
	scores := fixture["jobs"].GetStructValue().GetFields()
	detected := live["detected"].GetStructValue().GetFields()

	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job", "Result", "Precision", "Recall", "F1", "Live anomalies")
	for _, name := range names {
		s := scores[name].GetStructValue().GetFields()
		table.Append(
			name,
			s["result"].GetStringValue(),
			fmt.Sprintf("%.3f", s["precision"].GetNumberValue()),
			fmt.Sprintf("%.3f", s["recall"].GetNumberValue()),
			fmt.Sprintf("%.3f", s["f1"].GetNumberValue()),
			fmt.Sprintf("%d", int(detected[name].GetNumberValue())),
		)
	}
	table.Render()
	fmt.Printf("\nFixture cycle: %s\n", fixture["result"].GetStringValue())
	fmt.Printf("Live cycle: %s\n", live["result"].GetStringValue())
	if msg := live["error"].GetStringValue(); msg != "" {
		fmt.Printf("Live error: %s\n", msg)
	}
}
