package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-hotspots/internal/api"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Inspect and change job parameters",
}

var paramsGetCmd = &cobra.Command{
	Use:   "get [job]",
	Short: "Show the parameters of one or all jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := map[string]any{}
		if len(args) == 1 {
			fields[api.FieldJob] = args[0]
		}
		req, err := structpb.NewStruct(fields)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, client *api.Client) error {
			out, err := client.GetParameters(ctx, req)
			if err != nil {
				return err
			}
			return printParams(out)
		})
	},
}

var paramsSetCmd = &cobra.Command{
	Use:   "set <job> <name=value>...",
	Short: "Change job parameters",
	Long:  `Change detection parameters of a job, e.g. "hotspotctl params set bytes_in score_threshold=-4". Changes do not survive engine restarts.`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{}
		for _, pair := range args[1:] {
			name, value, ok := strings.Cut(pair, "=")
			if !ok || name == "" {
				return fmt.Errorf("invalid parameter %q, expected name=value", pair)
			}
			params[name] = parseParam(value)
		}
		req, err := structpb.NewStruct(map[string]any{api.FieldJob: args[0], api.FieldParams: params})
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, client *api.Client) error {
			out, err := client.SetParameters(ctx, req)
			if err != nil {
				return err
			}
			return printParams(out)
		})
	},
}

func init() {
	rootCmd.AddCommand(paramsCmd)
	paramsCmd.AddCommand(paramsGetCmd, paramsSetCmd)
}

func parseParam(value string) any {
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

func printParams(out *structpb.Struct) error {
	if IsJSONOutput() {
		return printJSON(out)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job", "Parameter", "Value")
	for _, item := range out.GetFields()[api.FieldJobs].GetListValue().GetValues() {
		entry := item.GetStructValue().GetFields()
		params := entry[api.FieldParams].GetStructValue().AsMap()
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			table.Append(entry[api.FieldJob].GetStringValue(), name, fmt.Sprint(params[name]))
		}
	}
	table.Render()
	return nil
}
