package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/benchctl/internal/benchmodel"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Start, inspect, and control benchmarks",
}

var benchDefFile string

var benchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a benchmark from a definition file",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(benchDefFile)
		if err != nil {
			return fmt.Errorf("reading definition file: %w", err)
		}
		var def benchmodel.BenchmarkDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return fmt.Errorf("parsing definition file: %w", err)
		}

		data, status, err := apiRequest("POST", "/_bench", def)
		if err != nil {
			return err
		}
		exitOnError(data, status)

		if outputJSON {
			printJSON(data)
			return nil
		}
		var ack struct {
			BenchmarkID string `json:"benchmark_id"`
			State       string `json:"state"`
		}
		json.Unmarshal(data, &ack)
		fmt.Printf("Benchmark %s accepted (%s)\n", ack.BenchmarkID, ack.State)
		return nil
	},
}

var benchPatterns []string

var benchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List benchmarks matching zero or more glob patterns (default: all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/_bench"
		for i, p := range benchPatterns {
			sep := "?"
			if i > 0 {
				sep = "&"
			}
			path += sep + "pattern=" + p
		}
		data, status, err := apiRequest("GET", path, nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)

		if outputJSON {
			printJSON(data)
			return nil
		}
		var statuses []benchmodel.Status
		json.Unmarshal(data, &statuses)
		printStatusTable(statuses)
		return nil
	},
}

var benchStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show a single benchmark's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, status, err := apiRequest("GET", "/_bench/"+args[0], nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)

		if outputJSON {
			printJSON(data)
			return nil
		}
		var st benchmodel.Status
		json.Unmarshal(data, &st)
		printStatusTable([]benchmodel.Status{st})
		return nil
	},
}

var benchPauseCmd = &cobra.Command{
	Use:   "pause <name>",
	Short: "Pause a running benchmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, status, err := apiRequest("POST", "/_bench/pause/"+args[0], nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)
		if outputJSON {
			printJSON(data)
			return nil
		}
		fmt.Printf("Benchmark %s paused\n", args[0])
		return nil
	},
}

var benchResumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Resume a paused benchmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, status, err := apiRequest("POST", "/_bench/resume/"+args[0], nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)
		if outputJSON {
			printJSON(data)
			return nil
		}
		fmt.Printf("Benchmark %s resumed\n", args[0])
		return nil
	},
}

var benchAbortCmd = &cobra.Command{
	Use:   "abort <name>",
	Short: "Abort a benchmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, status, err := apiRequest("POST", "/_bench/abort/"+args[0], nil)
		if err != nil {
			return err
		}
		exitOnError(data, status)
		if outputJSON {
			printJSON(data)
			return nil
		}
		fmt.Printf("Benchmark %s aborted\n", args[0])
		return nil
	},
}

func printStatusTable(statuses []benchmodel.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BENCHMARK\tSTATE\tNODES\tUPDATED")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.BenchmarkID, s.State, len(s.NodeStateMap), s.UpdatedAt.Format("15:04:05"))
	}
	w.Flush()
}

func init() {
	benchStartCmd.Flags().StringVar(&benchDefFile, "file", "", "Path to a JSON benchmark definition")
	benchStartCmd.MarkFlagRequired("file")
	benchListCmd.Flags().StringSliceVar(&benchPatterns, "pattern", nil, "Glob pattern to filter by benchmark_id (repeatable)")

	cmds := []*cobra.Command{benchStartCmd, benchListCmd, benchStatusCmd, benchPauseCmd, benchResumeCmd, benchAbortCmd}
	addClientFlags(cmds...)
	benchCmd.AddCommand(cmds...)
	rootCmd.AddCommand(benchCmd)
}
