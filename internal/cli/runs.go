package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var runHeaders = []string{"ID", "FLOW_ID", "VERSION", "STATUS", "TERMINAL", "CREATED"}

func runRow(r *RunResponse) []string {
	return []string{r.ID, r.FlowID, strconv.Itoa(r.Version), r.Status, r.TerminalQueue, r.CreatedAt}
}

// NewRunsCmd создаёт группу команд runs.
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	r := remote{client: clientFn, output: outputFn}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage runs",
	}
	cmd.AddCommand(
		r.runListCmd(),
		r.runStartCmd(),
		&cobra.Command{
			Use:   "get ID",
			Short: "Show run details",
			Args:  cobra.ExactArgs(1),
			RunE: r.run(func(cmd *cobra.Command, args []string, c *Client, out *Output) error {
				run, err := c.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printRun(out, run)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "cancel ID",
			Short: "Cancel a pending run",
			Args:  cobra.ExactArgs(1),
			RunE: r.run(func(cmd *cobra.Command, args []string, c *Client, out *Output) error {
				run, err := c.CancelRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out.Success("Run cancelled: " + run.ID)
				return nil
			}),
		},
	)
	return cmd
}

func (r remote) runListCmd() *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: r.run(func(cmd *cobra.Command, _ []string, c *Client, out *Output) error {
			runs, err := c.ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i := range runs {
				rows[i] = runRow(&runs[i])
			}
			out.Print(runHeaders, rows, runs)
			return nil
		}),
	}

	f := cmd.Flags()
	f.StringVar(&opts.FlowID, "flow-id", "", "Filter by flow ID")
	f.StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, STOPPED, CANCELLED)")
	f.IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	f.IntVar(&opts.Offset, "offset", 0, "Number of results to skip")
	return cmd
}

func (r remote) runStartCmd() *cobra.Command {
	var (
		req        CreateRunRequest
		version    int
		inputs     []string
		inputsFile string
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "start FLOW_ID",
		Short: "Start a new run",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, c *Client, out *Output) error {
			values, err := parseInputs(inputs, inputsFile)
			if err != nil {
				return err
			}
			if len(values) > 0 {
				req.Inputs = values
			}
			if cmd.Flags().Changed("version") {
				req.Version = &version
			}

			run, err := c.CreateRun(cmd.Context(), args[0], req, wait)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Run started: %s (%s)", run.ID, run.Status))
			printRun(out, run)
			return nil
		}),
	}

	f := cmd.Flags()
	f.IntVar(&version, "version", 0, "Flow version (latest if not specified)")
	f.StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable, JSON values allowed)")
	f.StringVar(&inputsFile, "inputs-file", "", "Path to JSON file with input values")
	f.StringVar(&req.IdempotencyKey, "idempotency-key", "", "Return the existing run for a repeated key")
	f.BoolVar(&wait, "wait", false, "Execute synchronously and return the finished run")
	return cmd
}

// printRun выводит run, а в табличном режиме ещё результаты задач
// и сообщения.
func printRun(out *Output, run *RunResponse) {
	headers := append(append([]string{}, runHeaders[:5]...), "ERROR", "CREATED")
	row := append(runRow(run)[:5], run.Error, run.CreatedAt)
	out.Print(headers, [][]string{row}, run)

	results := make([][]string, 0, len(run.Result))
	for _, name := range sortedKeys(run.Result) {
		results = append(results, []string{name, compactJSON(run.Result[name])})
	}
	out.Section("Results", []string{"TASK", "RESULT"}, results)

	messages := make([][]string, len(run.Messages))
	for i, m := range run.Messages {
		messages[i] = []string{m}
	}
	out.Section("Messages", []string{"MESSAGE"}, messages)

	errs := make([][]string, len(run.Errors))
	for i, e := range run.Errors {
		errs[i] = []string{e}
	}
	out.Section("Errors", []string{"ERROR"}, errs)
}
