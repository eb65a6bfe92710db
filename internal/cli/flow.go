package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// remote связывает команды, работающие через API, с клиентом и выводом.
// Функции вызываются при запуске команды: флаги к этому моменту разобраны.
type remote struct {
	client func() *Client
	output func() *Output
}

type remoteFunc func(cmd *cobra.Command, args []string, c *Client, out *Output) error

func (r remote) run(fn remoteFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return fn(cmd, args, r.client(), r.output())
	}
}

var (
	flowHeaders    = []string{"ID", "NAME", "ACTIVE", "CREATED"}
	versionHeaders = []string{"FLOW_ID", "VERSION", "CREATED"}
)

func flowRow(f *FlowResponse) []string {
	return []string{f.ID, f.Name, strconv.FormatBool(f.IsActive), f.CreatedAt}
}

func versionRow(v *FlowVersionResponse) []string {
	return []string{v.FlowID, strconv.Itoa(v.Version), v.CreatedAt}
}

func printFlow(out *Output, f *FlowResponse) {
	out.Print(flowHeaders, [][]string{flowRow(f)}, f)
}

// NewFlowCmd создаёт группу команд flow.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	r := remote{client: clientFn, output: outputFn}

	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all flows",
			RunE:  r.run(listFlows),
		},
		r.flowCreateCmd(),
		&cobra.Command{
			Use:   "get ID",
			Short: "Show flow details",
			Args:  cobra.ExactArgs(1),
			RunE:  r.run(getFlow),
		},
		&cobra.Command{
			Use:   "push NAME FILE",
			Short: "Create a flow or publish a new version from spec file",
			Args:  cobra.ExactArgs(2),
			RunE:  r.run(pushFlow),
		},
		r.flowUpdateCmd(),
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a flow",
			Args:  cobra.ExactArgs(1),
			RunE:  r.run(deleteFlow),
		},
		&cobra.Command{
			Use:   "versions FLOW_ID",
			Short: "List flow versions",
			Args:  cobra.ExactArgs(1),
			RunE:  r.run(listVersions),
		},
	)
	return cmd
}

func listFlows(cmd *cobra.Command, _ []string, c *Client, out *Output) error {
	flows, err := c.ListFlows(cmd.Context())
	if err != nil {
		return err
	}

	rows := make([][]string, len(flows))
	for i := range flows {
		rows[i] = flowRow(&flows[i])
	}
	out.Print(flowHeaders, rows, flows)
	return nil
}

func (r remote) flowCreateCmd() *cobra.Command {
	var name, specFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new flow",
		RunE: r.run(func(cmd *cobra.Command, _ []string, c *Client, out *Output) error {
			req := CreateFlowRequest{Name: name}
			if specFile != "" {
				spec, err := readSpecFile(specFile)
				if err != nil {
					return err
				}
				req.Spec = spec
			}

			f, err := c.CreateFlow(cmd.Context(), req)
			if err != nil {
				return err
			}
			out.Success("Flow created: " + f.ID)
			printFlow(out, f)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "Flow name (required)")
	cmd.Flags().StringVar(&specFile, "spec-file", "", "Path to spec JSON file (becomes version 1)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func getFlow(cmd *cobra.Command, args []string, c *Client, out *Output) error {
	f, err := c.GetFlow(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printFlow(out, f)
	return nil
}

// pushFlow публикует spec под именем flow: создаёт flow, если его
// нет, иначе добавляет версию.
func pushFlow(cmd *cobra.Command, args []string, c *Client, out *Output) error {
	name, file := args[0], args[1]

	spec, err := readSpecFile(file)
	if err != nil {
		return err
	}

	existing, err := c.FindFlow(cmd.Context(), name)
	if err != nil {
		return err
	}

	if existing == nil {
		f, err := c.CreateFlow(cmd.Context(), CreateFlowRequest{Name: name, Spec: spec})
		if err != nil {
			return err
		}
		out.Success(fmt.Sprintf("Flow created: %s (version %d)", f.ID, f.Version))
		printFlow(out, f)
		return nil
	}

	v, err := c.CreateVersion(cmd.Context(), existing.ID, spec)
	if err != nil {
		return err
	}
	out.Success(fmt.Sprintf("Version %d published for flow %s", v.Version, v.FlowID))
	out.Print(versionHeaders, [][]string{versionRow(v)}, v)
	return nil
}

func (r remote) flowUpdateCmd() *cobra.Command {
	var (
		name   string
		active bool
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a flow",
		Args:  cobra.ExactArgs(1),
		RunE: r.run(func(cmd *cobra.Command, args []string, c *Client, out *Output) error {
			var req UpdateFlowRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("active") {
				req.IsActive = &active
			}
			if req.Name == nil && req.IsActive == nil {
				return errors.New("nothing to update: set --name or --active")
			}

			f, err := c.UpdateFlow(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			out.Success("Flow updated")
			printFlow(out, f)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "New flow name")
	cmd.Flags().BoolVar(&active, "active", true, "Set active status (--active=false to deactivate)")
	return cmd
}

func deleteFlow(cmd *cobra.Command, args []string, c *Client, out *Output) error {
	if err := c.DeleteFlow(cmd.Context(), args[0]); err != nil {
		return err
	}
	out.Success("Flow deleted: " + args[0])
	return nil
}

func listVersions(cmd *cobra.Command, args []string, c *Client, out *Output) error {
	versions, err := c.ListVersions(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	rows := make([][]string, len(versions))
	for i := range versions {
		rows[i] = versionRow(&versions[i])
	}
	out.Print(versionHeaders, rows, versions)
	return nil
}

// readSpecFile читает spec и проверяет только синтаксис JSON.
// Остальное проверяет API.
func readSpecFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("spec file %s is not valid JSON", path)
	}
	return data, nil
}
