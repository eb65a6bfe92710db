package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/flow"
	"github.com/shaiso/relay/internal/mq"
	"github.com/shaiso/relay/internal/repo"
	"github.com/shaiso/relay/internal/steps"
	"github.com/shaiso/relay/internal/telemetry"
)

var (
	// ErrFlowFailed — локальный запуск закончился с ошибкой или был отменён.
	ErrFlowFailed = errors.New("flow failed")

	// ErrInvalidFlowFiles — хотя бы один файл не прошёл проверку.
	ErrInvalidFlowFiles = errors.New("invalid flow files")
)

// NewRunFileCmd создаёт команду локального выполнения flow из файла.
func NewRunFileCmd(outputFn func() *Output) *cobra.Command {
	var (
		inputs     []string
		inputsFile string
		timeout    time.Duration
		logLevel   string
		dbURL      string
		amqpURL    string
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a flow spec locally",
		Long: `Execute a flow spec locally and print the report.

Steps sql, publish and await are available only when --db-url or
--amqp-url is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			logger := telemetry.NewLogger(cmd.ErrOrStderr(), telemetry.ParseLevel(logLevel), "text")

			values, err := parseInputs(inputs, inputsFile)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read flow file: %w", err)
			}

			deps, closeDeps, err := connectDeps(ctx, dbURL, amqpURL, logger)
			if err != nil {
				return err
			}
			defer closeDeps()

			registry := steps.ServiceRegistry(deps)
			spec, err := flow.Parse(data, registry)
			if err != nil {
				return err
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			builder := flow.NewBuilder(flow.BuilderConfig{Registry: registry, Logger: logger})
			report, err := flow.Execute(ctx, builder, spec, values)
			if err != nil {
				return err
			}

			printReport(out, report)

			switch report.Status {
			case domain.RunStatusFailed, domain.RunStatusCancelled:
				return fmt.Errorf("%w: status %s", ErrFlowFailed, report.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable, JSON values allowed)")
	cmd.Flags().StringVar(&inputsFile, "inputs-file", "", "Path to JSON file with input values")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Run timeout (0 — no timeout)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "PostgreSQL URL for sql steps")
	cmd.Flags().StringVar(&amqpURL, "amqp-url", "", "RabbitMQ URL for publish and await steps")

	return cmd
}

// NewValidateCmd создаёт команду проверки файлов flow.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate flow spec files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			results := ValidateFiles(cmd.Context(), args)

			invalid := 0
			rows := make([][]string, len(results))
			for i, r := range results {
				status := "ok"
				if r.Error != "" {
					status = "invalid"
					invalid++
				}
				rows[i] = []string{r.File, status, strconv.Itoa(r.Queues), r.Error}
			}

			out.Print([]string{"FILE", "STATUS", "QUEUES", "ERROR"}, rows, results)

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d", ErrInvalidFlowFiles, invalid, len(results))
			}
			return nil
		},
	}
}

// ValidationResult — итог проверки одного файла.
type ValidationResult struct {
	File   string `json:"file"`
	Valid  bool   `json:"valid"`
	Queues int    `json:"queues"`
	Error  string `json:"error,omitempty"`
}

// ValidateFiles параллельно проверяет файлы flow.
// Результаты идут в порядке files.
func ValidateFiles(ctx context.Context, files []string) []ValidationResult {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]ValidationResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, file := range files {
		g.Go(func() error {
			results[i] = validateFile(ctx, file)
			return nil
		})
	}
	g.Wait()

	return results
}

func validateFile(ctx context.Context, file string) ValidationResult {
	res := ValidationResult{File: file}

	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}

	spec, err := loadSpec(file)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Valid = true
	res.Queues = len(spec.Queues)
	return res
}

// GraphInfo — граф передач flow.
type GraphInfo struct {
	Entry       string      `json:"entry"`
	Order       []string    `json:"order"`
	Edges       []flow.Edge `json:"edges"`
	Unreachable []string    `json:"unreachable,omitempty"`
}

// NewGraphCmd создаёт команду вывода графа передач.
func NewGraphCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "graph FILE",
		Short: "Show the transfer graph of a flow spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			info, err := LoadGraph(args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(info)
				return nil
			}

			rows := make([][]string, len(info.Edges))
			for i, e := range info.Edges {
				rows[i] = []string{e.From, e.To, e.Task, e.On}
			}

			out.Success(fmt.Sprintf("Entry: %s", info.Entry))
			out.Table([]string{"FROM", "TO", "TASK", "ON"}, rows)
			if len(info.Unreachable) > 0 {
				out.Success("Unreachable: " + strings.Join(info.Unreachable, ", "))
			}
			return nil
		},
	}
}

// LoadGraph читает файл flow и строит граф передач.
func LoadGraph(file string) (*GraphInfo, error) {
	spec, err := loadSpec(file)
	if err != nil {
		return nil, err
	}

	graph, err := flow.BuildGraph(spec)
	if err != nil {
		return nil, err
	}

	entry := spec.EntryQueue()
	info := &GraphInfo{
		Entry:       entry,
		Edges:       graph.Edges(),
		Unreachable: graph.Unreachable(entry),
	}
	for _, n := range graph.Order {
		info.Order = append(info.Order, n.ID)
	}
	return info, nil
}

func loadSpec(file string) (*domain.FlowSpec, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return flow.Parse(data, steps.KnownTypes{})
}

// connectDeps подключает БД и брокер для шагов sql, publish и await.
func connectDeps(ctx context.Context, dbURL, amqpURL string, logger *slog.Logger) (steps.Deps, func(), error) {
	var (
		deps    steps.Deps
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dbURL != "" {
		pool, err := repo.NewPool(ctx, dbURL)
		if err != nil {
			return deps, nil, err
		}
		closers = append(closers, pool.Close)
		deps.DB = pool
	}

	if amqpURL != "" {
		conn, err := mq.NewConnection(amqpURL, "relay-cli", logger)
		if err != nil {
			closeAll()
			return deps, nil, err
		}
		closers = append(closers, func() { conn.Close() })

		if err := mq.SetupTopology(ctx, conn); err != nil {
			closeAll()
			return deps, nil, err
		}
		deps.Publisher = mq.NewPublisher(conn, logger)
		deps.Sources = mq.NewSources(conn, logger)
	}

	return deps, closeAll, nil
}

// parseInputs собирает входные параметры из файла и пар KEY=VALUE.
// Значение, похожее на JSON, разбирается ("10" → 10); пары перекрывают файл.
func parseInputs(pairs []string, file string) (map[string]any, error) {
	inputs := make(map[string]any)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read inputs file: %w", err)
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("inputs file is not a JSON object: %w", err)
		}
	}

	for _, kv := range pairs {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		inputs[key] = v
	}

	return inputs, nil
}

// printReport выводит отчёт запуска.
func printReport(out *Output, report *flow.Report) {
	if out.JSONMode() {
		out.JSON(report)
		return
	}

	out.Table(
		[]string{"STATUS", "TERMINAL", "DURATION", "ERROR"},
		[][]string{{string(report.Status), report.Terminal, report.Duration.Round(time.Millisecond).String(), report.Error}},
	)

	queues := sortedKeys(report.Queues)
	queueRows := make([][]string, len(queues))
	for i, id := range queues {
		queueRows[i] = []string{id, string(report.Queues[id])}
	}
	out.Section("Queues", []string{"QUEUE", "STATUS"}, queueRows)

	tasks := sortedKeys(report.Result)
	resultRows := make([][]string, len(tasks))
	for i, name := range tasks {
		resultRows[i] = []string{name, compactJSON(report.Result[name])}
	}
	out.Section("Results", []string{"TASK", "RESULT"}, resultRows)

	messageRows := make([][]string, len(report.Messages))
	for i, m := range report.Messages {
		messageRows[i] = []string{m}
	}
	out.Section("Messages", []string{"MESSAGE"}, messageRows)

	errorRows := make([][]string, len(report.Errors))
	for i, e := range report.Errors {
		errorRows[i] = []string{e}
	}
	out.Section("Suppressed errors", []string{"ERROR"}, errorRows)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
