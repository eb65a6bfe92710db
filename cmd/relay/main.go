// Relay CLI — выполнение flows локально и управление flows и runs
// через HTTP API.
//
// Использование:
//
//	relay [--config FILE] [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	run       Выполнить flow из файла локально
//	validate  Проверить файлы flow
//	graph     Показать граф передач flow
//	flow      Управление flows
//	runs      Управление runs
//	config    Пример файла конфигурации
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/relay/internal/cli"
	"github.com/shaiso/relay/internal/config"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var (
		configPath string
		apiURL     string
		jsonOutput bool
		cfg        = config.Default()
	)

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay CLI — task queue flows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = *loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API server URL (default from config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client {
		if apiURL != "" {
			return cli.NewClient(apiURL)
		}
		return cli.NewClient(cfg.CLI.APIURL)
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRunFileCmd(outputFn),
		cli.NewValidateCmd(outputFn),
		cli.NewGraphCmd(outputFn),
		cli.NewFlowCmd(clientFn, outputFn),
		cli.NewRunsCmd(clientFn, outputFn),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newConfigCmd() *cobra.Command {
	var write string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print or write a sample config file",
		// Пример нужен и тогда, когда текущий файл конфигурации сломан
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if write == "" {
				_, err := cmd.OutOrStdout().Write(config.Sample())
				return err
			}
			if err := config.CreateSample(write); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Sample config written to %s\n", write)
			return nil
		},
	}

	cmd.Flags().StringVar(&write, "write", "", "Write the sample to this path instead of stdout")

	return cmd
}
