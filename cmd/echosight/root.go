package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/echosight/echosight/pkg/logging"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "echosight",
		Short: "Spoken scene descriptions from a camera and a vision-language server",
		Long: `EchoSight connects a camera to a remote vision-language inference server
and narrates what it sees, built for blind and low-vision users. It supports
one-shot analysis with prompt presets and a hands-free realtime mode.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Configure(&logging.Config{
				Level:  logLevel,
				Format: logFormat,
				Output: "stderr",
			})
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format (auto|json|console)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("echosight %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
