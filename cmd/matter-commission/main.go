// matter-commission drives the auto-commissioning engine against a
// simulated Matter device.
//
// Usage:
//
//	matter-commission run [--config commission.yaml] [--profile device.yaml] [--capture trace.cbor]
//	matter-commission capture dump trace.cbor [--flow ID] [--kind finish] [--stage SendNOC]
//
// The configuration file selects the fabric and the commissioning
// parameters; the profile describes the simulated device, including
// scripted latencies and failures. A capture file records every dispatched
// stage and can be replayed with "capture dump".
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

// Global flags
var (
	logLevel         string
	telemetryEnabled bool
	telemetryPretty  bool
)

var rootCmd = &cobra.Command{
	Use:   "matter-commission",
	Short: "Commission a simulated Matter device",
	Long: `matter-commission runs the Matter auto-commissioning flow against a
simulated device described by a YAML profile.

Examples:
  matter-commission run --profile bulb.yaml --config home.yaml
  matter-commission run --capture trace.cbor
  matter-commission capture dump trace.cbor --kind finish`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (disabled, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().BoolVar(&telemetryEnabled, "telemetry", false, "Export OpenTelemetry spans and metrics to stderr")
	rootCmd.PersistentFlags().BoolVar(&telemetryPretty, "telemetry-pretty", false, "Indent exported spans")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(captureCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
}

func newLoggerFactory(w io.Writer) (logging.LoggerFactory, error) {
	level, err := parseLogLevel(logLevel)
	if err != nil {
		return nil, err
	}
	return &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: level,
		ScopeLevels:     make(map[string]logging.LogLevel),
	}, nil
}
