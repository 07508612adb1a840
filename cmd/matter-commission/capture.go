package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/backkem/matter-autocommissioner/pkg/capture"
	"github.com/backkem/matter-autocommissioner/pkg/commissioning"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Inspect commissioning traces",
}

var (
	dumpFlow  string
	dumpKind  string
	dumpStage string
)

var captureDumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print the events of a trace file",
	Long: `Print the events recorded with "run --capture", one per line.

Examples:
  matter-commission capture dump trace.cbor
  matter-commission capture dump trace.cbor --kind finish
  matter-commission capture dump trace.cbor --stage SendNOC`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := buildFilter(dumpFlow, dumpKind, dumpStage)
		if err != nil {
			return err
		}
		return dumpCapture(args[0], filter, cmd.OutOrStdout())
	},
}

func init() {
	captureDumpCmd.Flags().StringVar(&dumpFlow, "flow", "", "Only events of this flow id")
	captureDumpCmd.Flags().StringVar(&dumpKind, "kind", "", "Only events of this kind (dispatch, finish, complete)")
	captureDumpCmd.Flags().StringVar(&dumpStage, "stage", "", "Only events of this stage")

	captureCmd.AddCommand(captureDumpCmd)
}

func buildFilter(flow, kind, stage string) (capture.Filter, error) {
	f := capture.Filter{FlowID: flow}
	switch strings.ToLower(kind) {
	case "":
	case "dispatch":
		f.Kind = capture.KindDispatch
	case "finish":
		f.Kind = capture.KindFinish
	case "complete":
		f.Kind = capture.KindComplete
	default:
		return f, fmt.Errorf("unknown event kind %q", kind)
	}
	if stage != "" {
		if _, ok := commissioning.ParseStage(stage); !ok {
			return f, fmt.Errorf("unknown stage %q", stage)
		}
		f.Stage = stage
	}
	return f, nil
}

func dumpCapture(path string, filter capture.Filter, out io.Writer) error {
	r, err := capture.NewReader(path, filter)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintln(out, formatEvent(e))
	}
}

func formatEvent(e capture.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %-8s %s", e.Timestamp.Format("15:04:05.000"), shortID(e.FlowID), e.Kind, e.Stage)
	if e.Timeout > 0 {
		fmt.Fprintf(&b, " timeout=%s", e.Timeout)
	}
	if e.Err != "" {
		fmt.Fprintf(&b, " err=%q", e.Err)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " detail=%s", e.Detail)
	}
	if e.Absorbed {
		b.WriteString(" absorbed")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
