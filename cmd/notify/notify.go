package notify

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sthembisoo/airbrake-notifier/config"
	"github.com/sthembisoo/airbrake-notifier/notice"
	"github.com/sthembisoo/airbrake-notifier/notifier"
	"github.com/sthembisoo/airbrake-notifier/transport"
	"github.com/sthembisoo/airbrake-notifier/types"
)

var (
	flagClass     string
	flagMessage   string
	flagFile      string
	flagLine      int
	flagComponent string
	flagAction    string
)

func NewCmdNotify() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a single notice to Airbrake",
		Long: `Send a single notice to Airbrake.

The notice is built from the flags and a snapshot of the current process
(hostname, arguments and environment) and delivered with the transport
selected by AIRBRAKE_TRANSPORT.

Examples:
  # Check that the API key and endpoint work
  airbrake-notify notify --message "deploy smoke test"

  # Report a failure from a shell script
  airbrake-notify notify --class BackupFailed --message "rsync exited 23" --component backup --action nightly`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&flagClass, "class", "c", "ManualNotice", "Error class reported to Airbrake")
	cmd.Flags().StringVarP(&flagMessage, "message", "m", "", "Error message (required)")
	cmd.Flags().StringVar(&flagFile, "file", "", "File reported as the fault site")
	cmd.Flags().IntVar(&flagLine, "line", 0, "Line reported as the fault site")
	cmd.Flags().StringVar(&flagComponent, "component", "", "Component of the request block")
	cmd.Flags().StringVar(&flagAction, "action", "", "Action of the request block")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	n, err := notifier.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	defer n.Close()

	rc := notice.CLIContext()
	rc.Component = flagComponent
	rc.Action = flagAction

	event := types.ErrorEvent{
		Class:   flagClass,
		Message: flagMessage,
		File:    flagFile,
		Line:    flagLine,
	}

	outcome := n.Notify(ctx, event, rc)
	if !outcome.Enqueued {
		if outcome.StatusCode == 0 {
			return fmt.Errorf("notice was not delivered")
		}
		if err := transport.Classify(outcome.StatusCode); err != nil {
			return fmt.Errorf("notice was rejected: %w", err)
		}
	}

	fmt.Printf("Notice %s\n", outcome)
	return nil
}
