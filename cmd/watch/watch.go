package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/sthembisoo/airbrake-notifier/config"
	"github.com/sthembisoo/airbrake-notifier/notice"
	"github.com/sthembisoo/airbrake-notifier/notifier"
	"github.com/sthembisoo/airbrake-notifier/types"
	"github.com/sthembisoo/airbrake-notifier/utils/process"
)

var (
	flagDir       string
	flagComponent string
)

func NewCmdWatch() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch -- command [args...]",
		Short: "Run a command and report it to Airbrake if it fails",
		Long: `Run a command and report it to Airbrake if it fails.

The command inherits the terminal. When it exits with a non-zero status a
notice is sent whose request URL is cli://<host>/<command>?0=<arg>&1=<arg>...
and whose message carries the exit status and the tail of stderr.

Examples:
  # Report a failing cron job
  airbrake-notify watch -- /opt/jobs/backup.sh --full

  # Run in another directory and tag the component
  airbrake-notify watch --dir /srv/app --component migrations -- ./migrate up`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd.Context(), args)
		},
	}

	cmd.Flags().StringVarP(&flagDir, "dir", "d", ".", "Working directory for the command")
	cmd.Flags().StringVar(&flagComponent, "component", "", "Component of the request block")

	return cmd
}

func start(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dir, err := filepath.Abs(flagDir)
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}

	n, err := notifier.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}
	defer n.Close()

	result, runErr := process.Run(dir, args[0], args[1:])
	if runErr == nil && result.ExitCode == 0 {
		return nil
	}

	event := failureEvent(args, result, runErr)
	rc := failureContext(dir, args, result)

	outcome := n.Notify(ctx, event, rc)
	fmt.Fprintf(os.Stderr, "Reported failure of %s: notice %s\n", args[0], outcome)

	if runErr != nil {
		return runErr
	}
	return fmt.Errorf("%s exited with status %d", args[0], result.ExitCode)
}

func failureEvent(args []string, result process.Result, runErr error) types.ErrorEvent {
	event := types.ErrorEvent{
		Class:     "ExitError",
		File:      lo.CoalesceOrEmpty(result.Path, args[0]),
		Component: flagComponent,
	}

	if runErr != nil {
		event.Class = "StartError"
		event.Message = runErr.Error()
		return event
	}

	event.Message = fmt.Sprintf("%s exited with status %d", filepath.Base(args[0]), result.ExitCode)
	if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
		event.Message += ": " + stderr
	}
	return event
}

func failureContext(dir string, args []string, result process.Result) types.RequestContext {
	hostname, _ := os.Hostname()
	script := lo.CoalesceOrEmpty(result.Path, args[0])

	return types.RequestContext{
		URI:             notice.CLIURI(hostname, script, args),
		Component:       flagComponent,
		Action:          filepath.Base(args[0]),
		EnvironmentVars: notice.Environ(os.Environ()),
		ProjectRoot:     dir,
	}
}
