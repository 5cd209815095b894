package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sthembisoo/airbrake-notifier/cmd/notify"
	"github.com/sthembisoo/airbrake-notifier/cmd/watch"
	"github.com/sthembisoo/airbrake-notifier/cmd/worker"
	"github.com/sthembisoo/airbrake-notifier/config"
)

var rootCmd = &cobra.Command{
	Use:           "airbrake-notify",
	Short:         "Report failures to Airbrake and deliver queued notices",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	config.SetupLogger(os.Getenv(config.Prefix + "_LOG_LEVEL"))

	rootCmd.AddCommand(notify.NewCmdNotify())
	rootCmd.AddCommand(watch.NewCmdWatch())
	rootCmd.AddCommand(worker.NewCmdWorker())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
