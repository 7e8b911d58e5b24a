package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/wolfman30/consult-slots/internal/config"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

func newRootCmd(build builder) *cobra.Command {
	root := &cobra.Command{
		Use:           "sweeper",
		Short:         "Runs reservation maintenance jobs outside the API process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newListCmd(build))
	root.AddCommand(newRunCmd(build))
	root.AddCommand(newServeCmd(build))
	return root
}

func newListCmd(build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered jobs and when each is next due",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := appconfig.Load()
			s, release, err := build(cmd.Context(), cfg, logging.New(cfg.LogLevel))
			if err != nil {
				return err
			}
			defer release()
			for _, name := range s.Jobs() {
				next, _ := s.NextRun(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s next %s\n", name, next.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newRunCmd(build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "run [job...]",
		Short: "Run the named jobs once (all jobs when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.Load()
			s, release, err := build(cmd.Context(), cfg, logging.New(cfg.LogLevel))
			if err != nil {
				return err
			}
			defer release()

			names := args
			if len(names) == 0 {
				names = s.Jobs()
			}
			for _, name := range names {
				ran, err := s.RunNow(cmd.Context(), name)
				if err != nil {
					return err
				}
				status := "ran"
				if !ran {
					status = "skipped"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, status)
			}
			return nil
		},
	}
}

func newServeCmd(build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run jobs on their schedules until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := appconfig.Load()
			logger := logging.New(cfg.LogLevel)
			s, release, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			logger.Info("sweeper started", "jobs", s.Jobs())
			s.Start(ctx)
			logger.Info("sweeper stopped")
			return nil
		},
	}
}
