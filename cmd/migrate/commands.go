package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	appconfig "github.com/wolfman30/consult-slots/internal/config"
	"github.com/wolfman30/consult-slots/pkg/logging"
)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the reservation schema (configurations, slots, bookings, payments, outbox)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	up := upCmd(open)
	root.RunE = up.RunE
	root.AddCommand(up, downCmd(open), versionCmd(open), forceCmd(open))
	return root
}

// withMigrator opens a migrator from the environment config and closes it
// after fn returns.
func withMigrator(open opener, fn func(m migrator, logger *logging.Logger) error) error {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).WithComponent("migrate")
	m, err := open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("close migrator", "source_error", srcErr, "db_error", dbErr)
		}
	}()
	return fn(m, logger)
}

func upCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(open, func(m migrator, logger *logging.Logger) error {
				err := m.Up()
				if errors.Is(err, migrate.ErrNoChange) {
					logger.Info("schema already up to date")
					return nil
				}
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info("migrations applied")
				return nil
			})
		},
	}
}

func downCmd(open opener) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (one step by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			return withMigrator(open, func(m migrator, logger *logging.Logger) error {
				var err error
				if all {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if errors.Is(err, migrate.ErrNoChange) {
					logger.Info("nothing to roll back")
					return nil
				}
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info("migrations rolled back", "all", all, "steps", steps)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration, dropping the reservation tables")
	return cmd
}

func versionCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(open, func(m migrator, _ *logging.Logger) error {
				v, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
					return nil
				}
				if err != nil {
					return fmt.Errorf("migrate version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
				return nil
			})
		},
	}
}

func forceCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations (clears a dirty flag)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withMigrator(open, func(m migrator, logger *logging.Logger) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				logger.Info("schema version forced", "version", version)
				return nil
			})
		},
	}
}
