package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-extras/cobraflags"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"clmhub.io/internal/migrate"
)

const (
	dsnFlag     = "dsn"
	timeoutFlag = "timeout"
)

var flags = map[string]cobraflags.Flag{
	dsnFlag: &cobraflags.StringFlag{
		Name:  dsnFlag,
		Value: os.Getenv("CLM_PG_DSN"),
		Usage: "PostgreSQL DSN (defaults to CLM_PG_DSN)",
	},
	timeoutFlag: &cobraflags.StringFlag{
		Name:  timeoutFlag,
		Value: "30s",
		Usage: "Deadline for the whole run",
	},
}

func main() {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the embedded CLM schema migrations and seeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cobraflags.RegisterMap(root, flags)

	root.AddCommand(
		newCommand("up", "Apply every pending migration", func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			printAll("applied", applied)
			return err
		}),
		newCommand("down", "Roll back the latest migration", func(ctx context.Context, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if name != "" {
				fmt.Println("rolled back", name)
			}
			return err
		}),
		newCommand("status", "List applied migrations", func(ctx context.Context, m *migrate.Manager) error {
			history, err := m.Status(ctx)
			printAll("", history)
			return err
		}),
		newCommand("pending", "List migrations not yet applied", func(ctx context.Context, m *migrate.Manager) error {
			pending, err := m.Pending(ctx)
			printAll("pending", pending)
			return err
		}),
		newCommand("seed", "Run seed files not yet executed", func(ctx context.Context, m *migrate.Manager) error {
			seeded, err := m.Seed(ctx)
			printAll("seeded", seeded)
			return err
		}),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func newCommand(use, short string, run func(context.Context, *migrate.Manager) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn := flags[dsnFlag].GetString()
			if dsn == "" {
				return errors.New("missing DSN: provide --dsn or CLM_PG_DSN")
			}
			timeout, err := time.ParseDuration(flags[timeoutFlag].GetString())
			if err != nil {
				return fmt.Errorf("invalid --%s: %w", timeoutFlag, err)
			}

			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			if err := run(ctx, migrate.NewEmbedded(db, migrate.WithLogger(logger))); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return nil
		},
	}
}

func printAll(prefix string, items []string) {
	for _, item := range items {
		if prefix == "" {
			fmt.Println(item)
			continue
		}
		fmt.Println(prefix, item)
	}
}
