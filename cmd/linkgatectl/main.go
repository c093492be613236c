package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkgate.org/internal/auth"
	"linkgate.org/internal/config"
	"linkgate.org/internal/migrate"
	"linkgate.org/internal/obs"
	"linkgate.org/internal/store/pg"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cli struct {
	dsn     string
	timeout time.Duration
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "linkgatectl",
		Short:         "Operational commands for linkgate",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".env")
			if err != nil {
				return err
			}
			c.cfg = cfg
			if c.dsn == "" {
				c.dsn = cfg.DatabaseURL
			}
			if c.dsn == "" {
				return fmt.Errorf("missing DSN: provide via --dsn or LINKGATE_DATABASE_URL")
			}
			obs.InitLogger(obs.LogConfig{Env: cfg.LogEnv, Level: cfg.LogLevel, Service: "linkgatectl", Version: cfg.Version})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.dsn, "dsn", "", "PostgreSQL DSN (env LINKGATE_DATABASE_URL)")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(c.migrateCmd(), c.noncesCmd(), c.accountsCmd())
	return root
}

// withDB opens the database for the duration of fn.
func (c *cli) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *sql.DB) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()
	db, err := pg.Open(ctx, c.dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
					return migrate.NewManager(db).Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
					return migrate.NewManager(db).Down(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
					lines, err := migrate.NewManager(db).Status(ctx)
					if err != nil {
						return err
					}
					for _, l := range lines {
						fmt.Fprintln(cmd.OutOrStdout(), l)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func (c *cli) noncesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "nonces", Short: "Inspect OAuth state values"}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired state values from Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				store := auth.NewPGStore(db)
				n, err := auth.NewNonces(store.Nonces(ctx), auth.WithNonceTTL(c.cfg.NonceTTL)).Prune(ctx)
				if err != nil {
					return err
				}
				obs.Logger().Info("pruned nonces", zap.Int64("count", n))
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d\n", n)
				return nil
			})
		},
	})
	return cmd
}

func (c *cli) accountsCmd() *cobra.Command {
	var login, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a local account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if login == "" || password == "" {
				return fmt.Errorf("--login and --password are required")
			}
			return c.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				acct, err := auth.CreateAccount(ctx, auth.NewPGStore(db).Accounts(ctx), login, password)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), acct.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&login, "login", "", "login name")
	create.Flags().StringVar(&password, "password", "", "password")

	cmd := &cobra.Command{Use: "accounts", Short: "Manage local accounts"}
	cmd.AddCommand(create)
	return cmd
}
