package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/pg"
)

type rootOptions struct {
	configPath string
	dsn        string
	migrations string
	seeds      string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "gatectl",
		Short:         "Operator tooling for the gatehouse access-control service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (optional)")

	root.AddCommand(newMigrateCmd(opts), newHashPasswordCmd(opts))
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dsn != "" {
		cfg.PGDSN = o.dsn
	}
	if o.migrations != "" {
		cfg.MigrationsDir = o.migrations
	}
	if o.seeds != "" {
		cfg.SeedsDir = o.seeds
	}
	return cfg, nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect schema migrations",
	}
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (default: GATEHOUSE_PG_DSN)")
	cmd.PersistentFlags().StringVar(&opts.migrations, "migrations", "", "directory of *.up.sql / *.down.sql files")
	cmd.PersistentFlags().StringVar(&opts.seeds, "seeds", "", "directory of seed *.sql files")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")

	run := func(fn func(context.Context, *migrate.Manager, io.Writer) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.PGDSN == "" {
				return errors.New("missing DSN: provide --dsn or GATEHOUSE_PG_DSN")
			}
			lg, err := obs.InitLogger(obs.LogConfigFromEnv())
			if err != nil {
				return err
			}
			defer func() { _ = lg.Sync() }()

			store, err := pg.Open(cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(c.Context(), opts.timeout)
			defer cancel()

			mgr := migrate.NewManager(store.DB(), os.DirFS(cfg.MigrationsDir), os.DirFS(cfg.SeedsDir),
				migrate.WithLogger(lg.Named("migrate")))
			return fn(ctx, mgr, c.OutOrStdout())
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Manager, out io.Writer) error {
				applied, err := m.Up(ctx)
				printNames(out, "applied", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Manager, out io.Writer) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply seed files that have not run yet",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Manager, out io.Writer) error {
				applied, err := m.Seed(ctx)
				printNames(out, "seeded", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations, oldest first",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Manager, out io.Writer) error {
				history, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, name := range history {
					fmt.Fprintln(out, name)
				}
				return nil
			}),
		},
	)
	return cmd
}

func printNames(out io.Writer, verb string, names []string) {
	if len(names) == 0 {
		fmt.Fprintln(out, "nothing to do")
		return
	}
	for _, n := range names {
		fmt.Fprintf(out, "%s %s\n", verb, n)
	}
}

func newHashPasswordCmd(opts *rootOptions) *cobra.Command {
	var (
		useBcrypt bool
		salt      string
	)
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the stored form of a password",
		Long: `Print the value to store in sys_user.password.

By default this is the legacy salted digest the service has always accepted.
With --bcrypt it is a bcrypt hash; the gateway verifies either form, so
records can be moved to bcrypt one at a time. Without an argument the
password is read from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			password, err := passwordArg(c.InOrStdin(), args)
			if err != nil {
				return err
			}
			if useBcrypt {
				hash, err := auth.HashPassword(password)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.OutOrStdout(), hash)
				return nil
			}
			if !c.Flags().Changed("salt") {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				salt = cfg.PasswordSalt
			}
			fmt.Fprintln(c.OutOrStdout(), auth.NewPasswordScheme(salt).LegacyDigest(password))
			return nil
		},
	}
	cmd.Flags().BoolVar(&useBcrypt, "bcrypt", false, "emit a bcrypt hash instead of the legacy digest")
	cmd.Flags().StringVar(&salt, "salt", "", "legacy digest salt (default: password_salt from config)")
	return cmd
}

func passwordArg(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		if args[0] == "" {
			return "", errors.New("password must not be empty")
		}
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password must not be empty")
	}
	return line, nil
}
