package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-portal/cmd/portal/cli"
	"github.com/odyssey-erp/odyssey-portal/internal/app"
	"github.com/odyssey-erp/odyssey-portal/internal/policy"
	"github.com/odyssey-erp/odyssey-portal/jobs"
)

var jsonOutput bool

func main() {
	if app.SkipStartup("portal") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "portal",
		Short:         "Internal portal API with dynamic permission policies",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine readable output")
	root.AddCommand(serveCmd(), jobsCmd(), authzCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		slog.Default().Error("portal", slog.Any("error", err))
		os.Exit(1)
	}
}

// exitError carries a subcommand exit code through cobra.
type exitError int

func (e exitError) Error() string { return "exit status " + strconv.Itoa(int(e)) }

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return exitError(code)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	inspector := asynq.NewInspector(rt.AsynqRedisOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      rt.Router(inspector),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Manage background jobs"}

	var (
		userID int64
		roles  string
	)
	syncRoles := &cobra.Command{
		Use:   "sync-roles",
		Short: "Enqueue a role synchronization for one user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			client := jobs.NewClient(redisOpt(cfg))
			defer client.Close()
			return exitCode(cli.NewJobsCLI(client, nil).SyncRolesCommand(cmd.Context(), cli.SyncRolesOptions{
				UserID:     userID,
				Roles:      roles,
				JSONOutput: jsonOutput,
			}))
		},
	}
	syncRoles.Flags().Int64Var(&userID, "user", 0, "internal user id")
	syncRoles.Flags().StringVar(&roles, "roles", "", "comma separated desired role ids; empty removes all roles")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			inspector := asynq.NewInspector(redisOpt(cfg))
			defer inspector.Close()
			return exitCode(cli.NewJobsCLI(nil, inspector).StatsCommand(cmd.Context(), cli.StatsOptions{JSONOutput: jsonOutput}))
		},
	}

	cmd.AddCommand(syncRoles, stats)
	return cmd
}

func authzCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "authz", Short: "Inspect policies and permissions"}

	resolve := &cobra.Command{
		Use:   "resolve <policy-name>...",
		Short: "Show the requirements a policy name resolves to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			resolver := policy.NewConventionResolver(cfg.PolicyConvention(), policy.NewCatalog())
			return exitCode(cli.NewAuthzCLI(resolver, nil).ResolveCommand(cli.ResolveOptions{Names: args, JSONOutput: jsonOutput}))
		},
	}

	var (
		userID int64
		perms  []string
	)
	check := &cobra.Command{
		Use:   "check",
		Short: "Check a user's permissions against the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			rt, err := app.Bootstrap(cmd.Context(), cfg, app.NewLogger(cfg))
			if err != nil {
				return err
			}
			defer rt.Close()
			return exitCode(cli.NewAuthzCLI(nil, rt.RBAC).CheckCommand(cmd.Context(), cli.CheckOptions{
				UserID:      userID,
				Permissions: perms,
				JSONOutput:  jsonOutput,
			}))
		},
	}
	check.Flags().Int64Var(&userID, "user", 0, "internal user id")
	check.Flags().StringSliceVar(&perms, "permission", nil, "permission name, repeatable; omit to list all")

	cmd.AddCommand(resolve, check)
	return cmd
}

func redisOpt(cfg *app.Config) asynq.RedisClientOpt {
	return cfg.RedisOptions().QueueOpt()
}
