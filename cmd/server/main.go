package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/JonMunkholm/stockcount/internal/config"
	"github.com/JonMunkholm/stockcount/internal/core"
	"github.com/JonMunkholm/stockcount/internal/database"
	"github.com/JonMunkholm/stockcount/internal/logging"
	"github.com/JonMunkholm/stockcount/internal/web"
)

func main() {
	app := &cli.App{
		Name:  "stockcount",
		Usage: "inventory stock counting server",
		Before: func(c *cli.Context) error {
			// Overload lets .env win over the shell environment.
			if err := godotenv.Overload(); err != nil {
				slog.Debug("no .env file found, using environment variables")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back schema migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "down", Usage: "roll back every migration"},
				},
				Action: migrateCmd,
			},
			{
				Name:  "export",
				Usage: "write a CSV report for an organization",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "org", Required: true, Usage: "organization id"},
					&cli.StringFlag{Name: "kind", Value: string(core.ReportSummary), Usage: "inventory_summary or audit_log"},
					&cli.StringFlag{Name: "out", Usage: "output file, - for stdout (default: generated filename)"},
				},
				Action: exportCmd,
			},
			{
				Name:  "org",
				Usage: "manage organizations",
				Subcommands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "create an organization and print its id",
						ArgsUsage: "<name>",
						Action:    createOrgCmd,
					},
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads and validates configuration and configures logging.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// logToStderr moves logs off stdout when stdout carries command output.
func logToStderr(cfg *config.Config) {
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
}

func serve(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"realtime_subscribe", cfg.Realtime.Subscribe,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	store, err := database.Open(c.Context, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("connected to database", "driver", cfg.Database.Driver)

	service := core.NewService(store, cfg)
	defer service.Close()

	server := web.NewServer(service, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go service.StartResyncScheduler(jobCtx, cfg.Realtime.ResyncInterval)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func migrateCmd(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	dir := database.MigrateUp
	if c.Bool("down") {
		dir = database.MigrateDown
	}
	version, err := database.Migrate(c.Context, cfg.Database, dir)
	if err != nil {
		return err
	}
	slog.Info("migrations applied", "driver", cfg.Database.Driver, "version", version)
	return nil
}

// exportCmd renders a report from a fresh read of the store, so it does not
// depend on a running server.
func exportCmd(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	kind, err := core.ParseReportKind(c.String("kind"))
	if err != nil {
		return err
	}
	out := c.String("out")
	if out == "-" {
		logToStderr(cfg)
	}

	store, err := database.Open(c.Context, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg.Realtime.Subscribe = false
	service := core.NewService(store, cfg)
	defer service.Close()

	rep, err := service.ExportFresh(c.Context, c.String("org"), kind, time.Now().In(cfg.Export.Location()))
	if err != nil {
		return err
	}

	if out == "-" {
		_, err := fmt.Fprint(c.App.Writer, rep.Content)
		return err
	}
	if out == "" {
		out = rep.Filename
	}
	if err := os.WriteFile(out, []byte(rep.Content), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	slog.Info("report written", "kind", rep.Kind, "path", out)
	return nil
}

func createOrgCmd(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return cli.Exit("organization name is required", 2)
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	logToStderr(cfg)

	store, err := database.Open(c.Context, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	org, err := store.CreateOrganization(c.Context, name)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, org.ID)
	return nil
}
