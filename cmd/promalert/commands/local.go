package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/mr-karan/promalert/internal/app"
	"github.com/mr-karan/promalert/internal/rulefile"
	"github.com/mr-karan/promalert/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func (a *App) newApp() (*app.App, error) {
	opts := app.Options{ConfigPath: a.configPath, Version: a.Version}
	if a.debug {
		opts.Logger = logger.New(true)
	}
	return app.New(opts)
}

// serveCommand runs the engine and the admin API until interrupted.
func (a *App) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the evaluation engine and admin API",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, err := a.newApp()
			if err != nil {
				return err
			}
			if err := application.Initialize(ctx); err != nil {
				_ = application.Shutdown(context.Background())
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- application.Start()
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				log.Info("received shutdown signal")
			case serveErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				log.Error("shutdown failed", "error", err)
			}
			return serveErr
		},
	}
}

// onceCommand runs a single pass without the scheduler or admin API.
func (a *App) onceCommand() *cli.Command {
	return &cli.Command{
		Name:  "once",
		Usage: "run one evaluation pass and exit",
		Description: `Evaluate every enabled rule once, deliver notifications and print
the pass report. Useful from cron or for testing new rules.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fail-on-error",
				Usage: "exit non-zero when any rule errored",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			r, err := a.renderer()
			if err != nil {
				return err
			}
			application, err := a.newApp()
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background()) //nolint:errcheck

			if err := application.InitStore(ctx); err != nil {
				return err
			}
			if err := application.InitEngine(ctx); err != nil {
				return err
			}

			report, err := application.RunOnce(ctx)
			if err != nil {
				return err
			}
			if err := r.Report(report); err != nil {
				return err
			}
			if cmd.Bool("fail-on-error") && report.Errored > 0 {
				return fmt.Errorf("%d rules errored", report.Errored)
			}
			return nil
		},
	}
}

// seedCommand loads templates and rules from a YAML file into the store.
func (a *App) seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "load notify templates and rules from a YAML file",
		ArgsUsage: "<rules.yaml>",
		Description: `Create notify templates and create or update rules by name.
Alert state of existing rules is left untouched.

Examples:
   promalert seed rules.yaml
   promalert seed --dry-run rules.yaml`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "validate the file without writing",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("rule file path is required")
			}

			file, err := rulefile.Load(path)
			if err != nil {
				return err
			}
			if cmd.Bool("dry-run") {
				fmt.Printf("%s %d templates, %d rules\n", successStyle.Render("valid:"), len(file.Templates), len(file.Rules))
				return nil
			}

			application, err := a.newApp()
			if err != nil {
				return err
			}
			defer application.Shutdown(context.Background()) //nolint:errcheck

			if err := application.InitStore(ctx); err != nil {
				return err
			}
			sum, err := rulefile.Apply(ctx, application.Store, file, application.Logger)
			if err != nil {
				return err
			}

			fmt.Printf("%s templates: %d created, %d reused; rules: %d created, %d updated\n",
				successStyle.Render("✓"), sum.TemplatesCreated, sum.TemplatesReused, sum.RulesCreated, sum.RulesUpdated)
			return nil
		},
	}
}
