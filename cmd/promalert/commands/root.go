// Package commands provides the CLI command definitions for promalert.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/mr-karan/promalert/internal/cli/client"
	"github.com/mr-karan/promalert/internal/cli/render"
)

// Styles for CLI output
var (
	logoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7C3AED")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

const defaultServerURL = "http://127.0.0.1:9095"

// App holds the shared application state
type App struct {
	Version string
	Commit  string
	Date    string

	configPath string
	serverURL  string
	output     string
	debug      bool
	color      bool
}

// New creates the root CLI command with all subcommands
func New(version, commit, date string) *cli.Command {
	app := &App{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	return &cli.Command{
		Name:    "promalert",
		Usage:   "evaluate alert rules against Prometheus and ClickHouse and notify",
		Version: version,
		Description: `promalert periodically evaluates stored alert rules, tracks their
   alerting state and delivers notifications over email, webhooks and chat.

   Use 'promalert serve' to run the engine and admin API, 'promalert seed'
   to load rules from a YAML file and 'promalert engine' to control a
   running server.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Sources: cli.EnvVars("PROMALERT_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "promalert admin API URL",
				Value:   defaultServerURL,
				Sources: cli.EnvVars("PROMALERT_SERVER_URL"),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format: table, json",
				Value:   "table",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "disable colored output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			app.debug = cmd.Bool("debug")
			if app.debug {
				log.SetLevel(log.DebugLevel)
			}

			app.color = !cmd.Bool("no-color") && isTerminal()
			if cmd.Bool("no-color") {
				log.SetStyles(log.DefaultStyles())
				lipgloss.SetHasDarkBackground(false)
			}

			app.configPath = cmd.String("config")
			app.serverURL = cmd.String("server")
			app.output = cmd.String("output")
			return ctx, nil
		},
		Commands: []*cli.Command{
			app.serveCommand(),
			app.onceCommand(),
			app.seedCommand(),
			app.engineCommand(),
			app.rulesCommand(),
			app.versionCommand(),
		},
	}
}

// isTerminal returns true if stdout is a terminal
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func (a *App) renderer() (*render.Renderer, error) {
	return render.New(render.Options{Format: a.output, Color: a.color})
}

func (a *App) apiClient() (*client.Client, error) {
	return client.New(client.Options{URL: a.serverURL})
}

// versionCommand shows version information
func (a *App) versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "show version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("%s version %s\n", logoStyle.Render("promalert"), a.Version)
			fmt.Printf("  commit: %s\n", mutedStyle.Render(a.Commit))
			fmt.Printf("  built:  %s\n", mutedStyle.Render(a.Date))
			return nil
		},
	}
}
