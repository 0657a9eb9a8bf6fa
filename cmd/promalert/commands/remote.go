package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/mr-karan/promalert/pkg/models"
)

// engineCommand controls the scheduler of a running server.
func (a *App) engineCommand() *cli.Command {
	return &cli.Command{
		Name:  "engine",
		Usage: "control the evaluation engine of a running server",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show scheduler status",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runEngine(ctx, "status")
				},
			},
			{
				Name:  "start",
				Usage: "start periodic evaluation",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runEngine(ctx, "start")
				},
			},
			{
				Name:  "stop",
				Usage: "stop periodic evaluation after the active pass",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runEngine(ctx, "stop")
				},
			},
			{
				Name:  "run",
				Usage: "run one pass now and print its report",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					apiClient, err := a.apiClient()
					if err != nil {
						return err
					}
					r, err := a.renderer()
					if err != nil {
						return err
					}
					report, err := apiClient.RunPass(ctx)
					if err != nil {
						return fmt.Errorf("run failed: %w", err)
					}
					return r.Report(report)
				},
			},
		},
	}
}

func (a *App) runEngine(ctx context.Context, action string) error {
	apiClient, err := a.apiClient()
	if err != nil {
		return err
	}
	r, err := a.renderer()
	if err != nil {
		return err
	}

	switch action {
	case "start":
		st, err := apiClient.StartEngine(ctx)
		if err != nil {
			return fmt.Errorf("start failed: %w", err)
		}
		return r.EngineStatus(st)
	case "stop":
		st, err := apiClient.StopEngine(ctx)
		if err != nil {
			return fmt.Errorf("stop failed: %w", err)
		}
		return r.EngineStatus(st)
	default:
		st, err := apiClient.EngineStatus(ctx)
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		return r.EngineStatus(st)
	}
}

// rulesCommand applies manual overrides to rules of a running server.
func (a *App) rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "acknowledge, resolve and inspect rules",
		Commands: []*cli.Command{
			{
				Name:      "ack",
				Usage:     "silence an alerting rule",
				ArgsUsage: "<rule-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "by", Usage: "who acknowledged"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := ruleIDArg(cmd)
					if err != nil {
						return err
					}
					apiClient, err := a.apiClient()
					if err != nil {
						return err
					}
					r, err := a.renderer()
					if err != nil {
						return err
					}
					rule, err := apiClient.AcknowledgeRule(ctx, id, cmd.String("by"))
					if err != nil {
						return fmt.Errorf("acknowledge failed: %w", err)
					}
					return r.Rule(rule)
				},
			},
			{
				Name:      "resolve",
				Usage:     "force a rule back to ok",
				ArgsUsage: "<rule-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Usage: "resolution note"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := ruleIDArg(cmd)
					if err != nil {
						return err
					}
					apiClient, err := a.apiClient()
					if err != nil {
						return err
					}
					r, err := a.renderer()
					if err != nil {
						return err
					}
					rule, err := apiClient.ResolveRule(ctx, id, cmd.String("reason"))
					if err != nil {
						return fmt.Errorf("resolve failed: %w", err)
					}
					return r.Rule(rule)
				},
			},
			{
				Name:      "history",
				Usage:     "show recent notification history of a rule",
				ArgsUsage: "<rule-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "max entries (0 = server default)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id, err := ruleIDArg(cmd)
					if err != nil {
						return err
					}
					apiClient, err := a.apiClient()
					if err != nil {
						return err
					}
					r, err := a.renderer()
					if err != nil {
						return err
					}
					entries, err := apiClient.RuleHistory(ctx, id, int(cmd.Int("limit")))
					if err != nil {
						return fmt.Errorf("history failed: %w", err)
					}
					return r.History(entries)
				},
			},
		},
	}
}

func ruleIDArg(cmd *cli.Command) (models.RuleID, error) {
	arg := cmd.Args().First()
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule id %q", arg)
	}
	return models.RuleID(id), nil
}
