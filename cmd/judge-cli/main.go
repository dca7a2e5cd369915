package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/cli/command"
	"codejudge/internal/cli/config"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/local"
	"codejudge/internal/cli/repl"
	"codejudge/pkg/utils/logger"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "judge-cli",
		Usage: "run and judge code locally or against a judge service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: defaultConfigPath, Usage: "path to config file"},
			&cli.StringFlag{Name: "server", Usage: "judge service base URL"},
			&cli.StringFlag{Name: "token", Usage: "bearer token for the judge service", Sources: cli.EnvVars("JUDGE_TOKEN")},
			&cli.StringFlag{Name: "work-root", Usage: "override the workspace root"},
			&cli.BoolFlag{Name: "offline", Usage: "disable commands that need the judge service"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log engine activity to stderr"},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "compile and run a file once",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lang", Aliases: []string{"l"}, Required: true},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true},
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "file fed to stdin"},
				},
				Action: runAction,
			},
			{
				Name:  "judge",
				Usage: "judge a file against a tests directory or a problem.toml",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lang", Aliases: []string{"l"}, Required: true},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true},
					&cli.StringFlag{Name: "tests", Aliases: []string{"t"}, Usage: "directory of N.in/N.out pairs"},
					&cli.StringFlag{Name: "problem", Aliases: []string{"p"}, Usage: "problem.toml file"},
					&cli.DurationFlag{Name: "time-limit", Usage: "per-test time limit"},
				},
				Action: judgeAction,
			},
			{
				Name:   "repl",
				Usage:  "start the interactive shell",
				Action: replAction,
			},
		},
		Action: replAction,
	}
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	if v := cmd.String("server"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := cmd.String("token"); v != "" {
		cfg.Server.Token = v
	}
	if v := cmd.String("work-root"); v != "" {
		cfg.Workspace.Root = v
	}
	if cmd.Bool("no-color") || !*cfg.Color {
		color.NoColor = true
	}
	if cmd.Bool("verbose") {
		if err := logger.Init(logger.Config{Level: "debug", Format: "console", OutputPath: "stderr", ErrorPath: "stderr"}); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	eng, err := local.NewEngine(cfg, nil)
	if err != nil {
		return err
	}
	code, err := command.ReadFile(cmd.String("file"))
	if err != nil {
		return err
	}
	var input string
	if path := cmd.String("input"); path != "" {
		if input, err = command.ReadFile(path); err != nil {
			return err
		}
	}
	out, err := eng.Run(ctx, cmd.String("lang"), code, input)
	if err != nil {
		return err
	}
	repl.RenderOutput(os.Stdout, out)
	return nil
}

func judgeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	var p local.Problem
	switch {
	case cmd.String("problem") != "":
		if p, err = local.LoadProblemFile(cmd.String("problem")); err != nil {
			return err
		}
	case cmd.String("tests") != "":
		tests, err := local.LoadTestDir(cmd.String("tests"))
		if err != nil {
			return err
		}
		p = local.Problem{Title: cmd.String("tests"), Tests: tests}
	default:
		return cli.Exit("judge needs --tests or --problem", 2)
	}
	if limit := cmd.Duration("time-limit"); limit > 0 {
		p.TimeLimitMs = limit.Milliseconds()
	}

	eng, err := local.NewEngine(cfg, nil)
	if err != nil {
		return err
	}
	code, err := command.ReadFile(cmd.String("file"))
	if err != nil {
		return err
	}
	res, err := eng.Judge(ctx, cmd.String("lang"), code, p)
	if err != nil && !res.Status.IsTerminal() {
		return err
	}
	repl.RenderResult(os.Stdout, res)
	if res.TestCasesPassed != res.TotalTestCases {
		return cli.Exit("", 1)
	}
	return nil
}

func replAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	eng, err := local.NewEngine(cfg, nil)
	if err != nil {
		return err
	}
	var remote repl.Remote
	if !cmd.Bool("offline") {
		token := cfg.Server.Token
		remote = httpclient.New(cfg.Server.BaseURL, cfg.Server.Timeout, func() string { return token })
	}
	fmt.Printf("judge-cli, languages: %v, server: %s\n", eng.Languages(), serverLabel(cfg, remote != nil))
	return repl.New(eng, remote, os.Stdout, cfg.HistoryFile).Run(ctx)
}

func serverLabel(cfg config.Config, online bool) string {
	if !online {
		return "offline"
	}
	return cfg.Server.BaseURL
}
