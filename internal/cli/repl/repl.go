package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"codejudge/internal/cli/command"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/local"
	"codejudge/internal/judge/adhoc"
	"codejudge/internal/judge/model"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "judge> "

// Local runs code in-process.
type Local interface {
	Languages() []string
	Run(ctx context.Context, lang, code, input string) (adhoc.Output, error)
	Judge(ctx context.Context, lang, code string, p local.Problem) (model.JudgingResult, error)
}

// Remote talks to a judge service.
type Remote interface {
	Submit(ctx context.Context, req httpclient.SubmitRequest) (httpclient.SubmitResult, error)
	Status(ctx context.Context, submissionID string) (model.JudgeStatus, error)
	Watch(ctx context.Context, submissionID string, fn func(model.JudgeStatus)) (model.JudgeStatus, error)
	Cancel(ctx context.Context, submissionID string) error
}

// ErrQuit is returned by Execute for exit and quit.
var ErrQuit = errors.New("quit")

// Session holds REPL state.
type Session struct {
	local       Local
	remote      Remote
	commands    map[string]command.Command
	out         io.Writer
	historyFile string
}

// New creates a session. A nil remote disables service commands.
func New(local Local, remote Remote, out io.Writer, historyFile string) *Session {
	if out == nil {
		out = os.Stdout
	}
	return &Session{
		local:       local,
		remote:      remote,
		commands:    command.Registry(),
		out:         out,
		historyFile: historyFile,
	}
}

// Run reads commands until exit or EOF. Ctrl-C cancels the running command.
func (s *Session) Run(ctx context.Context) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(s.commands)+2)
	for _, name := range command.Names(s.commands) {
		items = append(items, readline.PcItem(name))
	}
	items = append(items, readline.PcItem("help"), readline.PcItem("exit"))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     s.historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          s.out,
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}

		cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err = s.Execute(cmdCtx, line)
		stop()
		if errors.Is(err, ErrQuit) {
			s.printLine("bye")
			return nil
		}
		if err != nil {
			s.printLine("%s %v", failColor.Sprint("error:"), err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Execute runs one command line.
func (s *Session) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	switch tokens[0] {
	case "exit", "quit":
		return ErrQuit
	case "help":
		s.printHelp()
		return nil
	}

	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", tokens[0])
	}
	if cmd.Remote && s.remote == nil {
		return fmt.Errorf("%s needs a judge service, which is disabled in offline mode", cmd.Name)
	}
	params, err := command.Parse(cmd, tokens[1:])
	if err != nil {
		return err
	}

	switch cmd.Name {
	case "langs":
		s.printLine("%s", strings.Join(s.local.Languages(), " "))
		return nil
	case "run":
		return s.run(ctx, params)
	case "judge":
		return s.judge(ctx, params)
	case "submit":
		return s.submit(ctx, params)
	case "status":
		st, err := s.remote.Status(ctx, params.Get("id"))
		if err != nil {
			return err
		}
		RenderStatus(s.out, st)
		return nil
	case "watch":
		return s.watch(ctx, params.Get("id"))
	case "cancel":
		if err := s.remote.Cancel(ctx, params.Get("id")); err != nil {
			return err
		}
		s.printLine("cancel requested for %s", params.Get("id"))
		return nil
	}
	return fmt.Errorf("command %q has no handler", cmd.Name)
}

func (s *Session) run(ctx context.Context, params command.Params) error {
	code, err := command.ReadFile(params.Get("file"))
	if err != nil {
		return err
	}
	var input string
	if path := params.Get("input"); path != "" {
		if input, err = command.ReadFile(path); err != nil {
			return err
		}
	}
	out, err := s.local.Run(ctx, params.Get("lang"), code, input)
	if err != nil {
		return err
	}
	RenderOutput(s.out, out)
	return nil
}

func (s *Session) judge(ctx context.Context, params command.Params) error {
	code, err := command.ReadFile(params.Get("file"))
	if err != nil {
		return err
	}
	var p local.Problem
	switch {
	case params.Get("problem") != "":
		if p, err = local.LoadProblemFile(params.Get("problem")); err != nil {
			return err
		}
	case params.Get("tests") != "":
		tests, err := local.LoadTestDir(params.Get("tests"))
		if err != nil {
			return err
		}
		p = local.Problem{Title: params.Get("tests"), Tests: tests}
	default:
		return fmt.Errorf("judge needs tests=<dir> or problem=<file>")
	}
	if raw := params.Get("time_limit"); raw != "" {
		limit, err := command.ParseDuration(raw)
		if err != nil {
			return err
		}
		p.TimeLimitMs = limit.Milliseconds()
	}

	res, err := s.local.Judge(ctx, params.Get("lang"), code, p)
	if err != nil && !res.Status.IsTerminal() {
		return err
	}
	RenderResult(s.out, res)
	return nil
}

func (s *Session) submit(ctx context.Context, params command.Params) error {
	code, err := command.ReadFile(params.Get("file"))
	if err != nil {
		return err
	}
	problemID, _ := command.ParseInt64(params.Get("problem"))
	req := httpclient.SubmitRequest{ProblemID: problemID, Language: params.Get("lang"), Code: code}
	if raw := params.Get("user"); raw != "" {
		req.UserID, _ = command.ParseInt64(raw)
	}
	res, err := s.remote.Submit(ctx, req)
	if err != nil {
		return err
	}
	s.printLine("submitted %s", infoColor.Sprint(res.SubmissionID))
	return s.watch(ctx, res.SubmissionID)
}

func (s *Session) watch(ctx context.Context, submissionID string) error {
	var lastLine string
	_, err := s.remote.Watch(ctx, submissionID, func(st model.JudgeStatus) {
		if st.Status.IsTerminal() {
			RenderStatus(s.out, st)
			return
		}
		line := fmt.Sprintf("%s [%d/%d]", st.Status, st.Progress.Done, st.Progress.Total)
		if line != lastLine {
			s.printLine("%s", dimColor.Sprint(line))
			lastLine = line
		}
	})
	return err
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	for _, name := range command.Names(s.commands) {
		cmd := s.commands[name]
		s.printLine("  %-60s %s", cmd.Usage(), dimColor.Sprint(cmd.Summary))
	}
	s.printLine("  %-60s %s", "help", dimColor.Sprint("show this message"))
	s.printLine("  %-60s %s", "exit", dimColor.Sprint("leave the shell"))
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
