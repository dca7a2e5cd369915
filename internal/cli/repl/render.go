package repl

import (
	"fmt"
	"io"
	"strings"

	"codejudge/internal/judge/adhoc"
	"codejudge/internal/judge/model"

	"github.com/fatih/color"
)

const previewLimit = 200

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	failColor  = color.New(color.FgRed, color.Bold)
	limitColor = color.New(color.FgYellow, color.Bold)
	infoColor  = color.New(color.FgCyan)
	dimColor   = color.New(color.Faint)
)

func statusColor(status string) *color.Color {
	switch status {
	case string(model.StatusAccepted), string(model.TestCasePassed):
		return okColor
	case string(model.StatusTimeLimit), string(model.StatusMemoryLimit):
		return limitColor
	case string(model.StatusWrongAnswer), string(model.StatusRuntimeError), string(model.StatusCompileError):
		return failColor
	case string(model.StatusSystemError), string(model.StatusPending):
		return color.New(color.FgMagenta, color.Bold)
	default:
		return infoColor
	}
}

// RenderOutput prints an ad-hoc run.
func RenderOutput(w io.Writer, out adhoc.Output) {
	if out.Output != "" {
		fmt.Fprint(w, out.Output)
		if !strings.HasSuffix(out.Output, "\n") {
			fmt.Fprintln(w)
		}
	}
	if out.Error != "" {
		fmt.Fprintln(w, failColor.Sprint(out.Error))
	}
	fmt.Fprintln(w, dimColor.Sprintf("(%d ms)", out.ExecutionTimeMs))
}

// RenderResult prints a verdict and its per-test records.
func RenderResult(w io.Writer, res model.JudgingResult) {
	fmt.Fprintf(w, "%s  %d/%d passed  %d ms\n",
		statusColor(string(res.Status)).Sprint(strings.ToUpper(string(res.Status))),
		res.TestCasesPassed, res.TotalTestCases, res.ExecutionTimeMs)
	for i, tc := range res.TestCasesResult {
		fmt.Fprintf(w, "  #%-3d %s %s\n", i+1,
			statusColor(string(tc.Status)).Sprintf("%-14s", tc.Status),
			dimColor.Sprintf("%d ms", tc.Time))
		if tc.Status == model.TestCaseWrongAnswer {
			fmt.Fprintf(w, "       expected: %s\n", preview(tc.Expected))
			fmt.Fprintf(w, "       got:      %s\n", preview(tc.Output))
		}
		if tc.Error != "" {
			fmt.Fprintf(w, "       error:    %s\n", preview(tc.Error))
		}
	}
	if res.ErrorMessage != "" {
		fmt.Fprintln(w, failColor.Sprint(res.ErrorMessage))
	}
	if res.AIAnalysis != "" {
		fmt.Fprintln(w, infoColor.Sprint(res.AIAnalysis))
	}
}

// RenderStatus prints one live status snapshot.
func RenderStatus(w io.Writer, st model.JudgeStatus) {
	line := fmt.Sprintf("%s %s", st.SubmissionID, statusColor(string(st.Status)).Sprint(st.Status))
	if st.Progress.Total > 0 {
		line += fmt.Sprintf("  [%d/%d]", st.Progress.Done, st.Progress.Total)
	}
	if st.ErrorMessage != "" {
		line += "  " + failColor.Sprint(st.ErrorMessage)
	}
	fmt.Fprintln(w, line)
	if st.Result != nil && st.Status.IsTerminal() {
		RenderResult(w, *st.Result)
	}
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > previewLimit {
		return s[:previewLimit] + "..."
	}
	return s
}
