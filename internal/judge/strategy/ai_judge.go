package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	appErr "codejudge/pkg/errors"

	"github.com/cenkalti/backoff/v4"
)

const maxAIResponseBytes = 4 << 20

// AIConfig configures the remote AI judge.
type AIConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// AIJudge asks a remote service for a verdict.
type AIJudge struct {
	cfg    AIConfig
	client *http.Client
}

// NewAIJudge creates an AI judge client. A nil client uses one with cfg.Timeout.
func NewAIJudge(cfg AIConfig, client *http.Client) (*AIJudge, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, appErr.New(appErr.AIJudgeUnavailable).WithMessage("ai judge endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &AIJudge{cfg: cfg, client: client}, nil
}

type aiTestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

type aiRequest struct {
	Problem   model.Problem `json:"problem"`
	Code      string        `json:"code"`
	Language  string        `json:"language"`
	TestCases []aiTestCase  `json:"test_cases"`
}

type aiResponse struct {
	model.JudgingResult
	Feedback string `json:"feedback"`
}

// Ready probes GET <endpoint>/healthz.
func (a *AIJudge) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Endpoint+"/healthz", nil)
	if err != nil {
		return appErr.Wrapf(err, appErr.AIJudgeUnavailable, "build ai probe failed")
	}
	a.authorize(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return appErr.Wrapf(err, appErr.AIJudgeUnavailable, "ai judge probe failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return appErr.Newf(appErr.AIJudgeUnavailable, "ai judge probe returned %d", resp.StatusCode)
	}
	return nil
}

func (a *AIJudge) Judge(ctx context.Context, task orchestrator.Task) (model.JudgingResult, error) {
	payload := aiRequest{
		Problem:   task.Problem,
		Code:      task.Code,
		Language:  task.Language,
		TestCases: make([]aiTestCase, 0, len(task.TestCases)),
	}
	for _, tc := range task.TestCases {
		payload.TestCases = append(payload.TestCases, aiTestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return model.JudgingResult{}, appErr.Wrapf(err, appErr.AIJudgeInvalid, "encode ai request failed")
	}

	var out aiResponse
	op := func() error {
		var callErr error
		out, callErr = a.call(ctx, body)
		return callErr
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(a.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return model.JudgingResult{}, err
	}

	res, err := validateAIResult(out, len(task.TestCases))
	if err != nil {
		return model.JudgingResult{}, err
	}
	return res, nil
}

func (a *AIJudge) call(ctx context.Context, body []byte) (aiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/judge", bytes.NewReader(body))
	if err != nil {
		return aiResponse{}, backoff.Permanent(appErr.Wrapf(err, appErr.AIJudgeUnavailable, "build ai request failed"))
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return aiResponse{}, appErr.Wrapf(err, appErr.AIJudgeUnavailable, "ai judge request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAIResponseBytes))
	if err != nil {
		return aiResponse{}, appErr.Wrapf(err, appErr.AIJudgeUnavailable, "read ai response failed")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return aiResponse{}, appErr.Newf(appErr.AIJudgeUnavailable, "ai judge returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return aiResponse{}, backoff.Permanent(appErr.Newf(appErr.AIJudgeInvalid, "ai judge returned %d", resp.StatusCode))
	}

	var out aiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return aiResponse{}, backoff.Permanent(appErr.Wrapf(err, appErr.AIJudgeInvalid, "decode ai response failed"))
	}
	return out, nil
}

func (a *AIJudge) authorize(req *http.Request) {
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
}

func validateAIResult(out aiResponse, total int) (model.JudgingResult, error) {
	res := out.JudgingResult
	if !res.Status.Valid() || !res.Status.IsTerminal() || res.Status == model.StatusSystemError {
		return model.JudgingResult{}, appErr.Newf(appErr.AIJudgeInvalid, "ai judge returned status %q", res.Status)
	}
	if res.TotalTestCases == 0 {
		res.TotalTestCases = total
	}
	if res.TotalTestCases != total || res.TestCasesPassed < 0 || res.TestCasesPassed > res.TotalTestCases {
		return model.JudgingResult{}, appErr.New(appErr.AIJudgeInvalid).WithMessage(
			fmt.Sprintf("ai judge counts inconsistent: %d/%d for %d test cases", res.TestCasesPassed, res.TotalTestCases, total))
	}
	if res.Status == model.StatusAccepted && res.TotalTestCases == 0 {
		return model.JudgingResult{}, appErr.New(appErr.AIJudgeInvalid).WithMessage("ai judge accepted without test cases")
	}
	if res.Status == model.StatusAccepted && res.TestCasesPassed != res.TotalTestCases {
		return model.JudgingResult{}, appErr.New(appErr.AIJudgeInvalid).WithMessage("ai judge accepted without passing every test case")
	}
	if res.TestCasesResult == nil {
		res.TestCasesResult = []model.TestCaseResult{}
	}
	if res.Status != model.StatusAccepted && out.Feedback != "" {
		res.ErrorMessage = out.Feedback
	}
	res.JudgeMethod = model.JudgeMethodAI
	return res, nil
}
