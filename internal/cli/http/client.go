package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codejudge/internal/judge/model"
	pkgerrors "codejudge/pkg/errors"

	"github.com/gorilla/websocket"
)

const apiPrefix = "/api/v1/judge"

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Client talks to a running judge service.
type Client struct {
	baseURL       string
	timeout       time.Duration
	tokenProvider func() string
}

func New(baseURL string, timeout time.Duration, tokenProvider func() string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		timeout:       timeout,
		tokenProvider: tokenProvider,
	}
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	client := &http.Client{Timeout: c.timeout}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	c.authorize(req.Header)

	start := time.Now()
	resp, err := client.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}

func (c *Client) authorize(h http.Header) {
	if c.tokenProvider == nil {
		return
	}
	if token := c.tokenProvider(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

type envelope struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
}

// call sends body as JSON and decodes the envelope's data into out.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
	}
	resp, err := c.Do(ctx, method, apiPrefix+path, nil, payload)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("unexpected response (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	if env.Code != pkgerrors.Success {
		return pkgerrors.New(env.Code).WithMessage(env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

// SubmitRequest mirrors the service intake body.
type SubmitRequest struct {
	ProblemID int64  `json:"problem_id"`
	UserID    int64  `json:"user_id,omitempty"`
	ContestID string `json:"contest_id,omitempty"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// SubmitResult is the intake acknowledgement.
type SubmitResult struct {
	SubmissionID string                 `json:"submission_id"`
	Status       model.SubmissionStatus `json:"status"`
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	var out SubmitResult
	err := c.call(ctx, http.MethodPost, "/submissions", req, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, submissionID string) (model.JudgeStatus, error) {
	var out model.JudgeStatus
	err := c.call(ctx, http.MethodGet, "/submissions/"+url.PathEscape(submissionID), nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, submissionID string) error {
	return c.call(ctx, http.MethodPost, "/submissions/"+url.PathEscape(submissionID)+"/cancel", nil, nil)
}

// Watch streams status snapshots to fn until the server closes the stream.
// It returns the last snapshot received.
func (c *Client) Watch(ctx context.Context, submissionID string, fn func(model.JudgeStatus)) (model.JudgeStatus, error) {
	var last model.JudgeStatus
	wsURL, err := c.websocketURL("/submissions/" + url.PathEscape(submissionID) + "/watch")
	if err != nil {
		return last, err
	}
	header := http.Header{}
	c.authorize(header)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return last, fmt.Errorf("watch failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return last, fmt.Errorf("watch failed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var status model.JudgeStatus
		if err := conn.ReadJSON(&status); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return last, nil
			}
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("read watch stream failed: %w", err)
		}
		last = status
		if fn != nil {
			fn(status)
		}
	}
}

func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + apiPrefix + path)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
