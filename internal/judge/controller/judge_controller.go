package controller

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/adhoc"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultWatchInterval = 500 * time.Millisecond

// JudgeService is the subset of the judge service used by the HTTP layer.
type JudgeService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*model.Submission, error)
	Status(ctx context.Context, submissionID string) (model.JudgeStatus, error)
	Cancel(ctx context.Context, submissionID string) error
	AddTestCase(ctx context.Context, problemID int64, tc model.TestCase) (model.TestCase, int, error)
	Rejudge(ctx context.Context, problemID int64, statuses []model.SubmissionStatus) (int, error)
}

// Runner executes ad-hoc code against custom input.
type Runner interface {
	RunOnce(ctx context.Context, code, lang, input string) (adhoc.Output, error)
}

// LanguageLister lists supported language ids.
type LanguageLister interface {
	Languages() []string
}

// JudgeController handles judge requests.
type JudgeController struct {
	svc       JudgeService
	runner    Runner
	languages LanguageLister

	// WatchInterval is how often a watch connection polls status.
	WatchInterval time.Duration
	upgrader      websocket.Upgrader
}

// NewJudgeController creates a new controller.
func NewJudgeController(svc JudgeService, runner Runner, languages LanguageLister) *JudgeController {
	return &JudgeController{
		svc:           svc,
		runner:        runner,
		languages:     languages,
		WatchInterval: defaultWatchInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts every judge endpoint on group.
func (h *JudgeController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/submissions", h.Submit)
	group.GET("/submissions/:id", h.GetStatus)
	group.GET("/submissions/:id/watch", h.Watch)
	group.POST("/submissions/:id/cancel", h.Cancel)
	group.POST("/run", h.Run)
	group.POST("/problems/:id/testcases", h.AddTestCase)
	group.POST("/problems/:id/rejudge", h.Rejudge)
	group.GET("/languages", h.Languages)
}

// SubmitResponse is returned on accepted intake.
type SubmitResponse struct {
	SubmissionID string                 `json:"submission_id"`
	Status       model.SubmissionStatus `json:"status"`
}

// Submit stores a submission and dispatches it for judging.
func (h *JudgeController) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if userID, ok := middleware.UserID(c); ok {
		req.UserID = userID
	}
	sub, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, SubmitResponse{SubmissionID: sub.ID, Status: model.StatusSubmitted})
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.svc.Status(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Watch streams status snapshots over a websocket until the submission is terminal.
func (h *JudgeController) Watch(c *gin.Context) {
	submissionID := c.Param("id")
	ctx := c.Request.Context()
	// Fail before the upgrade so unknown ids get a regular error envelope.
	status, err := h.svc.Status(ctx, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.WatchInterval
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *model.JudgeStatus
	for {
		if last == nil || changed(*last, status) {
			if err := conn.WriteJSON(status); err != nil {
				logger.Debug(ctx, "watch write failed", zap.String("submission_id", submissionID), zap.Error(err))
				return
			}
			snapshot := status
			last = &snapshot
		}
		if status.Status.IsTerminal() {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(status.Status)))
			return
		}

		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := h.svc.Status(ctx, submissionID)
		if err != nil {
			logger.Warn(ctx, "watch status lookup failed", zap.String("submission_id", submissionID), zap.Error(err))
			continue
		}
		status = next
	}
}

func changed(prev, next model.JudgeStatus) bool {
	return prev.Status != next.Status || prev.Progress != next.Progress || prev.UpdatedAt != next.UpdatedAt
}

// Cancel stops a running judging pass.
func (h *JudgeController) Cancel(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submission_id": submissionID})
}

// RunRequest is an ad-hoc execution request.
type RunRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
}

// Run executes code once against custom input.
func (h *JudgeController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	out, err := h.runner.RunOnce(c.Request.Context(), req.Code, req.Language, req.Input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// AddTestCaseResponse reports the stored test case and how many submissions were re-dispatched.
type AddTestCaseResponse struct {
	TestCase model.TestCase `json:"test_case"`
	Rejudged int            `json:"rejudged"`
}

// AddTestCase stores a test case and re-judges pending submissions.
func (h *JudgeController) AddTestCase(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	var tc model.TestCase
	if err := c.ShouldBindJSON(&tc); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	stored, n, err := h.svc.AddTestCase(c.Request.Context(), problemID, tc)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, AddTestCaseResponse{TestCase: stored, Rejudged: n})
}

// RejudgeRequest selects which submissions of a problem to re-judge.
type RejudgeRequest struct {
	Statuses []model.SubmissionStatus `json:"statuses"`
}

// Rejudge re-dispatches submissions of a problem.
func (h *JudgeController) Rejudge(c *gin.Context) {
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	var req RejudgeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request parameters")
			return
		}
	}
	n, err := h.svc.Rejudge(c.Request.Context(), problemID, req.Statuses)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"problem_id": problemID, "rejudged": n})
}

// Languages lists supported language ids.
func (h *JudgeController) Languages(c *gin.Context) {
	response.Success(c, gin.H{"languages": h.languages.Languages()})
}

func problemIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErr.ValidationError("problem_id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}
