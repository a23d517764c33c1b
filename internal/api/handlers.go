package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"Agent-Arena/internal/agent"
	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/run"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type promptRequest struct {
	Text string `json:"text"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleSubmitRun(c *gin.Context) {
	var cfg agent.RunConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		s.fail(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "request body is not a run configuration"))
		return
	}
	r, err := s.runs.Submit(c.Request.Context(), cfg)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, r)
}

func (s *Server) handleListRuns(c *gin.Context) {
	opts := []run.ListOption{}
	if active, _ := strconv.ParseBool(c.Query("active")); active {
		opts = append(opts, run.WithActive())
	} else if raw := c.Query("status"); raw != "" {
		var statuses []run.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, run.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil {
		opts = append(opts, run.WithLimit(n))
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil {
		opts = append(opts, run.WithOffset(n))
	}
	if c.Query("order") == "asc" {
		opts = append(opts, run.WithSortOrder(run.SortByCreatedAsc))
	}

	runs, err := s.runs.List(c.Request.Context(), opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	r, err := s.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleSubmitPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "request body must carry a text field"))
		return
	}
	r, err := s.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !r.Status.Active() {
		s.fail(c, xerrors.New(run.CodeRunCompleted, "run already finished"))
		return
	}
	p, err := s.events.SubmitPrompt(c.Request.Context(), r.ID, req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		limit = min(n, maxEventLimit)
	}
	if _, err := s.runs.Get(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	evs, err := s.events.ListEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	code := xerrors.CodeOf(err)
	msg := err.Error()
	var coded *xerrors.Error
	if errors.As(err, &coded) {
		msg = coded.Message()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "code", string(code), "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody{Code: string(code), Message: msg})
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, run.CodeRunValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, run.CodeRunNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, run.CodeRunConflict, run.CodeRunCompleted:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case run.CodeRunPublish, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
