package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/service"
	"github.com/Ai-QJY/every-thing-api/internal/tasks"
)

// InjectRequest is the body of POST /api/session/cookies/inject.
type InjectRequest struct {
	Cookies   []schemas.CookieRecord `json:"cookies" binding:"required"`
	UserAgent string                 `json:"user_agent"`
}

// ImportRequest is the optional body of POST /api/session/cookies/import.
type ImportRequest struct {
	UserAgent string `json:"user_agent"`
}

// OAuthRequest is the optional body of POST /api/session/oauth.
type OAuthRequest struct {
	TimeoutSeconds int    `json:"timeout_seconds" binding:"gte=0"`
	Provider       string `json:"provider"`
}

func errorBody(c *gin.Context, message string) gin.H {
	return gin.H{
		"error":      true,
		"message":    message,
		"request_id": c.GetString(requestIDKey),
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, browser.ErrDriverUnavailable), errors.Is(err, service.ErrNoTasks):
		return http.StatusServiceUnavailable
	case errors.Is(err, tasks.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), errorBody(c, err.Error()))
}

func (s *Server) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(c, "invalid request body: "+err.Error()))
}

// bindOptional decodes a JSON body when one was sent. An empty body, including an
// empty chunked one, leaves v at its zero value.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": ServiceName,
		"version": s.version,
		"docs":    "/api/session",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   ServiceName,
		"version":   s.version,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var creds service.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		s.badRequest(c, err)
		return
	}
	result, err := s.svc.LoginWithPassword(c.Request.Context(), creds)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleValidate(c *gin.Context) {
	var records []schemas.CookieRecord
	if err := c.ShouldBindJSON(&records); err != nil {
		s.badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, s.svc.ValidateCookies(c.Request.Context(), records))
}

func (s *Server) handleInject(c *gin.Context) {
	var req InjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	report, err := s.svc.InjectCookies(c.Request.Context(), req.Cookies, req.UserAgent)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleImport(c *gin.Context) {
	var req ImportRequest
	if err := bindOptional(c, &req); err != nil {
		s.badRequest(c, err)
		return
	}
	report, err := s.svc.ImportCookies(c.Request.Context(), req.UserAgent)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleStartOAuth(c *gin.Context) {
	var req OAuthRequest
	if err := bindOptional(c, &req); err != nil {
		s.badRequest(c, err)
		return
	}
	task, err := s.svc.StartOAuthLogin(req.TimeoutSeconds, req.Provider)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("OAuth login started.", zap.String("task_id", task.TaskID), zap.String("request_id", c.GetString(requestIDKey)))
	c.JSON(http.StatusAccepted, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.svc.Tasks().Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	task, err := s.svc.Tasks().Cancel(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GetSessionStatus(c.Request.Context()))
}

func (s *Server) handleValid(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"valid": s.svc.IsSessionValid(c.Request.Context())})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.svc.Logout(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}
