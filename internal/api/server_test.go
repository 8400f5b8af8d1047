package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/browser/browsertest"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/detector"
	"github.com/Ai-QJY/every-thing-api/internal/service"
	"github.com/Ai-QJY/every-thing-api/internal/tasks"
)

type harness struct {
	server   *Server
	svc      *service.Service
	launcher *browsertest.Launcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.APICfg.Mode = gin.TestMode
	cfg.BrowserCfg.UserDataDir = "/profile"
	cfg.SessionCfg.Dir = "/sessions"
	cfg.SessionCfg.CookieFile = "/data/cookies.json"
	cfg.InjectionCfg.SettleWait = 0
	cfg.InjectionCfg.BootstrapRate = 1000
	cfg.LoginCfg.PollInterval = 5 * time.Millisecond

	logger := zaptest.NewLogger(t)
	taskManager, err := tasks.NewManager(cfg.Tasks(), logger)
	require.NoError(t, err)

	launcher := &browsertest.Launcher{Engine: &browsertest.Engine{}}
	loggedIn := detector.Func(func(ctx context.Context, s browser.Surface) (bool, error) {
		jar, err := s.Context().Cookies(ctx)
		return len(jar) > 0, err
	})
	svc := service.New(cfg, service.Deps{
		Launcher: launcher,
		Detector: loggedIn,
		Fs:       afero.NewMemMapFs(),
		Tasks:    taskManager,
	}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	return &harness{
		server:   NewServer(cfg.API(), svc, "test", logger),
		svc:      svc,
		launcher: launcher,
	}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthAndRoot(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = h.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ServiceName)
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestValidateCookies(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/session/cookies/validate",
		`[{"name":"sid","value":"v","domain":"grok.com"},{"value":"v","domain":"grok.com"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var results []schemas.ValidationResult
	decode(t, w, &results)
	require.Len(t, results, 2)
	assert.True(t, results[0].Valid)
	assert.False(t, results[1].Valid)
	assert.True(t, results[1].HasError(schemas.ValidationMissingField, "name"))
}

func TestValidateCookies_BadBody(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/session/cookies/validate", `{"not":"a list"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "request_id")
}

func TestInjectCookies(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/session/cookies/inject",
		`{"cookies":[{"name":"sid","value":"v","domain":".grok.com","path":"/"}],"user_agent":"UA/1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report schemas.InjectionReport
	decode(t, w, &report)
	assert.Equal(t, 1, report.Injected)
	assert.True(t, report.Success)

	w = h.do(t, http.MethodGet, "/api/session/valid", "")
	assert.JSONEq(t, `{"valid":true}`, w.Body.String())

	w = h.do(t, http.MethodGet, "/api/session/status", "")
	var status schemas.SessionStatus
	decode(t, w, &status)
	assert.True(t, status.LoggedIn)
	assert.Equal(t, schemas.LoginCookieInjection, status.LoginMethod)
}

func TestInjectCookies_DriverUnavailable(t *testing.T) {
	h := newHarness(t)
	h.launcher.Err = errors.New("no browser")
	w := h.do(t, http.MethodPost, "/api/session/cookies/inject",
		`{"cookies":[{"name":"sid","value":"v","domain":".grok.com"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInjectCookies_MissingCookies(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/session/cookies/inject", `{"user_agent":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_RequiresCredentials(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/session/login", `{"username":"u"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.launcher.Launches())
}

func TestOAuthTaskLifecycle(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/session/oauth", `{"timeout_seconds":600,"provider":"github"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var task schemas.Task
	decode(t, w, &task)
	require.NotEmpty(t, task.TaskID)
	assert.Equal(t, schemas.TaskWaitingForLogin, task.Status)

	w = h.do(t, http.MethodGet, "/api/session/oauth/"+task.TaskID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodDelete, "/api/session/oauth/"+task.TaskID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		got, err := h.svc.Tasks().Get(task.TaskID)
		return err == nil && got.Status == schemas.TaskCancelled
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStartOAuth_EmptyChunkedBody(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session/oauth", bytes.NewReader(nil))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var task schemas.Task
	decode(t, w, &task)
	assert.Equal(t, 600, task.Timeout, "the configured OAuth timeout applies")

	_, err := h.svc.Tasks().Cancel(task.TaskID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := h.svc.Tasks().Get(task.TaskID)
		return err == nil && got.Status == schemas.TaskCancelled
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStartOAuth_MalformedBody(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/session/oauth", `{"timeout_seconds":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.svc.Tasks().List())
}

func TestOAuthTask_NotFound(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/session/oauth/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = h.do(t, http.MethodDelete, "/api/session/oauth/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Sessions().Save(h.svc.Sessions().NewRecord(schemas.LoginOAuth)))

	w := h.do(t, http.MethodPost, "/api/session/logout", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, h.svc.IsSessionValid(context.Background()))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(browser.ErrDriverUnavailable))
	assert.Equal(t, http.StatusNotFound, statusFor(tasks.ErrTaskNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/session/status", strings.NewReader(""))
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	h := newHarness(t)
	h.server.engine.GET("/panic", func(*gin.Context) { panic("kaboom") })
	w := h.do(t, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal Server Error")
}
