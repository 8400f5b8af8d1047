package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/monitor"
)

// Form selectors of the password login page.
const (
	usernameSelector = "input[name='username']"
	passwordSelector = "input[name='password']"
	rememberSelector = "input[name='remember']"
	submitSelector   = "button[type='submit']"
)

// ErrNoTasks is returned when background logins are requested without a task manager.
var ErrNoTasks = errors.New("background tasks are not enabled")

// Credentials for the password login form.
type Credentials struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"remember_me"`
}

// LoginWithPassword submits the login form and waits for the app to show a session.
func (s *Service) LoginWithPassword(ctx context.Context, creds Credentials) (*schemas.LoginResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	started := time.Now()
	sess, err := acquire(ctx, s.launcher, s.cfg.Browser(), s.log)
	if err != nil {
		return nil, err
	}
	defer sess.release()

	page := sess.page
	if err := page.Goto(ctx, s.cfg.Target().URL, browser.LoadDOMContentLoaded, s.cfg.Browser().Timeout); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}
	if err := page.Fill(ctx, usernameSelector, creds.Username); err != nil {
		return nil, fmt.Errorf("failed to fill username: %w", err)
	}
	if err := page.Fill(ctx, passwordSelector, creds.Password); err != nil {
		return nil, fmt.Errorf("failed to fill password: %w", err)
	}
	if creds.RememberMe {
		if ok, err := page.HasElement(ctx, rememberSelector); err == nil && ok {
			if err := page.Click(ctx, rememberSelector); err != nil {
				s.log.Warn("Could not tick remember me.", zap.Error(err))
			}
		}
	}
	if err := page.Click(ctx, submitSelector); err != nil {
		return nil, fmt.Errorf("failed to submit login form: %w", err)
	}

	mon := monitor.New(s.cfg.Login(), s.detector, nil, s.log)
	res := mon.WaitForLogin(ctx, sess.bctx, int(s.cfg.Login().Timeout/time.Second))
	result := &schemas.LoginResult{
		Status:      res.Status,
		Ticks:       res.Ticks,
		LoginMethod: schemas.LoginPassword,
	}
	if res.Status == schemas.MonitorDetected {
		if err := s.persistLogin(ctx, sess.bctx, result, ""); err != nil {
			return result, err
		}
	}
	result.DurationSec = time.Since(started).Seconds()
	return result, nil
}

// RunOAuthLogin opens the target in a visible persistent profile and waits for the
// user to finish signing in, popups included. On success the jar is exported and a
// session record is saved.
func (s *Service) RunOAuthLogin(ctx context.Context, timeoutSeconds int, provider string) (*schemas.LoginResult, error) {
	return s.runOAuthLogin(ctx, monitor.New(s.cfg.Login(), s.detector, s.notifier, s.log), timeoutSeconds, provider)
}

func (s *Service) runOAuthLogin(ctx context.Context, mon *monitor.Monitor, timeoutSeconds int, provider string) (*schemas.LoginResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	if mon.Stopped() {
		return &schemas.LoginResult{Status: schemas.MonitorCancelled, LoginMethod: schemas.LoginOAuth}, nil
	}
	if provider == "" {
		provider = s.cfg.Login().DefaultProvider
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = int(s.cfg.Login().OAuthTimeout / time.Second)
	}

	cfg := s.cfg.Browser()
	cfg.Headless = false
	cfg.Persistent = true

	started := time.Now()
	sess, err := acquire(ctx, s.launcher, cfg, s.log)
	if err != nil {
		return nil, err
	}
	defer sess.release()

	sess.bctx.OnNewPage(func(p browser.Surface) {
		u, _ := p.URL(context.Background())
		s.log.Info("New window opened.", zap.String("url", u))
	})

	if err := sess.page.Goto(ctx, s.cfg.Target().URL, browser.LoadDOMContentLoaded, cfg.Timeout); err != nil {
		if errors.Is(err, browser.ErrContextClosed) || ctx.Err() != nil {
			return nil, fmt.Errorf("failed to open %s: %w", s.cfg.Target().URL, err)
		}
		s.log.Warn("Target did not finish loading, continuing to wait for login.", zap.Error(err))
	}

	res := mon.WaitForLogin(ctx, sess.bctx, timeoutSeconds)
	result := &schemas.LoginResult{
		Status:      res.Status,
		Ticks:       res.Ticks,
		LoginMethod: schemas.LoginOAuth,
	}
	if res.Status == schemas.MonitorDetected {
		if err := s.persistLogin(ctx, sess.bctx, result, provider); err != nil {
			return result, err
		}
	}
	result.DurationSec = time.Since(started).Seconds()
	return result, nil
}

// persistLogin exports the jar and saves a session record for result.
func (s *Service) persistLogin(ctx context.Context, bctx browser.BrowsingContext, result *schemas.LoginResult, provider string) error {
	jar, err := bctx.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	if err := s.cookieFile.SaveCookies(jar, time.Now()); err != nil {
		return err
	}
	rec := s.sessions.NewRecord(result.LoginMethod)
	count := len(jar)
	rec.CookieCount = &count
	rec.OAuthProvider = provider
	if err := s.sessions.Save(rec); err != nil {
		return err
	}
	result.CookieCount = count
	result.SavedTo = s.cookieFile.Path()
	result.SessionID = rec.SessionID
	return nil
}

// StartOAuthLogin runs RunOAuthLogin in the background and returns the tracking task.
// Cancelling the task stops the wait within one poll interval.
func (s *Service) StartOAuthLogin(timeoutSeconds int, provider string) (schemas.Task, error) {
	if s.tasks == nil {
		return schemas.Task{}, ErrNoTasks
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = int(s.cfg.Login().OAuthTimeout / time.Second)
	}
	mon := monitor.New(s.cfg.Login(), s.detector, s.notifier, s.log)
	timeout := time.Duration(timeoutSeconds) * time.Second
	task := s.tasks.Create(schemas.TaskOAuthLogin, timeout, taskGrace(s.cfg, mon, timeoutSeconds), mon.Stop)

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		stop := context.AfterFunc(s.bgCtx, mon.Stop)
		defer stop()

		logger := s.log.With(zap.String("task_id", task.TaskID))
		result, err := s.runOAuthLogin(s.bgCtx, mon, timeoutSeconds, provider)
		status, msg := taskOutcome(result, err)
		if _, uerr := s.tasks.Update(task.TaskID, status, result, msg); uerr != nil {
			logger.Warn("Task vanished before completion.", zap.Error(uerr))
		}
		logger.Info("Background login finished.", zap.String("status", string(status)))
	}()
	return task, nil
}

// taskGrace is the time a background login may run past its nominal timeout. Launch and
// the first navigation are each bounded by browser.timeout; every tick may spend up to
// one more interval on detection.
func taskGrace(cfg config.Interface, mon *monitor.Monitor, timeoutSeconds int) time.Duration {
	ticks := time.Duration(mon.Budget(timeoutSeconds))
	return 2*cfg.Browser().Timeout + ticks*mon.Interval()
}

func taskOutcome(result *schemas.LoginResult, err error) (schemas.TaskStatus, string) {
	if err != nil {
		return schemas.TaskFailed, err.Error()
	}
	switch result.Status {
	case schemas.MonitorDetected:
		return schemas.TaskCompleted, ""
	case schemas.MonitorTimeout:
		return schemas.TaskTimeout, "login was not completed in time"
	case schemas.MonitorCancelled:
		return schemas.TaskCancelled, ""
	case schemas.MonitorContextClosed:
		return schemas.TaskCancelled, "browser window was closed before login completed"
	default:
		return schemas.TaskFailed, fmt.Sprintf("unexpected monitor status %q", result.Status)
	}
}
