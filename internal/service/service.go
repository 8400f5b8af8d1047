// Package service exposes the session operations used by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Ai-QJY/every-thing-api/api/schemas"
	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/cookies"
	"github.com/Ai-QJY/every-thing-api/internal/detector"
	"github.com/Ai-QJY/every-thing-api/internal/injector"
	"github.com/Ai-QJY/every-thing-api/internal/monitor"
	"github.com/Ai-QJY/every-thing-api/internal/store"
	"github.com/Ai-QJY/every-thing-api/internal/tasks"
)

// Deps are the collaborators a Service is built from.
type Deps struct {
	Launcher browser.Launcher
	Detector detector.Detector
	Fs       afero.Fs
	Tasks    *tasks.Manager
	Notifier monitor.Notifier
}

// Service runs session operations one at a time against a freshly acquired browser.
type Service struct {
	cfg        config.Interface
	log        *zap.Logger
	launcher   browser.Launcher
	detector   detector.Detector
	normalizer *cookies.Normalizer
	injector   *injector.Injector
	sessions   *store.SessionStore
	cookieFile *store.KeyFileStore
	tasks      *tasks.Manager
	notifier   monitor.Notifier

	// sem admits one browser-driving operation at a time.
	sem *semaphore.Weighted

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New creates a Service.
func New(cfg config.Interface, deps Deps, logger *zap.Logger) *Service {
	logger = logger.Named("service")
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		log:        logger,
		launcher:   deps.Launcher,
		detector:   deps.Detector,
		normalizer: cookies.NewNormalizer(),
		injector:   injector.New(cfg, deps.Detector, logger),
		sessions:   store.NewSessionStore(deps.Fs, cfg, logger),
		cookieFile: store.NewKeyFileStore(deps.Fs, cfg.Session().CookieFile, logger),
		tasks:      deps.Tasks,
		notifier:   deps.Notifier,
		sem:        semaphore.NewWeighted(1),
		bgCtx:      bgCtx,
		bgCancel:   bgCancel,
	}
}

// Tasks exposes the background task registry.
func (s *Service) Tasks() *tasks.Manager { return s.tasks }

// Sessions exposes the session record store.
func (s *Service) Sessions() *store.SessionStore { return s.sessions }

// ValidateCookies normalizes records without touching a browser.
func (s *Service) ValidateCookies(ctx context.Context, records []schemas.CookieRecord) []schemas.ValidationResult {
	return s.normalizer.NormalizeAll(records)
}

// InjectCookies writes records into a new browsing context and, when the result is a
// logged-in session, saves a session record.
func (s *Service) InjectCookies(ctx context.Context, records []schemas.CookieRecord, userAgent string) (*schemas.InjectionReport, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	sess, err := acquire(ctx, s.launcher, s.cfg.Browser(), s.log)
	if err != nil {
		return nil, err
	}
	defer sess.release()

	report, err := s.injector.Inject(ctx, sess.bctx, sess.page, records, userAgent)
	if err != nil {
		return nil, err
	}
	if report.Success {
		rec := s.sessions.NewRecord(schemas.LoginCookieInjection)
		count := report.Injected
		rec.CookieCount = &count
		if err := s.sessions.Save(rec); err != nil {
			return report, err
		}
	}
	return report, nil
}

// ImportCookies injects the cookies stored in the configured cookie file.
func (s *Service) ImportCookies(ctx context.Context, userAgent string) (*schemas.InjectionReport, error) {
	records, err := s.cookieFile.LoadCookies()
	if err != nil {
		return nil, err
	}
	return s.InjectCookies(ctx, records, userAgent)
}

// WaitForLogin opens the target in a visible browser and waits for the user to sign in.
func (s *Service) WaitForLogin(ctx context.Context, timeoutSeconds int) (schemas.MonitorResult, error) {
	res, err := s.RunOAuthLogin(ctx, timeoutSeconds, "")
	if err != nil {
		return schemas.MonitorResult{}, err
	}
	return schemas.MonitorResult{Status: res.Status, Ticks: res.Ticks}, nil
}

// IsSessionValid reports whether the stored session record is live. It never fails.
func (s *Service) IsSessionValid(ctx context.Context) bool {
	return s.sessions.IsValid()
}

// GetSessionStatus reports the stored session. An absent or unreadable record is
// reported as logged out.
func (s *Service) GetSessionStatus(ctx context.Context) schemas.SessionStatus {
	rec, err := s.sessions.Load()
	if err != nil {
		if !errors.Is(err, store.ErrNoSession) {
			s.log.Warn("Session record unreadable.", zap.Error(err))
		}
		return schemas.SessionStatus{}
	}
	expiry := rec.ExpiresAt
	return schemas.SessionStatus{
		LoggedIn:      rec.LoggedIn,
		SessionValid:  rec.ValidAt(s.sessions.Now()),
		SessionExpiry: &expiry,
		BrowserType:   rec.BrowserType,
		LoginMethod:   rec.Method,
		CookieCount:   rec.CookieCount,
		SessionID:     rec.SessionID,
		Record:        rec,
	}
}

// Logout deletes the session record and the persistent browser profile.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return s.sessions.Clear()
}

// Shutdown stops background logins and waits for them to release their browsers.
func (s *Service) Shutdown(ctx context.Context) error {
	s.bgCancel()
	var err error
	if s.tasks != nil {
		err = s.tasks.Stop(ctx)
	}

	timeout := releaseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !timedWait(&s.bgWG, timeout) {
		return fmt.Errorf("background logins still running after %s", timeout)
	}
	s.log.Info("Service shut down.")
	return err
}
