// File: internal/service/factory.go
package service

import (
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/browser/pwdriver"
	"github.com/Ai-QJY/every-thing-api/internal/config"
	"github.com/Ai-QJY/every-thing-api/internal/detector"
	"github.com/Ai-QJY/every-thing-api/internal/monitor"
	"github.com/Ai-QJY/every-thing-api/internal/tasks"
)

// LauncherFor returns the automation driver named by browser.driver.
func LauncherFor(cfg config.BrowserConfig, logger *zap.Logger) (browser.Launcher, error) {
	switch cfg.Driver {
	case config.DriverChromedp, "":
		return browser.NewChromedpLauncher(logger), nil
	case config.DriverPlaywright:
		return pwdriver.NewLauncher(logger, true), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// Build wires the production service on the OS filesystem.
func Build(cfg config.Interface, notifier monitor.Notifier, logger *zap.Logger) (*Service, error) {
	launcher, err := LauncherFor(cfg.Browser(), logger)
	if err != nil {
		return nil, err
	}
	taskManager, err := tasks.NewManager(cfg.Tasks(), logger)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = monitor.LogNotifier{Logger: logger.Named("instructions")}
	}
	return New(cfg, Deps{
		Launcher: launcher,
		Detector: detector.NewHeuristic(cfg.Target(), logger),
		Fs:       afero.NewOsFs(),
		Tasks:    taskManager,
		Notifier: notifier,
	}, logger), nil
}
