// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Ai-QJY/every-thing-api/internal/browser"
	"github.com/Ai-QJY/every-thing-api/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Target() config.TargetConfig {
	args := m.Called()
	return args.Get(0).(config.TargetConfig)
}

func (m *MockConfig) Session() config.SessionConfig {
	args := m.Called()
	return args.Get(0).(config.SessionConfig)
}

func (m *MockConfig) Login() config.LoginConfig {
	args := m.Called()
	return args.Get(0).(config.LoginConfig)
}

func (m *MockConfig) Injection() config.InjectionConfig {
	args := m.Called()
	return args.Get(0).(config.InjectionConfig)
}

func (m *MockConfig) API() config.APIConfig {
	args := m.Called()
	return args.Get(0).(config.APIConfig)
}

func (m *MockConfig) Tasks() config.TasksConfig {
	args := m.Called()
	return args.Get(0).(config.TasksConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserDriver(d string) {
	m.Called(d)
}

// -- Detector Mock --

// MockDetector mocks detector.Detector.
type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) IsLoggedIn(ctx context.Context, surface browser.Surface) (bool, error) {
	args := m.Called(ctx, surface)
	return args.Bool(0), args.Error(1)
}

// -- Notifier Mock --

// MockNotifier mocks monitor.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(lines []string) {
	m.Called(lines)
}

// -- Launcher Mock --

// MockLauncher mocks browser.Launcher.
type MockLauncher struct {
	mock.Mock
}

var _ browser.Launcher = (*MockLauncher)(nil)

func (m *MockLauncher) Launch(ctx context.Context, cfg config.BrowserConfig) (browser.Engine, error) {
	args := m.Called(ctx, cfg)
	var engine browser.Engine
	if e := args.Get(0); e != nil {
		engine = e.(browser.Engine)
	}
	return engine, args.Error(1)
}
