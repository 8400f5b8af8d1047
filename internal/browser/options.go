// internal/browser/options.go
package browser

import (
	"runtime"
	"sort"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/Ai-QJY/every-thing-api/internal/config"
)

// allocatorFlags computes the Chrome command line switches for cfg.
// A false value removes a switch that chromedp enables by default.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                 cfg.Headless,
		"enable-automation":        false,
		"disable-blink-features":   "AutomationControlled",
		"no-first-run":             true,
		"no-default-browser-check": true,
		"disable-popup-blocking":   true,
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
	}
	if cfg.UserAgent != "" {
		flags["user-agent"] = cfg.UserAgent
	}
	if cfg.Persistent && cfg.UserDataDir != "" {
		flags["user-data-dir"] = cfg.UserDataDir
	}
	if runtime.GOOS == "linux" {
		// Containers rarely provide a usable sandbox or a large /dev/shm.
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
	}

	// Custom args are applied last so they can override anything above.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			flags[key] = strings.Trim(value, `"`)
		} else {
			flags[arg] = true
		}
	}
	return flags
}

// DefaultAllocatorOptions builds chromedp exec allocator options from the browser configuration.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := allocatorFlags(cfg)
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, chromedp.Flag(k, flags[k]))
	}

	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	return opts
}
