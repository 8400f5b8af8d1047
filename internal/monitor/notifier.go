package monitor

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers the one-time instructions shown when a wait starts.
type Notifier interface {
	Notify(lines []string)
}

// LogNotifier writes instructions to the structured log.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(lines []string) {
	for _, l := range lines {
		n.Logger.Info(l)
	}
}

// WriterNotifier prints instructions as a framed block, for terminals.
type WriterNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

// Notify implements Notifier.
func (n *WriterNotifier) Notify(lines []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(n.W, rule)
	for _, l := range lines {
		fmt.Fprintln(n.W, l)
	}
	fmt.Fprintln(n.W, rule)
}

// Instructions is the text emitted before polling starts.
func Instructions(timeout time.Duration) []string {
	return []string{
		"A browser window is open. Complete the sign-in there:",
		"  1. Click the sign-in button (for example 'Sign in with Google').",
		"  2. Sign in with the provider account and approve access.",
		"  3. Wait for the application to finish loading.",
		fmt.Sprintf("Waiting up to %s. Do not close the window before cookies are exported.", timeout),
	}
}
