// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext returns a context that inherits values and cancellation from ctx1
// and is additionally cancelled when ctx2 is done.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	// chromedp actions read the target from ctx1's values.
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
