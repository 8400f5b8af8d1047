// internal/browser/harvester.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Harvester follows the in-flight requests of one page so callers can wait for the
// network to go quiet after a navigation.
type Harvester struct {
	logger           *zap.Logger
	lock             sync.RWMutex
	inflightRequests map[network.RequestID]bool
	lastActivity     time.Time
}

// NewHarvester subscribes to the network events of the page behind pageCtx.
// The network domain must be enabled on that page for events to arrive.
func NewHarvester(pageCtx context.Context, logger *zap.Logger) *Harvester {
	h := &Harvester{
		logger:           logger,
		inflightRequests: make(map[network.RequestID]bool),
		lastActivity:     time.Now(),
	}
	chromedp.ListenTarget(pageCtx, h.handleEvent)
	return h
}

func (h *Harvester) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.track(e.RequestID, true)
	case *network.EventLoadingFinished:
		h.track(e.RequestID, false)
	case *network.EventLoadingFailed:
		h.track(e.RequestID, false)
	}
}

func (h *Harvester) track(id network.RequestID, started bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if started {
		h.inflightRequests[id] = true
	} else {
		delete(h.inflightRequests, id)
	}
	h.lastActivity = time.Now()
}

// Inflight returns the number of requests that have started but not finished.
func (h *Harvester) Inflight() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.inflightRequests)
}

// WaitNetworkIdle blocks until no request has been in flight for quietPeriod.
func (h *Harvester) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	ticker := time.NewTicker(quietPeriod / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("WaitNetworkIdle aborted due to context cancellation.", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			h.lock.RLock()
			inflightCount := len(h.inflightRequests)
			idleFor := time.Since(h.lastActivity)
			h.lock.RUnlock()

			if inflightCount == 0 && idleFor >= quietPeriod {
				return nil
			}
			if inflightCount > 0 {
				h.logger.Debug("Waiting for network idle...", zap.Int("inflight_requests", inflightCount))
			}
		}
	}
}
