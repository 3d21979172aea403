package tracker

import (
	"context"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

// RunPollLoop refreshes every resting order on a fixed interval until the
// context ends or the process shuts down.
func (t *Tracker) RunPollLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, order := range t.ListOpen() {
				if _, err := t.Poll(ctx, order.ClientID); err != nil {
					logs.Warnf("poll order %s, err: %+v", order.ClientID, err)
				}
			}
		}
	}
}

// RunReconcileLoop resolves unknown-outcome orders on a fixed interval.
func (t *Tracker) RunReconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, order := range t.ListFailed() {
				if _, err := t.Reconcile(ctx, order.ClientID); err != nil {
					logs.Warnf("reconcile order %s, err: %+v", order.ClientID, err)
				}
			}
		}
	}
}
