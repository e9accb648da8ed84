package orchestrator

import (
	"context"
	"time"

	"github.com/echosight/echosight/pkg/events"
)

// SetRealtime turns the live-analysis polling loop on or off. Enabling while
// already enabled (or after shutdown) is a no-op. Disabling waits for the
// loop goroutine to exit.
func (o *Orchestrator) SetRealtime(enabled bool) {
	o.mu.Lock()
	if o.down || o.polling == enabled {
		o.mu.Unlock()
		return
	}
	o.polling = enabled

	if enabled {
		ctx, cancel := context.WithCancel(context.Background())
		o.pollCancel = cancel
		o.pollWG.Add(1)
		go o.pollLoop(ctx)
		o.mu.Unlock()
	} else {
		cancel := o.pollCancel
		o.pollCancel = nil
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		o.pollWG.Wait()
	}

	o.logger.Info().Bool("enabled", enabled).Msg("Realtime analysis toggled")
	o.bus.Publish(context.Background(), events.RealtimeChanged{Enabled: enabled})
}

// Realtime reports whether the polling loop is running.
func (o *Orchestrator) Realtime() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.polling
}

// pollLoop dispatches one realtime analysis per tick. A tick that lands while
// the in-flight ceiling is reached is skipped, never queued. The loop
// disables itself when the camera stops or the server disconnects.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer o.pollWG.Done()

	ticker := time.NewTicker(o.realtime.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.source.Active() || !o.client.Connected() {
				o.logger.Info().Msg("Realtime analysis stopping, camera or connection lost")
				o.disableFromLoop(ctx)
				return
			}
			if o.atCapacity() {
				o.logger.Debug().Msg("Realtime tick skipped, in-flight ceiling reached")
				continue
			}
			if _, err := o.AnalyzeFrame(ctx, o.asRealtime()); err != nil {
				// Tick failures are expected under load; the loop
				// carries on and the next tick tries again.
				o.logger.Debug().Err(err).Msg("Realtime tick failed")
			}
		}
	}
}

// disableFromLoop flips polling off without waiting on the loop goroutine,
// which is the caller.
func (o *Orchestrator) disableFromLoop(ctx context.Context) {
	o.mu.Lock()
	if !o.polling {
		o.mu.Unlock()
		return
	}
	o.polling = false
	cancel := o.pollCancel
	o.pollCancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.bus.Publish(ctx, events.RealtimeChanged{Enabled: false})
}
