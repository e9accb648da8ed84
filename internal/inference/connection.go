package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/events"
	"github.com/echosight/echosight/pkg/logging"
)

// ConnectionState is the client's view of server connectivity. It is
// mutated only by the client's own health-check routines; everyone else
// reads a copy through Client.State.
type ConnectionState struct {
	Connected         bool
	LastHealthCheckAt time.Time
	RetryCount        int
	Model             string
	Capabilities      []string
}

// connection guards the state and the skip-if-running flag for the
// health-check loop.
type connection struct {
	mu      sync.RWMutex
	state   ConnectionState
	probing bool
}

func (c *connection) snapshot() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *connection) connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Connected
}

// tryBeginProbe marks a probe as running unless one already is.
func (c *connection) tryBeginProbe() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probing {
		return false
	}
	c.probing = true
	return true
}

func (c *connection) endProbe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probing = false
}

// State returns a copy of the current connection state.
func (c *Client) State() ConnectionState {
	return c.conn.snapshot()
}

// Connected reports whether the last health check succeeded.
func (c *Client) Connected() bool {
	return c.conn.connected()
}

// StartHealthLoop probes the server on a fixed interval until the context
// is canceled. A failed probe schedules one extra probe after the reconnect
// delay so recovery does not wait out a full interval.
func (c *Client) StartHealthLoop(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		// Probe once at startup so the orchestrator does not wait a
		// full interval before the first dispatch can pass its
		// connectivity precondition.
		c.CheckConnection(ctx)

		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()

		var reconnect <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if !c.CheckConnection(ctx) && reconnect == nil {
					reconnect = time.After(c.reconnectDelay)
				}
			case <-reconnect:
				reconnect = nil
				c.CheckConnection(ctx)
			}
		}
	}()
}

// CheckConnection performs one health probe and updates the connection
// state. Concurrent probes are skipped rather than stacked; a skipped call
// reports the current state. Returns whether the server is connected.
func (c *Client) CheckConnection(ctx context.Context) bool {
	if !c.conn.tryBeginProbe() {
		return c.conn.connected()
	}
	defer c.conn.endProbe()

	health, err := c.fetchHealth(ctx)

	c.conn.mu.Lock()
	prev := c.conn.state.Connected
	c.conn.state.LastHealthCheckAt = time.Now()
	if err != nil || !health.healthy() {
		c.conn.state.Connected = false
		c.conn.state.RetryCount++
	} else {
		c.conn.state.Connected = true
		c.conn.state.RetryCount = 0
		c.conn.state.Model = health.Model
		c.conn.state.Capabilities = health.Capabilities
	}
	now := c.conn.state.Connected
	model := c.conn.state.Model
	c.conn.mu.Unlock()

	if now != prev {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		c.logger.Info().
			Bool("connected", now).
			Str("model", model).
			Msg("Inference server connection changed")
		c.bus.Publish(ctx, events.ConnectionChanged{
			Connected: now,
			Model:     model,
			Reason:    reason,
		})

		if now && c.warmupOnConnect {
			c.warmup(ctx)
		}
	} else if err != nil {
		c.logger.Debug().Err(err).Msg("Health check failed")
	}

	return now
}

// fetchHealth performs the GET /health probe.
func (c *Client) fetchHealth(ctx context.Context) (*healthResponse, error) {
	probeCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, errors.Wrapf(err, "creating health request")
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "health check")
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewAPIError("/health", resp.StatusCode, "health check failed")
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, &errors.InvalidResponseError{Endpoint: "/health", Message: "decoding health payload", Err: err}
	}
	return &health, nil
}

// warmup asks the server to run a tiny generation so the first real request
// does not pay model warmup latency. Failures are logged and ignored.
func (c *Client) warmup(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/warmup", nil)
	if err != nil {
		return
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		logging.FromContext(ctx).Debug().Err(err).Msg("Warmup request failed")
		return
	}
	drainAndClose(resp)
}

// Stop halts the health loop and waits for in-progress probes to finish.
// Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}
