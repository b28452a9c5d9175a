package voiceclient

// ConnectionState tracks the lifecycle of the single logical connection.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateOpen         ConnectionState = "open"
	StateSettingsSent ConnectionState = "settings_sent"
	StateReady        ConnectionState = "ready"
	StateClosing      ConnectionState = "closing"
	StateClosed       ConnectionState = "closed"
	StateErrored      ConnectionState = "errored"
)

// setStateLocked transitions the connection state and surfaces the change.
// Callers hold c.mu.
func (c *Client) setStateLocked(next ConnectionState) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.metrics.ObserveStateTransition(string(prev), string(next))
	if c.debugEnabled() {
		c.logf("state %s -> %s", prev, next)
	}
	c.emit(StateChangeEvent{Previous: prev, Current: next})
}

// terminateLocked ends the current connection attempt or session, releasing
// everything tied to it. Idempotent per connection. Callers hold c.mu.
func (c *Client) terminateLocked(next ConnectionState, err error) {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.capturing.Store(false)
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if err != nil {
		c.termErr = err
	}
	c.setStateLocked(next)
	if c.done != nil && !c.doneClosed {
		close(c.done)
		c.doneClosed = true
		if c.conn != nil {
			c.metrics.ConnClosed()
		}
	}
}
