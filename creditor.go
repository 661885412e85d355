package session

import "sync"

// creditor batches the peer-credit/drain state for a single outgoing link
// between the time a 1.0 flow requests it and the time the session actor
// gets around to calling BackingChannel.Credit. Adapted from the teacher's
// manualCreditor: there, a caller issued credits out-of-band from the
// session's own mux goroutine and manualCreditor coalesced them; here the
// analogous race is between the session actor (which applies peer flow
// frames) and the broker's asynchronous credit-state callback that must be
// correlated back to the drain that requested it.
type creditor struct {
	mu sync.Mutex

	pendingDrain bool
	creditToAdd  uint32

	// draining is non-nil while a drain is outstanding, closed when the
	// broker's credit-state confirms it.
	draining chan struct{}
}

// RequestFlow records a peer flow's credit/drain request for the next call
// to BackingChannel.Credit. Multiple flows arriving before the broker call
// happens are coalesced: credits accumulate, drain is sticky-true.
func (c *creditor) RequestFlow(credit uint32, drain bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creditToAdd += credit
	if drain {
		c.pendingDrain = true
	}
}

// Pending returns and clears the accumulated credit/drain request.
func (c *creditor) Pending() (credit uint32, drain bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	credit, drain = c.creditToAdd, c.pendingDrain
	c.creditToAdd, c.pendingDrain = 0, false
	return credit, drain
}

// BeginDrain marks a drain as outstanding so EndDrain can be correlated to
// it when the broker's credit-state callback arrives.
func (c *creditor) BeginDrain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draining = make(chan struct{})
}

// EndDrain completes an outstanding drain, if any.
func (c *creditor) EndDrain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining != nil {
		close(c.draining)
		c.draining = nil
	}
}

// IsDraining reports whether a drain is currently outstanding.
func (c *creditor) IsDraining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining != nil
}
