package clock

// PeriodicTimer signals once every period ticks. It belongs to the main loop
// and is not safe for concurrent use.
type PeriodicTimer struct {
	prev uint32
}

// Reset restarts the period at now.
func (p *PeriodicTimer) Reset(now uint32) {
	p.prev = now
}

// Signaled reports whether period ticks have elapsed since the last signal
// or reset; when it does, the next period starts at now.
func (p *PeriodicTimer) Signaled(now, period uint32) bool {
	if Since(now, p.prev) >= period {
		p.prev = now
		return true
	}
	return false
}

// Remaining returns the ticks left until the next signal (0 if already due).
func (p *PeriodicTimer) Remaining(now, period uint32) uint32 {
	from := Since(now, p.prev)
	if from >= period {
		return 0
	}
	return period - from
}

// SecondsToTick returns whole seconds left until the next signal.
func (p *PeriodicTimer) SecondsToTick(now, period, freq uint32) uint32 {
	return p.Remaining(now, period) / freq
}
