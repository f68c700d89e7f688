package vm

// resetProcessState clears the process-scoped create/destroy guard so each
// test can build its own handle. Production code has no such reset: the
// one-way lifecycle is the point.
func resetProcessState() {
	processMu.Lock()
	defer processMu.Unlock()
	processLive = nil
	processDestroyed = false
}
