// Package engine accepts loan-limit queries and runs their fan-out in the
// background. Submit returns as soon as the run exists; a detached goroutine
// executes the selected strategy, persists every result, finalizes the run
// and announces progress through the RunEventBroker and the Notifier.
package engine
