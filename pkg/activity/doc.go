// Package activity keeps a split keyboard link on low-latency connection
// parameters while input activity occurs and moves it to low-power parameters
// after a period of inactivity.
//
// The Manager is a two-state machine (active, idle) driven by two inputs:
//   - activity events delivered by the event bus, handled synchronously;
//   - expiry of a restartable inactivity timer, handled on a work queue.
//
// Both paths share one lock. An activity event always resets the timer under
// that lock, so an expiry that fired before the reset is recognised as stale
// when the work queue gets to it and the link stays active.
//
// Parameter updates are pushed to every connection on which the local device
// has the central role. A failed update is logged and reported but never stops
// the remaining updates and never changes the recorded mode; the next
// transition tries again.
package activity
