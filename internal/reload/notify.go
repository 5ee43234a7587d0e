// Package reload provides a SIGUSR2-driven config reload signal and an
// Updater that fans a new Options value out to every Agent subscribed
// to it.
package reload

// Notifier delivers a value on C each time the process receives a
// request to reload its configuration. C is buffered by one slot so a
// signal arriving while a previous reload is still being applied is
// coalesced rather than blocking the OS signal handler.
type Notifier struct {
	C chan struct{}
}

// NewNotifier initializes and returns a new notifier, already
// subscribed to the platform reload signal.
func NewNotifier() Notifier {
	n := Notifier{C: make(chan struct{}, 1)}
	n.subscribe()
	return n
}
