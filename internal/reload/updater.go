package reload

import (
	"sync"
	"sync/atomic"

	ice "gortc.io/iceagent"
)

// Updater holds the current Options and fans updates out to every
// Agent subscribed to it, so a single config-file reload can apply to
// several agents sharing a process (e.g. one per media stream type).
type Updater struct {
	v         atomic.Value // ice.Options
	mux       sync.RWMutex
	listeners []*ice.Agent
}

// NewUpdater initializes an Updater holding o.
func NewUpdater(o ice.Options) *Updater {
	u := &Updater{}
	u.v.Store(o)
	return u
}

// Get returns the current Options.
func (u *Updater) Get() ice.Options {
	return u.v.Load().(ice.Options)
}

// Set stores o and pushes it to every subscribed Agent via
// Agent.SetOptions.
func (u *Updater) Set(o ice.Options) {
	u.v.Store(o)
	u.mux.RLock()
	for _, a := range u.listeners {
		a.SetOptions(o)
	}
	u.mux.RUnlock()
}

// Subscribe adds a to the set of agents notified on the next Set.
func (u *Updater) Subscribe(a *ice.Agent) {
	u.mux.Lock()
	u.listeners = append(u.listeners, a)
	u.mux.Unlock()
}
