// Package auth implements the CredentialsAuthority a component socket
// consults to resolve a STUN request's USERNAME to the short-term
// MESSAGE-INTEGRITY key that should verify it (spec.md §6.1, §6.4).
// Unlike long-term TURN credentials, ICE never challenges with a
// server NONCE: the ufrag/password pair is learned once via
// offer/answer and used directly.
package auth

import "sync"

// Credentials is one media stream's local/remote ufrag+password pair,
// as established by the offer/answer exchange (spec.md §6.4).
type Credentials struct {
	LocalUfrag    string
	LocalPassword string

	RemoteUfrag    string
	RemotePassword string
}

// Authority resolves ufrag fragments of a USERNAME attribute to the
// password that signs or verifies MESSAGE-INTEGRITY for that side, so
// a single listening socket can demultiplex STUN checks belonging to
// several concurrently-running Agents (spec.md §6.1's
// CredentialsAuthority). Lookups share a read lock; Register and Forget
// take the write lock and update the maps in place.
type Authority struct {
	mu    sync.RWMutex
	byMedia map[string]Credentials
	ufrags  map[string]string // ufrag -> media
}

// NewAuthority returns an empty Authority.
func NewAuthority() *Authority {
	return &Authority{
		byMedia: make(map[string]Credentials),
		ufrags:  make(map[string]string),
	}
}

// Register makes c resolvable under media, e.g. the stream name an
// Agent was configured with.
func (a *Authority) Register(media string, c Credentials) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byMedia[media] = c
	a.ufrags[c.LocalUfrag] = media
	a.ufrags[c.RemoteUfrag] = media
}

// Forget removes media's credentials, e.g. once its Agent terminates.
func (a *Authority) Forget(media string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.byMedia[media]
	if !ok {
		return
	}
	delete(a.byMedia, media)
	delete(a.ufrags, c.LocalUfrag)
	delete(a.ufrags, c.RemoteUfrag)
}

// LocalKey implements the local_key(username) callback: ufrag is the
// fragment naming this listener's own side of the exchange (the
// recipient of the request), so its password is both the key that
// verifies the request and the key that signs the response.
func (a *Authority) LocalKey(ufrag string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	media, ok := a.ufrags[ufrag]
	if !ok {
		return nil, false
	}
	c := a.byMedia[media]
	if c.LocalUfrag == ufrag {
		return []byte(c.LocalPassword), true
	}
	return []byte(c.RemotePassword), true
}

// RemoteKey implements the remote_key(username, media) callback: used
// to verify a response arriving for the named media stream against the
// credentials of whichever side owns ufrag.
func (a *Authority) RemoteKey(ufrag, media string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.byMedia[media]
	if !ok {
		return nil, false
	}
	switch ufrag {
	case c.LocalUfrag:
		return []byte(c.LocalPassword), true
	case c.RemoteUfrag:
		return []byte(c.RemotePassword), true
	default:
		return nil, false
	}
}
