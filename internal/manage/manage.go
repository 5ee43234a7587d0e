// Package manage implements HTTP introspection and reload endpoints
// for a running Agent: GET /status reports its streams, components and
// succeeded pairs as JSON; POST /reload triggers a config reload.
package manage

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	ice "gortc.io/iceagent"
)

// Notifier wraps the method invoked when a reload is requested.
type Notifier interface {
	Notify()
}

// Manager handles management endpoints for a single Agent.
type Manager struct {
	agent    *ice.Agent
	notifier Notifier
	l        *zap.Logger
}

// NewManager initializes and returns a Manager for agent.
func NewManager(l *zap.Logger, agent *ice.Agent, n Notifier) Manager {
	return Manager{l: l, agent: agent, notifier: n}
}

func (m Manager) fprintln(w io.Writer, a ...interface{}) {
	if _, err := fmt.Fprintln(w, a...); err != nil {
		m.l.Warn("failed to write", zap.Error(err))
	}
}

// ServeHTTP implements http.Handler.
func (m Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/reload":
		m.l.Info("got reload request")
		w.WriteHeader(http.StatusOK)
		m.notifier.Notify()
		m.fprintln(w, "agent will be reloaded soon")
	case "/status":
		m.serveStatus(w)
	default:
		w.WriteHeader(http.StatusNotFound)
		m.fprintln(w, "management endpoint not found")
	}
}

type pairStatus struct {
	Local     string `json:"local"`
	Remote    string `json:"remote"`
	State     string `json:"state"`
	Nominated bool   `json:"nominated"`
}

type componentStatus struct {
	ID       int          `json:"id"`
	Selected string       `json:"selected,omitempty"`
	Pairs    []pairStatus `json:"pairs"`
}

type streamStatus struct {
	Name       string            `json:"name"`
	State      string            `json:"state"`
	Components []componentStatus `json:"components"`
}

type agentStatus struct {
	State       string         `json:"state"`
	Controlling bool           `json:"controlling"`
	Streams     []streamStatus `json:"streams"`
}

func (m Manager) status() agentStatus {
	st := agentStatus{
		State:       m.agent.State().String(),
		Controlling: m.agent.Controlling(),
	}
	for _, s := range m.agent.Streams() {
		ss := streamStatus{Name: s.Name, State: s.State().String()}
		for _, c := range s.Components() {
			cs := componentStatus{ID: c.ID}
			if sel := c.Selected(); sel != nil {
				cs.Selected = sel.Remote.Addr.String()
			}
			for _, p := range c.SucceededPairs() {
				cs.Pairs = append(cs.Pairs, pairStatus{
					Local:     p.Local.Addr.String(),
					Remote:    p.Remote.Addr.String(),
					State:     p.State().String(),
					Nominated: p.Nominated(),
				})
			}
			ss.Components = append(ss.Components, cs)
		}
		st.Streams = append(st.Streams, ss)
	}
	return st
}

func (m Manager) serveStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.status()); err != nil {
		m.l.Warn("failed to encode status", zap.Error(err))
	}
}
