// Package registry tracks the agents currently connected to the hub, keyed by
// server id.
package registry

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/abracadabra-mc/abracadabra/hub/transport"
	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// Agent is one connected game-server agent.
type Agent struct {
	ServerID    string
	DisplayName string
	Conn        transport.Conn
	Kind        transport.Kind
	ConnectedAt time.Time
	Roster      []json.RawMessage
}

// Summary is the externally visible shape of an agent. It carries no handle.
type Summary = protocol.ServerSummary

// Registry holds at most one agent per server id. Registering an id that is
// already present replaces the entry; the old handle is simply forgotten.
type Registry struct {
	now func() time.Time

	mu     sync.RWMutex
	agents map[string]*Agent // server_id -> agent
}

// New creates an empty registry. A nil clock means time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now:    now,
		agents: make(map[string]*Agent),
	}
}

// Register inserts or overwrites the agent for serverID and returns a copy of
// the new entry.
func (r *Registry) Register(serverID, displayName string, conn transport.Conn) Agent {
	a := &Agent{
		ServerID:    serverID,
		DisplayName: displayName,
		Conn:        conn,
		Kind:        conn.Kind(),
		ConnectedAt: r.now().UTC(),
		Roster:      []json.RawMessage{},
	}

	r.mu.Lock()
	r.agents[serverID] = a
	r.mu.Unlock()

	cp := *a
	cp.Roster = []json.RawMessage{}
	return cp
}

// UnregisterByHandle removes the first agent whose handle is conn and reports
// its server id. Handles are not indexed, so this scans every entry.
func (r *Registry) UnregisterByHandle(conn transport.Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range r.agents {
		if a.Conn == conn {
			delete(r.agents, id)
			return id, true
		}
	}
	return "", false
}

// UpdateRoster replaces the roster of a known agent. Unknown ids are ignored.
func (r *Registry) UpdateRoster(serverID string, roster []json.RawMessage) bool {
	cp := cloneRoster(roster)

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[serverID]
	if !ok {
		return false
	}
	a.Roster = cp
	return true
}

// List returns a snapshot of all agents ordered by connection time.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, Summary{
			ServerID:    a.ServerID,
			ServerName:  a.DisplayName,
			ConnectedAt: a.ConnectedAt,
			PlayerCount: len(a.Roster),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ServerID < out[j].ServerID
	})
	return out
}

// Roster returns a copy of the agent's last pushed roster.
func (r *Registry) Roster(serverID string) ([]json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[serverID]
	if !ok {
		return nil, false
	}
	return cloneRoster(a.Roster), true
}

// Lookup returns a copy of the agent entry for serverID.
func (r *Registry) Lookup(serverID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[serverID]
	if !ok {
		return Agent{}, false
	}
	cp := *a
	cp.Roster = cloneRoster(a.Roster)
	return cp, true
}

// Len returns the number of connected agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// IDs returns the connected server ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// cloneRoster copies the slice and each entry so callers never share backing
// arrays with the registry.
func cloneRoster(in []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(in))
	for i, p := range in {
		out[i] = append(json.RawMessage(nil), p...)
	}
	return out
}
