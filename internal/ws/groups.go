package ws

import "sync"

// GroupRegistry tracks named broadcast groups of connection ids. A reverse
// index lets a closing connection leave all of its groups in one call.
type GroupRegistry struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // group -> connection ids
	joined  map[string]map[string]struct{} // connection id -> groups
}

// NewGroupRegistry creates an empty GroupRegistry.
func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds connID to group. Joining twice is a no-op.
func (g *GroupRegistry) Join(connID, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.members[group]
	if !ok {
		m = make(map[string]struct{})
		g.members[group] = m
	}
	m[connID] = struct{}{}

	j, ok := g.joined[connID]
	if !ok {
		j = make(map[string]struct{})
		g.joined[connID] = j
	}
	j[group] = struct{}{}
}

// Leave removes connID from group.
func (g *GroupRegistry) Leave(connID, group string) {
	g.mu.Lock()
	g.leave(connID, group)
	g.mu.Unlock()
}

// LeaveAll removes connID from every group it joined.
func (g *GroupRegistry) LeaveAll(connID string) {
	g.mu.Lock()
	for group := range g.joined[connID] {
		g.leave(connID, group)
	}
	delete(g.joined, connID)
	g.mu.Unlock()
}

func (g *GroupRegistry) leave(connID, group string) {
	if m, ok := g.members[group]; ok {
		delete(m, connID)
		if len(m) == 0 {
			delete(g.members, group)
		}
	}
	if j, ok := g.joined[connID]; ok {
		delete(j, group)
		if len(j) == 0 {
			delete(g.joined, connID)
		}
	}
}

// Members returns the union of the given groups, each connection once,
// without the excluded connections.
func (g *GroupRegistry) Members(groups []string, exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, c := range exclude {
		skip[c] = struct{}{}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, group := range groups {
		for c := range g.members[group] {
			if _, ok := skip[c]; ok {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Groups returns the groups connID belongs to.
func (g *GroupRegistry) Groups(connID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.joined[connID]))
	for group := range g.joined[connID] {
		out = append(out, group)
	}
	return out
}

// Size returns the number of connections in group.
func (g *GroupRegistry) Size(group string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members[group])
}
