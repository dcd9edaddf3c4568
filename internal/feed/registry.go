package feed

import "sync"

// Registry guards a list of groups behind a single mutex. Every mutation
// acquires the lock and releases it before any I/O: sockets are dialed,
// written, and closed strictly outside the critical section. Reads used for
// dispatch tolerate races by treating a not-found result as "just removed".
type Registry struct {
	mu     sync.Mutex
	groups []*Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddKeys shards newKeys into groups and returns the IDs of groups that
// gained at least one key and do not currently hold a live subscription —
// i.e. the groups the caller must dial. Keys already present anywhere are
// dropped. Remaining keys fill the first group under maxPerGroup whose
// status is ALIVE, PENDING, or DEAD (a refilled DEAD group is returned for
// redial); when no group has room a new one is created.
func (r *Registry) AddKeys(newKeys []string, maxPerGroup int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := make(map[string]struct{})
	for _, g := range r.groups {
		for k := range g.Keys {
			existing[k] = struct{}{}
		}
	}

	gained := make(map[string]struct{})
	for _, key := range newKeys {
		if key == "" {
			continue
		}
		if _, dup := existing[key]; dup {
			continue
		}

		var target *Group
		for _, g := range r.groups {
			if len(g.Keys) >= maxPerGroup {
				continue
			}
			switch g.Status {
			case StatusAlive, StatusPending, StatusDead:
				target = g
			}
			if target != nil {
				break
			}
		}
		if target == nil {
			target = newGroup(false)
			r.groups = append(r.groups, target)
		}

		target.Keys[key] = struct{}{}
		existing[key] = struct{}{}
		gained[target.ID] = struct{}{}
	}

	var dial []string
	for _, g := range r.groups {
		if _, ok := gained[g.ID]; ok && g.Status != StatusAlive {
			dial = append(dial, g.ID)
		}
	}
	return dial
}

// RemoveKeys removes oldKeys from whichever groups hold them and returns
// the keys that were actually present. Groups emptied here are left in
// place; the next reaper pass transitions them to CLEANUP so in-flight
// events drain naturally.
func (r *Registry) RemoveKeys(oldKeys []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, key := range oldKeys {
		for _, g := range r.groups {
			if _, ok := g.Keys[key]; ok {
				delete(g.Keys, key)
				removed = append(removed, key)
				break
			}
		}
	}
	return removed
}

// ReconnectAndCleanup classifies every group: empty unpinned groups are
// dropped from the registry and returned for out-of-lock socket teardown;
// DEAD groups that still hold keys (or are pinned) flip to PENDING and
// their IDs are returned for redial.
func (r *Registry) ReconnectAndCleanup() (redial []string, removed []*Group) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.groups[:0]
	for _, g := range r.groups {
		if len(g.Keys) == 0 && !g.pinned() {
			g.Status = StatusCleanup
			removed = append(removed, g)
			continue
		}
		if g.Status == StatusDead {
			g.Status = StatusPending
			redial = append(redial, g.ID)
		}
		kept = append(kept, g)
	}
	r.groups = kept
	return redial, removed
}

// ClearAllGroups atomically empties the registry and returns the removed
// groups so the caller can close their sockets outside the lock.
func (r *Registry) ClearAllGroups() []*Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.groups
	r.groups = nil
	return removed
}

// EnsurePinnedGroup returns the pinned (subscribe-all) group's ID, creating
// the group if none exists.
func (r *Registry) EnsurePinnedGroup() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.groups {
		if g.pinned() {
			return g.ID
		}
	}
	g := newGroup(true)
	r.groups = append(r.groups, g)
	return g.ID
}

// SetStatus publishes a group's lifecycle state. Unknown IDs are ignored
// (the group was removed while its socket was still reporting).
func (r *Registry) SetStatus(groupID string, status GroupStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g := r.find(groupID); g != nil {
		g.Status = status
	}
}

// Status returns a group's current status.
func (r *Registry) Status(groupID string) (GroupStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g := r.find(groupID); g != nil {
		return g.Status, true
	}
	return "", false
}

// GroupInfo returns a group's sorted key list and pinned flag.
func (r *Registry) GroupInfo(groupID string) (keys []string, pinned bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.find(groupID)
	if g == nil {
		return nil, false, false
	}
	return g.keyList(), g.pinned(), true
}

// KeySet returns a copy of a group's key set for receive-time filtering.
func (r *Registry) KeySet(groupID string) (map[string]struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.find(groupID)
	if g == nil {
		return nil, false
	}
	keys := make(map[string]struct{}, len(g.Keys))
	for k := range g.Keys {
		keys[k] = struct{}{}
	}
	return keys, true
}

// GroupCountForKey reports how many groups currently hold key. More than
// one violates the sharding invariant and is surfaced as a warning by the
// dispatch filter.
func (r *Registry) GroupCountForKey(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, g := range r.groups {
		if _, ok := g.Keys[key]; ok {
			n++
		}
	}
	return n
}

// HasKey reports whether any group holds key.
func (r *Registry) HasKey(key string) bool {
	return r.GroupCountForKey(key) > 0
}

// HasSubscribeToAll reports whether any group is pinned to the full stream.
func (r *Registry) HasSubscribeToAll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.groups {
		if g.pinned() {
			return true
		}
	}
	return false
}

// AttachSocket registers a socket on a group when none is present and
// returns the group's current socket. ok is false when the group has been
// removed.
func (r *Registry) AttachSocket(groupID string, s *GroupSocket) (*GroupSocket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.find(groupID)
	if g == nil {
		return nil, false
	}
	if g.sock == nil {
		g.sock = s
	}
	return g.sock, true
}

// SocketFor returns a group's current socket, or nil.
func (r *Registry) SocketFor(groupID string) *GroupSocket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g := r.find(groupID); g != nil {
		return g.sock
	}
	return nil
}

// Len returns the number of groups.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// GroupView is a detached copy of one group's state.
type GroupView struct {
	ID           string
	Keys         []string
	Status       GroupStatus
	SubscribeAll bool
}

// Snapshot returns a copy of every group, in shard order. Test helper.
func (r *Registry) Snapshot() []GroupView {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]GroupView, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, GroupView{
			ID:           g.ID,
			Keys:         g.keyList(),
			Status:       g.Status,
			SubscribeAll: g.SubscribeAll,
		})
	}
	return out
}

// find locates a group by ID. Caller holds the lock.
func (r *Registry) find(groupID string) *Group {
	for _, g := range r.groups {
		if g.ID == groupID {
			return g
		}
	}
	return nil
}
