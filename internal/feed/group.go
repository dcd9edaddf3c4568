package feed

import (
	"sort"

	"github.com/google/uuid"
)

// GroupStatus is the published lifecycle state of a group.
type GroupStatus string

const (
	// StatusPending: created or mid-dial, no subscribed socket yet.
	StatusPending GroupStatus = "PENDING"
	// StatusAlive: socket connected and subscription payload accepted.
	StatusAlive GroupStatus = "ALIVE"
	// StatusDead: socket errored or closed; the reaper will redial if the
	// group still holds keys.
	StatusDead GroupStatus = "DEAD"
	// StatusCleanup: empty and unpinned; removed at the next reaper pass.
	StatusCleanup GroupStatus = "CLEANUP"
)

// Group is a shard of subscription keys backed by at most one live
// websocket. All fields except ID are guarded by the owning registry's
// mutex; the ID is assigned at creation and never reused.
type Group struct {
	ID           string
	Keys         map[string]struct{}
	Status       GroupStatus
	SubscribeAll bool // pins the group alive even when Keys is empty

	sock *GroupSocket // current socket, nil before the first dial
}

func newGroup(subscribeAll bool) *Group {
	return &Group{
		ID:           uuid.NewString(),
		Keys:         make(map[string]struct{}),
		Status:       StatusPending,
		SubscribeAll: subscribeAll,
	}
}

// pinned reports whether the group survives with an empty key set.
func (g *Group) pinned() bool { return g.SubscribeAll }

// keyList returns the group's keys sorted, for stable subscribe payloads
// and logging.
func (g *Group) keyList() []string {
	keys := make([]string, 0, len(g.Keys))
	for k := range g.Keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
