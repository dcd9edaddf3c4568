package feed

import (
	"sort"
	"testing"
)

func allKeys(r *Registry) []string {
	var keys []string
	for _, g := range r.Snapshot() {
		keys = append(keys, g.Keys...)
	}
	sort.Strings(keys)
	return keys
}

// maxPerGroup=2 with three keys must shard into {a,b} and {c} and request
// two dials.
func TestAddKeysShardOverflow(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	dial := r.AddKeys([]string{"a", "b", "c"}, 2)
	if len(dial) != 2 {
		t.Fatalf("dial requests = %d, want 2", len(dial))
	}

	groups := r.Snapshot()
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if got := groups[0].Keys; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("group[0].Keys = %v, want [a b]", got)
	}
	if got := groups[1].Keys; len(got) != 1 || got[0] != "c" {
		t.Errorf("group[1].Keys = %v, want [c]", got)
	}
}

// A second add with an overlapping key must dial only the group that gained
// the genuinely new key.
func TestAddKeysDedup(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	first := r.AddKeys([]string{"a", "b"}, 2)
	if len(first) != 1 {
		t.Fatalf("first dial requests = %d, want 1", len(first))
	}
	// Pretend the first group connected.
	r.SetStatus(first[0], StatusAlive)

	second := r.AddKeys([]string{"b", "c"}, 2)
	if len(second) != 1 {
		t.Fatalf("second dial requests = %d, want 1", len(second))
	}
	if second[0] == first[0] {
		t.Errorf("second dial reused alive group %s; c should open a new group", first[0])
	}

	keys := allKeys(r)
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

// An ALIVE group that gains a key is filled but not returned for dial.
func TestAddKeysAliveGroupNotRedialed(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	first := r.AddKeys([]string{"a"}, 5)
	r.SetStatus(first[0], StatusAlive)

	dial := r.AddKeys([]string{"b"}, 5)
	if len(dial) != 0 {
		t.Errorf("dial requests = %v, want none (group is ALIVE)", dial)
	}
	if r.Len() != 1 {
		t.Errorf("groups = %d, want 1", r.Len())
	}
}

// A DEAD group is refilled and must be returned for redial.
func TestAddKeysRefillsDeadGroup(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	ids := r.AddKeys([]string{"a"}, 5)
	r.SetStatus(ids[0], StatusDead)

	dial := r.AddKeys([]string{"b"}, 5)
	if len(dial) != 1 || dial[0] != ids[0] {
		t.Fatalf("dial = %v, want [%s]", dial, ids[0])
	}
	if r.Len() != 1 {
		t.Errorf("groups = %d, want 1 (dead group refilled, not replaced)", r.Len())
	}
}

func TestAddKeysNoSharedKeysAcrossGroups(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.AddKeys([]string{"a", "b", "c", "d", "e"}, 2)
	r.AddKeys([]string{"c", "d", "e", "f"}, 2)

	seen := make(map[string]int)
	for _, g := range r.Snapshot() {
		for _, k := range g.Keys {
			seen[k]++
		}
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("key %q appears in %d groups, want 1", k, n)
		}
	}
	if len(seen) != 6 {
		t.Errorf("distinct keys = %d, want 6", len(seen))
	}
}

func TestRemoveKeysDefersCleanup(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	ids := r.AddKeys([]string{"a"}, 5)
	r.SetStatus(ids[0], StatusAlive)

	removed := r.RemoveKeys([]string{"a", "ghost"})
	if len(removed) != 1 || removed[0] != "a" {
		t.Fatalf("removed = %v, want [a]", removed)
	}

	// The emptied group must survive until the next reaper pass.
	if r.Len() != 1 {
		t.Fatalf("groups = %d, want 1 before reaper", r.Len())
	}

	redial, dropped := r.ReconnectAndCleanup()
	if len(redial) != 0 {
		t.Errorf("redial = %v, want none", redial)
	}
	if len(dropped) != 1 || dropped[0].ID != ids[0] {
		t.Fatalf("dropped = %v, want the emptied group", dropped)
	}
	if dropped[0].Status != StatusCleanup {
		t.Errorf("dropped status = %s, want CLEANUP", dropped[0].Status)
	}
	if r.Len() != 0 {
		t.Errorf("groups = %d after reaper, want 0", r.Len())
	}
}

func TestReconnectAndCleanupRevivesDead(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	ids := r.AddKeys([]string{"a", "b"}, 5)
	r.SetStatus(ids[0], StatusDead)

	redial, removed := r.ReconnectAndCleanup()
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
	if len(redial) != 1 || redial[0] != ids[0] {
		t.Fatalf("redial = %v, want [%s]", redial, ids[0])
	}

	// Keys survive the revival and the status flips to PENDING.
	st, ok := r.Status(ids[0])
	if !ok || st != StatusPending {
		t.Errorf("status = %s (ok=%v), want PENDING", st, ok)
	}
	keys := allKeys(r)
	if len(keys) != 2 {
		t.Errorf("keys = %v, want [a b] preserved", keys)
	}
}

func TestPinnedGroupSurvivesCleanup(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	id := r.EnsurePinnedGroup()
	if again := r.EnsurePinnedGroup(); again != id {
		t.Errorf("EnsurePinnedGroup returned %s then %s, want stable ID", id, again)
	}

	redial, removed := r.ReconnectAndCleanup()
	if len(removed) != 0 {
		t.Fatalf("pinned group was removed: %v", removed)
	}
	if len(redial) != 0 {
		t.Errorf("redial = %v, want none for PENDING pinned group", redial)
	}

	// A dead pinned group is revived even with no keys.
	r.SetStatus(id, StatusDead)
	redial, _ = r.ReconnectAndCleanup()
	if len(redial) != 1 || redial[0] != id {
		t.Errorf("redial = %v, want [%s]", redial, id)
	}

	if !r.HasSubscribeToAll() {
		t.Error("HasSubscribeToAll() = false, want true")
	}
}

func TestClearAllGroupsAtomicSwap(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.AddKeys([]string{"a", "b", "c"}, 1)
	removed := r.ClearAllGroups()
	if len(removed) != 3 {
		t.Fatalf("removed = %d groups, want 3", len(removed))
	}
	if r.Len() != 0 {
		t.Errorf("groups = %d after clear, want 0", r.Len())
	}
	if r.HasKey("a") {
		t.Error("HasKey(a) = true after clear")
	}
}

func TestGroupCountForKey(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.AddKeys([]string{"a"}, 5)
	if n := r.GroupCountForKey("a"); n != 1 {
		t.Errorf("GroupCountForKey(a) = %d, want 1", n)
	}
	if n := r.GroupCountForKey("missing"); n != 0 {
		t.Errorf("GroupCountForKey(missing) = %d, want 0", n)
	}
}

func TestKeySetIsACopy(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	ids := r.AddKeys([]string{"a"}, 5)
	keys, ok := r.KeySet(ids[0])
	if !ok {
		t.Fatal("KeySet: group not found")
	}
	delete(keys, "a")
	if !r.HasKey("a") {
		t.Error("mutating the KeySet copy affected the registry")
	}

	if _, ok := r.KeySet("unknown"); ok {
		t.Error("KeySet(unknown) ok = true, want false")
	}
}

func TestGroupIDsUnique(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.AddKeys([]string{"a", "b", "c", "d"}, 1)
	seen := make(map[string]bool)
	for _, g := range r.Snapshot() {
		if seen[g.ID] {
			t.Fatalf("duplicate group ID %s", g.ID)
		}
		seen[g.ID] = true
	}
}
