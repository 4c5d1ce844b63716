package conversation

import (
	"testing"

	"github.com/matheus3301/relay/internal/store"
)

func rank(n int64) *int64 { return &n }

func keys(entries []Entry) []Key {
	out := make([]Key, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func equalKeys(a, b []Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSortPinnedFirstArchivedLast(t *testing.T) {
	a := Entry{Key: DirectKey(1), LastActivity: 100, PinnedRank: rank(0)}
	b := Entry{Key: DirectKey(2), LastActivity: 900}
	c := Entry{Key: DirectKey(3), LastActivity: 1000, Archived: true}
	d := Entry{Key: GroupKey(4), LastActivity: 500}

	entries := []Entry{c, d, b, a}
	Sort(entries)

	want := []Key{a.Key, b.Key, d.Key, c.Key}
	if got := keys(entries); !equalKeys(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestSortRules(t *testing.T) {
	tests := []struct {
		name string
		a, b Entry
	}{
		{"lower rank first",
			Entry{Key: DirectKey(1), PinnedRank: rank(1)},
			Entry{Key: DirectKey(2), PinnedRank: rank(2), LastActivity: 50}},
		{"pinned before recent",
			Entry{Key: DirectKey(1), PinnedRank: rank(9)},
			Entry{Key: DirectKey(2), LastActivity: 50}},
		{"recent first",
			Entry{Key: DirectKey(1), LastActivity: 60},
			Entry{Key: DirectKey(2), LastActivity: 50}},
		{"group creation time counts",
			Entry{Key: GroupKey(1), CreatedAt: 70},
			Entry{Key: DirectKey(2), LastActivity: 50}},
		{"dated before undated",
			Entry{Key: GroupKey(1), CreatedAt: 1},
			Entry{Key: DirectKey(2)}},
		{"kind breaks ties",
			Entry{Key: DirectKey(1), LastActivity: 50},
			Entry{Key: GroupKey(2), LastActivity: 50}},
		{"higher id breaks ties",
			Entry{Key: DirectKey(9)},
			Entry{Key: DirectKey(2)}},
		{"archived pinned still last",
			Entry{Key: DirectKey(1)},
			Entry{Key: DirectKey(2), Archived: true, PinnedRank: rank(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Less(tt.a, tt.b) {
				t.Error("Less(a, b) = false, want true")
			}
			if Less(tt.b, tt.a) {
				t.Error("Less(b, a) = true, want false")
			}
		})
	}
}

func TestWindowKeepsActive(t *testing.T) {
	var sorted []Entry
	for i := int64(1); i <= 5; i++ {
		sorted = append(sorted, Entry{Key: DirectKey(i), LastActivity: 100 - i})
	}

	got := Window(sorted, 3, nil)
	if want := []Key{DirectKey(1), DirectKey(2), DirectKey(3)}; !equalKeys(keys(got), want) {
		t.Errorf("window = %v, want %v", keys(got), want)
	}

	active := DirectKey(5)
	got = Window(sorted, 3, &active)
	if want := []Key{DirectKey(1), DirectKey(2), DirectKey(5)}; !equalKeys(keys(got), want) {
		t.Errorf("window with active = %v, want %v", keys(got), want)
	}

	visible := DirectKey(2)
	got = Window(sorted, 3, &visible)
	if want := []Key{DirectKey(1), DirectKey(2), DirectKey(3)}; !equalKeys(keys(got), want) {
		t.Errorf("window with visible active = %v, want %v", keys(got), want)
	}

	unknown := GroupKey(42)
	if got = Window(sorted, 3, &unknown); len(got) != 3 {
		t.Errorf("window with unknown active has %d entries", len(got))
	}
	if got = Window(sorted, 0, nil); len(got) != 5 {
		t.Errorf("unlimited window has %d entries", len(got))
	}
	if sorted[2].Key != DirectKey(3) {
		t.Error("Window modified its input")
	}
}

func TestWindowResortsActive(t *testing.T) {
	sorted := []Entry{
		{Key: DirectKey(1), LastActivity: 90},
		{Key: DirectKey(2), LastActivity: 80},
		{Key: DirectKey(3), Archived: true, LastActivity: 95},
	}
	active := DirectKey(3)
	got := Window(sorted, 2, &active)
	want := []Key{DirectKey(1), DirectKey(3)}
	if !equalKeys(keys(got), want) {
		t.Errorf("window = %v, want %v", keys(got), want)
	}
	if got[1].Type != store.KindDirect {
		t.Errorf("type = %q", got[1].Type)
	}
}
