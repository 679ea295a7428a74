package gatherly

import "testing"

func strPtr(s string) *string { return &s }

func TestFilterByScope(t *testing.T) {
	threads := []Thread{
		{ID: "global-plain"},
		{ID: "global-shared", SharedEventIDs: []string{"ev1", "ev2"}},
		{ID: "scoped-ev1", EventScopeID: strPtr("ev1")},
		{ID: "scoped-ev2", EventScopeID: strPtr("ev2")},
	}

	t.Run("no event context shows only global threads", func(t *testing.T) {
		got := FilterByScope(threads, nil)
		ids := idsOf(got)
		if len(ids) != 2 || ids[0] != "global-plain" || ids[1] != "global-shared" {
			t.Fatalf("expected global threads only, got %v", ids)
		}
	})

	t.Run("event context shows scoped plus shared global threads", func(t *testing.T) {
		got := FilterByScope(threads, strPtr("ev1"))
		ids := idsOf(got)
		if len(ids) != 2 {
			t.Fatalf("expected 2 threads, got %v", ids)
		}
		if !contains(ids, "scoped-ev1") || !contains(ids, "global-shared") {
			t.Fatalf("expected scoped-ev1 and global-shared, got %v", ids)
		}
	})

	t.Run("other events' scoped threads never leak", func(t *testing.T) {
		got := FilterByScope(threads, strPtr("ev1"))
		if contains(idsOf(got), "scoped-ev2") {
			t.Fatal("scoped-ev2 must not appear in ev1 context")
		}
	})

	t.Run("plain global thread hidden inside event context", func(t *testing.T) {
		got := FilterByScope(threads, strPtr("ev1"))
		if contains(idsOf(got), "global-plain") {
			t.Fatal("global thread without shared events must not appear in event context")
		}
	})
}

func idsOf(threads []Thread) []string {
	ids := make([]string, len(threads))
	for i, th := range threads {
		ids[i] = th.ID
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
