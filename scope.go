package gatherly

// FilterByScope partitions a cached thread list into the current context's
// view. With a nil currentEventID it returns only global threads (nil
// EventScopeID), regardless of their SharedEventIDs. With an event id it
// returns threads scoped to that event, plus global threads the two
// participants share through that event.
//
// Pure derivation over already-cached data; callers recompute it on every
// render.
func FilterByScope(threads []Thread, currentEventID *string) []Thread {
	out := make([]Thread, 0, len(threads))
	for _, t := range threads {
		if currentEventID == nil {
			if t.EventScopeID == nil {
				out = append(out, t)
			}
			continue
		}
		if t.EventScopeID != nil {
			if *t.EventScopeID == *currentEventID {
				out = append(out, t)
			}
			continue
		}
		for _, id := range t.SharedEventIDs {
			if id == *currentEventID {
				out = append(out, t)
				break
			}
		}
	}
	return out
}
