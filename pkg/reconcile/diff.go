package reconcile

// IndexEntry is one row of a modified index: a record id and an opaque
// modification token compared by equality.
type IndexEntry struct {
	ID       string `json:"id"`
	Modified string `json:"modified"`
}

// Identify extracts the (id, modified) pair from a record.
type Identify[R any] func(R) IndexEntry

// Plan is the outcome of diffing a cached collection against a modified index.
type Plan struct {
	// Outdated ids are present on both sides with different modified tokens.
	Outdated []string `json:"outdated"`

	// Deleted ids are cached but no longer present remotely.
	Deleted []string `json:"deleted"`

	// New ids are present remotely but not cached. Only filled when the diff
	// was asked to include new records.
	New []string `json:"new"`
}

// Empty reports whether the cached collection is already up to date.
func (p Plan) Empty() bool {
	return len(p.Outdated) == 0 && len(p.Deleted) == 0 && len(p.New) == 0
}

// FetchIDs returns the ids whose full records must be fetched.
func (p Plan) FetchIDs() []string {
	ids := make([]string, 0, len(p.Outdated)+len(p.New))
	ids = append(ids, p.Outdated...)
	ids = append(ids, p.New...)
	return ids
}

// Index builds the modified index of a collection.
func Index[R any](records []R, identify Identify[R]) []IndexEntry {
	idx := make([]IndexEntry, len(records))
	for i, r := range records {
		idx[i] = identify(r)
	}
	return idx
}

// Diff compares the cached index against the remote one.
//
// Outdated and Deleted follow the order of cached; New follows the order of
// remote. Duplicate ids count once, at their first appearance.
func Diff(cached, remote []IndexEntry, includeNew bool) Plan {
	remoteByID := make(map[string]string, len(remote))
	for _, e := range remote {
		if _, seen := remoteByID[e.ID]; !seen {
			remoteByID[e.ID] = e.Modified
		}
	}

	var plan Plan
	cachedIDs := make(map[string]struct{}, len(cached))
	for _, e := range cached {
		if _, seen := cachedIDs[e.ID]; seen {
			continue
		}
		cachedIDs[e.ID] = struct{}{}

		modified, live := remoteByID[e.ID]
		switch {
		case !live:
			plan.Deleted = append(plan.Deleted, e.ID)
		case modified != e.Modified:
			plan.Outdated = append(plan.Outdated, e.ID)
		}
	}

	if includeNew {
		added := make(map[string]struct{})
		for _, e := range remote {
			if _, ok := cachedIDs[e.ID]; ok {
				continue
			}
			if _, ok := added[e.ID]; ok {
				continue
			}
			added[e.ID] = struct{}{}
			plan.New = append(plan.New, e.ID)
		}
	}

	return plan
}

// Merge applies fetched records and deletions to a cached collection.
//
// Deleted records are dropped, records with a fetched replacement are swapped
// in place, everything else is kept verbatim and in order. Fetched records
// whose id was not cached are appended in fetch order.
func Merge[R any](cached, fetched []R, deleted []string, identify Identify[R]) []R {
	fetchedByID := make(map[string]R, len(fetched))
	for _, r := range fetched {
		id := identify(r).ID
		if _, seen := fetchedByID[id]; !seen {
			fetchedByID[id] = r
		}
	}

	deletedSet := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		deletedSet[id] = struct{}{}
	}

	merged := make([]R, 0, len(cached)+len(fetched))
	cachedIDs := make(map[string]struct{}, len(cached))
	for _, r := range cached {
		id := identify(r).ID
		cachedIDs[id] = struct{}{}

		if _, gone := deletedSet[id]; gone {
			continue
		}
		if fresh, ok := fetchedByID[id]; ok {
			merged = append(merged, fresh)
			continue
		}
		merged = append(merged, r)
	}

	for _, r := range fetched {
		id := identify(r).ID
		if _, known := cachedIDs[id]; known {
			continue
		}
		cachedIDs[id] = struct{}{}
		merged = append(merged, r)
	}

	return merged
}
