package types

// Filter is a predicate over a candidate's ID and metadata, used by
// search to admit or reject candidates during traversal. It is
// evaluated for every candidate HNSW visits, not just ones it returns,
// so it must be cheap.
type Filter func(id string, md Metadata) bool

// ShapeFilter translates an object-shape filter into a Filter: each
// key in shape must match the corresponding metadata field by equality,
// or by membership when the shape value is a slice.
func ShapeFilter(shape map[string]any) Filter {
	if len(shape) == 0 {
		return nil
	}
	// Copy so later mutation of the caller's map doesn't change behavior.
	frozen := make(map[string]any, len(shape))
	for k, v := range shape {
		frozen[k] = v
	}
	return func(_ string, md Metadata) bool {
		for k, want := range frozen {
			got, ok := md[k]
			if !ok {
				return false
			}
			if list, isList := want.([]any); isList {
				if !containsValue(list, got) {
					return false
				}
				continue
			}
			if got != want {
				return false
			}
		}
		return true
	}
}

func containsValue(list []any, got any) bool {
	for _, v := range list {
		if v == got {
			return true
		}
	}
	return false
}

// CandidateIDFilter admits only candidates whose ID is in ids. Used
// when a metadata-first query strategy has already narrowed the
// candidate set and HNSW should operate as pure set-membership.
func CandidateIDFilter(ids []string) Filter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id string, _ Metadata) bool {
		_, ok := set[id]
		return ok
	}
}

// And combines filters with logical AND; a nil filter is treated as
// "always true" and omitted.
func And(filters ...Filter) Filter {
	active := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return nil
	}
	if len(active) == 1 {
		return active[0]
	}
	return func(id string, md Metadata) bool {
		for _, f := range active {
			if !f(id, md) {
				return false
			}
		}
		return true
	}
}
