package schema

// DefaultHistoryLimit is how many recent searches are kept per identity.
const DefaultHistoryLimit = 10

// HistoryLog is a most-recent-first list of search queries without duplicates.
type HistoryLog []string

// Push moves query to the front, removing any earlier copy, and trims the
// log to limit entries. A non-positive limit means DefaultHistoryLimit.
func (h HistoryLog) Push(query string, limit int) HistoryLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	out := make(HistoryLog, 0, limit)
	out = append(out, query)
	for _, q := range h {
		if q == query {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, q)
	}
	return out
}

// MergeHistory concatenates logs in priority order, keeps the first
// occurrence of each query, and trims to limit.
func MergeHistory(limit int, logs ...HistoryLog) HistoryLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	seen := make(map[string]struct{})
	out := make(HistoryLog, 0, limit)
	for _, entries := range logs {
		for _, q := range entries {
			if _, ok := seen[q]; ok {
				continue
			}
			if len(out) == limit {
				return out
			}
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	return out
}
