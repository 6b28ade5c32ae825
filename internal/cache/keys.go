package cache

// Cache groups. Every list entry registers under GroupLists so a write
// can invalidate all cached pages without enumerating tuples.
const (
	GroupLists = "messages:list"
	GroupStats = "messages:stats"
)

// ListKey builds the cache key for one list query.
// messages:list:{canonical query encoding}
func ListKey(paramsKey string) string {
	if paramsKey == "" {
		paramsKey = "default"
	}
	return GroupLists + ":" + paramsKey
}

// StatsKey is the single slot for the aggregate snapshot.
func StatsKey() string {
	return GroupStats + ":overview"
}

// GroupOf maps a key back to its invalidation group.
func GroupOf(key string) string {
	if key == StatsKey() {
		return GroupStats
	}
	return GroupLists
}
