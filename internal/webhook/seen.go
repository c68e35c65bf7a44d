package webhook

import "github.com/bluele/gcache"

// newSeenCache holds the last payload forwarded per identifier of one kind.
// When full, the least frequently repeated identifier is evicted.
func newSeenCache(size int) gcache.Cache {
	if size < 1 {
		size = 1
	}
	return gcache.New(size).LFU().Build()
}

// lastSeen returns the payload remembered for id.
func lastSeen(cache gcache.Cache, id string) (map[string]any, bool) {
	v, err := cache.Get(id)
	if err != nil {
		return nil, false
	}
	payload, _ := v.(map[string]any)
	return payload, true
}
