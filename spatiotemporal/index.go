// Package spatiotemporal implements the three-level domain → task_type
// → time_bucket episode index (spec.md §4.5, C5). It holds non-owning
// episode_id references only; storage backends remain authoritative
// for content.
package spatiotemporal

import (
	"sort"
	"sync"
	"time"

	"github.com/agentic-memory/epimem/config"
)

// Entry is one indexed episode reference.
type Entry struct {
	EpisodeID string
	Domain    string
	TaskType  string
	Timestamp time.Time
}

type bucketKey struct {
	domain   string
	taskType string
	bucket   int64
}

// Index is the single-writer, multi-reader hierarchical index.
// Writes take the write lock briefly; reads take the read lock.
type Index struct {
	mu         sync.RWMutex
	bucketSize time.Duration
	leaves     map[bucketKey][]Entry
	// bucketsByGroup tracks which bucket ids exist for a domain/taskType
	// pair, kept sorted ascending so recency-descending queries can walk
	// backward without re-sorting on every read.
	bucketsByGroup map[[2]string][]int64
}

func bucketDuration(size config.TimeBucketSize) time.Duration {
	switch size {
	case config.BucketHour:
		return time.Hour
	case config.BucketWeek:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// New builds an empty index using the configured bucket granularity.
func New(cfg config.SpatiotemporalConfig) *Index {
	return &Index{
		bucketSize:     bucketDuration(cfg.BucketSize),
		leaves:         make(map[bucketKey][]Entry),
		bucketsByGroup: make(map[[2]string][]int64),
	}
}

func (idx *Index) bucketFor(t time.Time) int64 {
	return t.Unix() / int64(idx.bucketSize.Seconds())
}

// Insert appends an episode reference to its domain/task_type/time
// bucket leaf in insertion order. The append is O(1) amortized; the
// first entry of a new bucket also inserts the bucket id into its
// group's sorted bucket list, which is O(buckets in that group).
func (idx *Index) Insert(e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	b := idx.bucketFor(e.Timestamp)
	key := bucketKey{domain: e.Domain, taskType: e.TaskType, bucket: b}
	if _, exists := idx.leaves[key]; !exists {
		group := [2]string{e.Domain, e.TaskType}
		buckets := idx.bucketsByGroup[group]
		pos := sort.Search(len(buckets), func(i int) bool { return buckets[i] >= b })
		buckets = append(buckets, 0)
		copy(buckets[pos+1:], buckets[pos:])
		buckets[pos] = b
		idx.bucketsByGroup[group] = buckets
	}
	idx.leaves[key] = append(idx.leaves[key], e)
}

// Remove drops an episode reference from every leaf it might occupy.
// Since the caller doesn't always know the original domain/task_type at
// delete time, Remove scans all leaves; this is acceptable because
// deletes are rare relative to inserts and queries (spec.md §4.3).
func (idx *Index) Remove(episodeID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for key, entries := range idx.leaves {
		filtered := entries[:0]
		for _, e := range entries {
			if e.EpisodeID != episodeID {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(idx.leaves, key)
		} else {
			idx.leaves[key] = filtered
		}
	}
}

// Query is the filter set accepted by Search: {domain?, task_type?,
// start_time?, end_time?, limit}.
type Query struct {
	Domain    string
	TaskType  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// Search walks only the matching subtree(s) and returns episode ids
// ordered by bucket recency descending, then insertion order
// descending within a bucket, truncated to Limit (0 = unlimited).
func (idx *Index) Search(q Query) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var groups [][2]string
	if q.Domain != "" && q.TaskType != "" {
		groups = [][2]string{{q.Domain, q.TaskType}}
	} else {
		for group := range idx.bucketsByGroup {
			if q.Domain != "" && group[0] != q.Domain {
				continue
			}
			if q.TaskType != "" && group[1] != q.TaskType {
				continue
			}
			groups = append(groups, group)
		}
	}

	var out []string
	for _, group := range groups {
		buckets := idx.bucketsByGroup[group]
		for i := len(buckets) - 1; i >= 0; i-- {
			b := buckets[i]
			key := bucketKey{domain: group[0], taskType: group[1], bucket: b}
			entries := idx.leaves[key]
			for j := len(entries) - 1; j >= 0; j-- {
				e := entries[j]
				if q.StartTime != nil && e.Timestamp.Before(*q.StartTime) {
					continue
				}
				if q.EndTime != nil && e.Timestamp.After(*q.EndTime) {
					continue
				}
				out = append(out, e.EpisodeID)
				if q.Limit > 0 && len(out) >= q.Limit {
					return out
				}
			}
		}
	}
	return out
}
