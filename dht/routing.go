package dht

import (
	"sort"
	"sync"
	"time"
)

// RoutingTable is the ordered list of buckets partitioning the full
// 160-bit key space around a local identifier. The first bucket's start is
// zero, the last bucket's end is 2^160, and adjacent buckets meet with no
// gap: buckets[i].End == buckets[i+1].Start for every i.
type RoutingTable struct {
	mu      sync.RWMutex
	local   NodeID
	buckets []*Bucket
}

// NewRoutingTable creates a table around the given local identifier,
// starting with a single bucket spanning the whole key space.
func NewRoutingTable(local NodeID) *RoutingTable {
	return &RoutingTable{
		local:   local,
		buckets: []*Bucket{newInitialBucket()},
	}
}

// bucketIndex finds the index of the bucket whose interval contains id via
// binary search, mirroring the original's sorted-by-start comparison.
func (rt *RoutingTable) bucketIndex(id NodeID) int {
	return sort.Search(len(rt.buckets), func(i int) bool {
		return idToInt(id).Cmp(rt.buckets[i].End) < 0
	})
}

// Insert adds node to the table. Inserting the table's own identifier is
// rejected.
//
// Algorithm (spec 4.2):
//  1. Find the containing bucket B.
//  2. If B has room, insert.
//  3. Else if B's interval contains the local identifier, split B once and
//     insert n directly into whichever half now contains it — the new
//     half may briefly hold K+1 entries, and is not re-split within the
//     same call.
//  4. Else discard n silently.
func (rt *RoutingTable) Insert(node NodeInfo) bool {
	if node.ID == rt.local {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	idx := rt.bucketIndex(node.ID)
	bucket := rt.buckets[idx]

	if _, ok := bucket.Find(node.ID); ok {
		bucket.insert(node, now)
		return true
	}
	if !bucket.Full() {
		bucket.insert(node, now)
		return true
	}
	if !bucket.Contains(rt.local) {
		return false
	}
	if bucket.indivisible() {
		return false
	}

	low, high := bucket.split()
	rt.buckets[idx] = low
	rt.buckets = append(rt.buckets, nil)
	copy(rt.buckets[idx+2:], rt.buckets[idx+1:])
	rt.buckets[idx+1] = high

	if low.Contains(node.ID) {
		low.insert(node, now)
	} else {
		high.insert(node, now)
	}
	return true
}

// FindExact returns the entry for id from its containing bucket, if
// present.
func (rt *RoutingTable) FindExact(id NodeID) (NodeInfo, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	idx := rt.bucketIndex(id)
	e, ok := rt.buckets[idx].Find(id)
	if !ok {
		return NodeInfo{}, false
	}
	return e.Node, true
}

// ClosestGood returns every good entry from the bucket containing id.
// Callers use these as candidates for an iterative lookup.
func (rt *RoutingTable) ClosestGood(id NodeID) []NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	idx := rt.bucketIndex(id)
	good := rt.buckets[idx].Good(time.Now())
	nodes := make([]NodeInfo, len(good))
	for i, e := range good {
		nodes[i] = e.Node
	}
	return nodes
}

// ClosestK returns up to k good entries from the whole table, sorted by
// XOR distance to target. Used when a single bucket's occupants aren't
// enough candidates to make progress (e.g. bootstrapping an empty table).
func (rt *RoutingTable) ClosestK(target NodeID, k int) []NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	now := time.Now()
	var all []NodeInfo
	for _, b := range rt.buckets {
		for _, e := range b.Good(now) {
			all = append(all, e.Node)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.Xor(target).Less(all[j].ID.Xor(target))
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// MarkFailed records a failed query against id, if it is present in the
// table.
func (rt *RoutingTable) MarkFailed(id NodeID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	idx := rt.bucketIndex(id)
	if e, ok := rt.buckets[idx].Find(id); ok {
		e.MarkFailed()
	}
}

// Size returns the total number of entries across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := 0
	for _, b := range rt.buckets {
		n += len(b.Entries)
	}
	return n
}

// AllNodes returns every entry currently in the table.
func (rt *RoutingTable) AllNodes() []NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var all []NodeInfo
	for _, b := range rt.buckets {
		for _, e := range b.Entries {
			all = append(all, e.Node)
		}
	}
	return all
}

// BucketCount reports how many buckets currently partition the key space,
// primarily for tests asserting on split behaviour.
func (rt *RoutingTable) BucketCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.buckets)
}

// StaleBucketIndices returns the indices of non-empty buckets that have
// not changed within the given threshold, candidates for a refresh lookup.
func (rt *RoutingTable) StaleBucketIndices(threshold time.Duration) []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	cutoff := time.Now().Add(-threshold)
	var stale []int
	for i, b := range rt.buckets {
		if len(b.Entries) > 0 && b.Changed.Before(cutoff) {
			stale = append(stale, i)
		}
	}
	return stale
}
