package dht

import (
	"math/big"
	"time"
)

// K is the maximum number of entries a single bucket holds (the Kademlia
// "k" constant).
const K = 8

// GoodRecency is how long an entry may go unheard-from before it stops
// counting as "good", mirroring the teacher's bucket refresh interval.
const GoodRecency = 15 * time.Minute

// FailedQueryThreshold is how many consecutive failed queries an entry may
// accumulate before it stops counting as "good".
const FailedQueryThreshold = 3

// Entry is one routing-table occupant: a contact plus the liveness
// bookkeeping used to decide whether it is still "good".
type Entry struct {
	Node          NodeInfo
	LastSeen      time.Time
	FailedQueries int
}

// Good reports whether the entry has been heard from recently and has not
// failed more than FailedQueryThreshold consecutive queries.
func (e *Entry) Good(now time.Time) bool {
	if e.FailedQueries > FailedQueryThreshold {
		return false
	}
	return now.Sub(e.LastSeen) < GoodRecency
}

// MarkSeen resets failure bookkeeping after a successful contact.
func (e *Entry) MarkSeen(at time.Time) {
	e.LastSeen = at
	e.FailedQueries = 0
}

// MarkFailed records a failed query against this entry.
func (e *Entry) MarkFailed() {
	e.FailedQueries++
}

// bucketEnd is one past the full key space, 2^160. It does not fit a
// 160-bit value, which is exactly why buckets track their bounds with
// math/big rather than NodeID arithmetic.
func bucketEnd() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), IDLength*8)
}

func idToInt(id NodeID) *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Bucket is a bounded-capacity container of routing-table entries covering
// the half-open key interval [Start, End).
type Bucket struct {
	Start, End *big.Int
	Entries    []*Entry
	Changed    time.Time
}

func newInitialBucket() *Bucket {
	return &Bucket{
		Start:   big.NewInt(0),
		End:     bucketEnd(),
		Changed: time.Now(),
	}
}

// Contains reports whether id falls within [Start, End).
func (b *Bucket) Contains(id NodeID) bool {
	v := idToInt(id)
	return v.Cmp(b.Start) >= 0 && v.Cmp(b.End) < 0
}

// Full reports whether the bucket is at capacity.
func (b *Bucket) Full() bool {
	return len(b.Entries) >= K
}

// Find returns the entry for id, if present.
func (b *Bucket) Find(id NodeID) (*Entry, bool) {
	for _, e := range b.Entries {
		if e.Node.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Good returns every entry in the bucket currently considered good.
func (b *Bucket) Good(now time.Time) []*Entry {
	good := make([]*Entry, 0, len(b.Entries))
	for _, e := range b.Entries {
		if e.Good(now) {
			good = append(good, e)
		}
	}
	return good
}

// insert adds or refreshes node without checking capacity: the caller has
// either verified there is room or just split the bucket, in which case the
// receiving half may end up holding K+1 entries. Re-seeing a known node
// refreshes its liveness instead of duplicating it.
func (b *Bucket) insert(node NodeInfo, now time.Time) {
	if e, ok := b.Find(node.ID); ok {
		e.Node = node
		e.MarkSeen(now)
		b.Changed = now
		return
	}
	b.Entries = append(b.Entries, &Entry{Node: node, LastSeen: now})
	b.Changed = now
}

// indivisible reports whether the bucket's interval holds a single key, in
// which case splitting would produce an empty half and an unchanged half.
func (b *Bucket) indivisible() bool {
	return b.mid().Cmp(b.Start) == 0
}

// mid returns the midpoint of the bucket's interval.
func (b *Bucket) mid() *big.Int {
	sum := new(big.Int).Add(b.Start, b.End)
	return sum.Rsh(sum, 1)
}

// split divides the bucket at its midpoint into two adjacent buckets that
// together cover exactly the original interval, redistributing its
// entries by which half each one's identifier falls in.
func (b *Bucket) split() (low, high *Bucket) {
	mid := b.mid()
	low = &Bucket{Start: b.Start, End: mid, Changed: time.Now()}
	high = &Bucket{Start: mid, End: b.End, Changed: time.Now()}
	for _, e := range b.Entries {
		if idToInt(e.Node.ID).Cmp(mid) < 0 {
			low.Entries = append(low.Entries, e)
		} else {
			high.Entries = append(high.Entries, e)
		}
	}
	return low, high
}
