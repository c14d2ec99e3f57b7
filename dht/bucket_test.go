package dht

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeWithID(id NodeID) NodeInfo {
	return NodeInfo{ID: id, Addr: PeerAddress{IP: [4]byte{1, 2, 3, 4}, Port: 1}}
}

func TestEntryGoodRequiresRecencyAndFewFailures(t *testing.T) {
	e := &Entry{Node: nodeWithID(idOf('A')), LastSeen: time.Now()}
	assert.True(t, e.Good(time.Now()))

	e.LastSeen = time.Now().Add(-GoodRecency - time.Second)
	assert.False(t, e.Good(time.Now()))

	e.MarkSeen(time.Now())
	for i := 0; i <= FailedQueryThreshold; i++ {
		e.MarkFailed()
	}
	assert.False(t, e.Good(time.Now()))
}

func TestBucketInsertRefreshesExistingEntry(t *testing.T) {
	b := newInitialBucket()
	n := nodeWithID(idOf('A'))
	b.insert(n, time.Now())
	require.Len(t, b.Entries, 1)

	b.insert(n, time.Now())
	assert.Len(t, b.Entries, 1)
}

func TestBucketFull(t *testing.T) {
	b := newInitialBucket()
	for i := 0; i < K; i++ {
		id := idOf(0)
		id[IDLength-1] = byte(i)
		b.insert(nodeWithID(id), time.Now())
	}
	assert.True(t, b.Full())
}

func TestBucketSplitPartitionsEntries(t *testing.T) {
	b := newInitialBucket()
	low := nodeWithID(NodeID{0x00})
	high := nodeWithID(NodeID{0xff})
	b.insert(low, time.Now())
	b.insert(high, time.Now())

	lowBucket, highBucket := b.split()
	assert.Equal(t, b.Start, lowBucket.Start)
	assert.Equal(t, b.End, highBucket.End)
	assert.Equal(t, lowBucket.End, highBucket.Start)

	assert.Len(t, lowBucket.Entries, 1)
	assert.Equal(t, low.ID, lowBucket.Entries[0].Node.ID)
	assert.Len(t, highBucket.Entries, 1)
	assert.Equal(t, high.ID, highBucket.Entries[0].Node.ID)
}

func TestBucketIndivisible(t *testing.T) {
	start := big.NewInt(41)
	b := &Bucket{Start: start, End: big.NewInt(42)}
	assert.True(t, b.indivisible())

	wide := newInitialBucket()
	assert.False(t, wide.indivisible())
}
