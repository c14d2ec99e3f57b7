package dht

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport captures every datagram written to it and lets a test
// script a canned reply, simulating a peer that answers synchronously.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	reply   func(tid uint32) *Envelope
	demux   *Demultiplexer
	failing bool
}

func (f *fakeTransport) WriteTo(b []byte, addr net.Addr) (int, error) {
	if f.failing {
		return 0, assert.AnError
	}
	f.mu.Lock()
	f.sent = append(f.sent, b)
	f.mu.Unlock()

	env, err := Decode(b)
	if err != nil {
		return 0, err
	}
	if f.reply == nil {
		return len(b), nil
	}

	tid := binary.BigEndian.Uint32(env.TransactionID)
	resp := f.reply(tid)
	resp.TransactionID = env.TransactionID
	data, err := resp.Encode()
	if err != nil {
		return 0, err
	}
	go f.demux.HandleDatagram(data, addr)
	return len(b), nil
}

func newEngineWithFakeTransport(reply func(tid uint32) *Envelope) (*Engine, *fakeTransport) {
	registry := NewRegistry()
	demux := NewDemultiplexer(registry)
	ft := &fakeTransport{reply: reply, demux: demux}
	engine := NewEngine(ft, registry).WithTimeout(100 * time.Millisecond)
	return engine, ft
}

func TestEnginePingRoundTrip(t *testing.T) {
	b := idOf('B')
	engine, _ := newEngineWithFakeTransport(func(uint32) *Envelope {
		return &Envelope{Response: NewOnlyIDResponse(b)}
	})

	got, err := engine.Ping(context.Background(), idOf('A'), &net.UDPAddr{})
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestEngineFindNodeYieldsCandidates(t *testing.T) {
	b := idOf('B')
	target := idOf('T')
	candidate := NodeInfo{ID: target, Addr: PeerAddress{IP: [4]byte{1, 2, 3, 4}, Port: 1}}
	engine, _ := newEngineWithFakeTransport(func(uint32) *Envelope {
		return &Envelope{Response: NewNextHopResponse(b, nil, []NodeInfo{candidate})}
	})

	outcome, err := engine.FindNode(context.Background(), idOf('A'), &net.UDPAddr{}, target)
	require.NoError(t, err)
	require.Len(t, outcome.Candidates, 1)
	require.NotNil(t, outcome.Found)
	assert.Equal(t, target, outcome.Found.ID)
}

func TestEngineGetPeersYieldsPeers(t *testing.T) {
	b := idOf('B')
	peer := PeerAddress{IP: [4]byte{9, 9, 9, 9}, Port: 1}
	engine, _ := newEngineWithFakeTransport(func(uint32) *Envelope {
		return &Envelope{Response: NewGetPeersResponse(b, []byte{1, 2}, []PeerAddress{peer})}
	})

	outcome, err := engine.GetPeers(context.Background(), idOf('A'), &net.UDPAddr{}, idOf('H'))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, outcome.Token)
	require.Len(t, outcome.Peers, 1)
	assert.Equal(t, peer, outcome.Peers[0])
}

func TestEngineSampleInfoHashesReportsOptionalFields(t *testing.T) {
	b := idOf('B')
	engine, _ := newEngineWithFakeTransport(func(uint32) *Envelope {
		return &Envelope{Response: NewSamplesResponse(b, nil, nil, nil, []NodeID{idOf('S')})}
	})

	outcome, err := engine.SampleInfoHashes(context.Background(), idOf('A'), &net.UDPAddr{}, idOf('T'))
	require.NoError(t, err)
	assert.False(t, outcome.HasInterval)
	assert.False(t, outcome.HasNum)
	require.Len(t, outcome.Samples, 1)
}

func TestEngineTimeout(t *testing.T) {
	engine, _ := newEngineWithFakeTransport(nil) // no reply scripted

	_, err := engine.Ping(context.Background(), idOf('A'), &net.UDPAddr{})
	require.Error(t, err)
	assert.IsType(t, TimeoutError{}, err)
}

func TestEngineSendFailureCancelsTransaction(t *testing.T) {
	registry := NewRegistry()
	demux := NewDemultiplexer(registry)
	ft := &fakeTransport{demux: demux, failing: true}
	engine := NewEngine(ft, registry).WithTimeout(50 * time.Millisecond)

	_, err := engine.Ping(context.Background(), idOf('A'), &net.UDPAddr{})
	require.Error(t, err)
	assert.IsType(t, SendErrorKind{}, err)
	assert.Equal(t, 0, registry.Len())
}

func TestEngineRemoteErrorSurfaces(t *testing.T) {
	engine, _ := newEngineWithFakeTransport(func(uint32) *Envelope {
		return &Envelope{Error: &KrpcError{Code: 201, Message: "generic error"}}
	})

	_, err := engine.Ping(context.Background(), idOf('A'), &net.UDPAddr{})
	require.Error(t, err)
	assert.IsType(t, KrpcError{}, err)
}

func TestEngineUnexpectedResponseShape(t *testing.T) {
	b := idOf('B')
	engine, _ := newEngineWithFakeTransport(func(uint32) *Envelope {
		return &Envelope{Response: NewOnlyIDResponse(b)}
	})

	_, err := engine.FindNode(context.Background(), idOf('A'), &net.UDPAddr{}, idOf('T'))
	require.Error(t, err)
	assert.IsType(t, UnexpectedResponseShapeError{}, err)
}
