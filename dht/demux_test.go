package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemultiplexerDeliversMatchingResponse(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Add(1))
	demux := NewDemultiplexer(registry)

	env := &Envelope{TransactionID: []byte{0, 0, 0, 1}, Response: NewOnlyIDResponse(idOf('B'))}
	data, err := env.Encode()
	require.NoError(t, err)

	demux.HandleDatagram(data, &net.UDPAddr{})

	got, pending, err := registry.Poll(1, nil)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, idOf('B'), got.Response.ID)
}

func TestDemultiplexerDropsMalformedDatagram(t *testing.T) {
	registry := NewRegistry()
	demux := NewDemultiplexer(registry)

	demux.HandleDatagram([]byte("not bencode"), &net.UDPAddr{})
	assert.Equal(t, 1, demux.Malformed())
}

func TestDemultiplexerDropsUnregisteredTransaction(t *testing.T) {
	registry := NewRegistry()
	demux := NewDemultiplexer(registry)

	env := &Envelope{TransactionID: []byte{0, 0, 0, 9}, Response: NewOnlyIDResponse(idOf('B'))}
	data, err := env.Encode()
	require.NoError(t, err)

	demux.HandleDatagram(data, &net.UDPAddr{})
	assert.Equal(t, 0, registry.Len())
}

func TestDemultiplexerDropsQueryEnvelopes(t *testing.T) {
	registry := NewRegistry()
	demux := NewDemultiplexer(registry)

	env := &Envelope{TransactionID: []byte{0, 0, 0, 1}, Query: NewPingQuery(idOf('A'))}
	data, err := env.Encode()
	require.NoError(t, err)

	demux.HandleDatagram(data, &net.UDPAddr{})
	assert.Equal(t, 1, demux.Dropped())
}

func TestDemultiplexerDropsNonFourByteTransactionID(t *testing.T) {
	registry := NewRegistry()
	demux := NewDemultiplexer(registry)

	env := &Envelope{TransactionID: []byte{1, 2, 3}, Response: NewOnlyIDResponse(idOf('B'))}
	data, err := env.Encode()
	require.NoError(t, err)

	demux.HandleDatagram(data, &net.UDPAddr{})
	assert.Equal(t, 1, demux.Dropped())
}
