package dht

import (
	"encoding/binary"
	"log"
	"net"
)

// Demultiplexer classifies inbound datagrams and routes responses to the
// transaction registry. Malformed datagrams and anything that isn't a
// response we could plausibly have solicited are never fatal to the
// receive loop: they are counted and dropped. Responding to queries from
// other peers is out of scope for this client.
type Demultiplexer struct {
	registry *Registry

	malformed int
	dropped   int
}

// NewDemultiplexer builds a demultiplexer delivering responses into
// registry.
func NewDemultiplexer(registry *Registry) *Demultiplexer {
	return &Demultiplexer{registry: registry}
}

// HandleDatagram decodes one inbound datagram from addr and routes it.
// Decode failures, query envelopes, and responses whose transaction id is
// not exactly 4 bytes (the shape this engine allocates) are counted and
// dropped without consulting the registry — a peer's own queries reuse the
// same "t" key, and their transaction ids mean nothing to us. Only decode
// failures are also logged.
func (d *Demultiplexer) HandleDatagram(data []byte, addr net.Addr) {
	env, err := Decode(data)
	if err != nil {
		d.malformed++
		log.Printf("dht: dropping malformed datagram from %s: %v", addr, err)
		return
	}

	switch env.Kind() {
	case "r", "e":
		d.deliver(env)
	default:
		d.dropped++
	}
}

func (d *Demultiplexer) deliver(env *Envelope) {
	if len(env.TransactionID) != 4 {
		d.dropped++
		return
	}
	tid := binary.BigEndian.Uint32(env.TransactionID)
	d.registry.Deliver(tid, env)
}

// Malformed reports how many inbound datagrams failed to decode.
func (d *Demultiplexer) Malformed() int { return d.malformed }

// Dropped reports how many decoded envelopes were discarded: queries, or
// responses and errors with transaction ids we could not have allocated.
// Envelopes with an unknown message kind fail to decode and are counted by
// Malformed instead.
func (d *Demultiplexer) Dropped() int { return d.dropped }
