package dht

import (
	"encoding/binary"
	"fmt"
	"net"
)

// CompactPeerLen is the size, in bytes, of a compact IPv4 PeerAddress: a
// 4-byte address followed by a 2-byte port, both network byte order.
const CompactPeerLen = 6

// PeerAddress is an IPv4 address and port, the form peers are announced in
// on the wire. IPv6 is out of scope for this protocol's compact encoding.
type PeerAddress struct {
	IP   [4]byte
	Port uint16
}

// NewPeerAddress builds a PeerAddress from a net.UDPAddr, failing if the
// address is not a 4-byte IPv4 address.
func NewPeerAddress(addr *net.UDPAddr) (PeerAddress, error) {
	var pa PeerAddress
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return pa, fmt.Errorf("dht: %s is not an IPv4 address", addr.IP)
	}
	copy(pa.IP[:], ip4)
	pa.Port = uint16(addr.Port)
	return pa, nil
}

// UDPAddr converts the compact address back into a *net.UDPAddr.
func (p PeerAddress) UDPAddr() *net.UDPAddr {
	ip := make(net.IP, 4)
	copy(ip, p.IP[:])
	return &net.UDPAddr{IP: ip, Port: int(p.Port)}
}

// Compact encodes the address as the 6-byte wire representation.
func (p PeerAddress) Compact() []byte {
	buf := make([]byte, CompactPeerLen)
	copy(buf[:4], p.IP[:])
	binary.BigEndian.PutUint16(buf[4:6], p.Port)
	return buf
}

// String renders the address as "ip:port".
func (p PeerAddress) String() string {
	return p.UDPAddr().String()
}

// ParsePeerAddress decodes a 6-byte compact peer address.
func ParsePeerAddress(data []byte) (PeerAddress, error) {
	var pa PeerAddress
	if len(data) != CompactPeerLen {
		return pa, fmt.Errorf("dht: compact peer address must be %d bytes, got %d", CompactPeerLen, len(data))
	}
	copy(pa.IP[:], data[:4])
	pa.Port = binary.BigEndian.Uint16(data[4:6])
	return pa, nil
}

// ParsePeerAddresses decodes a bencode list of 6-byte compact peer
// addresses, the "values" field of a get_peers response.
func ParsePeerAddresses(values []string) ([]PeerAddress, error) {
	peers := make([]PeerAddress, 0, len(values))
	for _, v := range values {
		pa, err := ParsePeerAddress([]byte(v))
		if err != nil {
			return nil, err
		}
		peers = append(peers, pa)
	}
	return peers, nil
}
