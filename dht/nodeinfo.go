package dht

import "fmt"

// CompactNodeInfoLen is the size, in bytes, of one NodeInfo record on the
// wire: a 20-byte NodeID followed by a 6-byte compact PeerAddress.
const CompactNodeInfoLen = IDLength + CompactPeerLen

// NodeInfo pairs a node's identifier with its network address. On the wire,
// NodeInfo values concatenate into a flat run of 26-byte records inside a
// single bencode byte string.
type NodeInfo struct {
	ID   NodeID
	Addr PeerAddress
}

// Compact encodes the NodeInfo as its 26-byte wire representation.
func (n NodeInfo) Compact() []byte {
	buf := make([]byte, 0, CompactNodeInfoLen)
	buf = append(buf, n.ID[:]...)
	buf = append(buf, n.Addr.Compact()...)
	return buf
}

// String returns a short human-readable representation of the node.
func (n NodeInfo) String() string {
	return fmt.Sprintf("%s@%s", n.ID, n.Addr)
}

// ParseNodeInfo decodes a single 26-byte compact NodeInfo record.
func ParseNodeInfo(data []byte) (NodeInfo, error) {
	var n NodeInfo
	if len(data) != CompactNodeInfoLen {
		return n, MalformedNodeInfoError{Len: len(data)}
	}
	id, err := NodeIDFromBytes(data[:IDLength])
	if err != nil {
		return n, MalformedNodeInfoError{Len: len(data)}
	}
	addr, err := ParsePeerAddress(data[IDLength:])
	if err != nil {
		return n, MalformedNodeInfoError{Len: len(data)}
	}
	n.ID = id
	n.Addr = addr
	return n, nil
}

// ParseNodeInfos splits a concatenated run of compact NodeInfo records.
// A length that is not a multiple of CompactNodeInfoLen is a protocol
// error: the peer sent something we cannot unambiguously split.
func ParseNodeInfos(data []byte) ([]NodeInfo, error) {
	if len(data)%CompactNodeInfoLen != 0 {
		return nil, MalformedNodeInfoError{Len: len(data)}
	}
	count := len(data) / CompactNodeInfoLen
	nodes := make([]NodeInfo, count)
	for i := 0; i < count; i++ {
		chunk := data[i*CompactNodeInfoLen : (i+1)*CompactNodeInfoLen]
		n, err := ParseNodeInfo(chunk)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

// EncodeNodeInfos concatenates NodeInfo values into their wire run.
func EncodeNodeInfos(nodes []NodeInfo) []byte {
	buf := make([]byte, 0, len(nodes)*CompactNodeInfoLen)
	for _, n := range nodes {
		buf = append(buf, n.Compact()...)
	}
	return buf
}
