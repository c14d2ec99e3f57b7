package dht

// Envelope is the top-level KRPC message: a dictionary carrying a
// transaction id, optional client version and observed-address fields, the
// read-only flag from BEP-43, and exactly one of a Query, Response, or
// KrpcError payload.
type Envelope struct {
	TransactionID []byte
	Version       []byte
	IP            *PeerAddress
	ReadOnly      bool

	Query    *Query
	Response *Response
	Error    *KrpcError
}

// Kind reports which of Query/Response/Error this envelope carries.
func (e *Envelope) Kind() string {
	switch {
	case e.Query != nil:
		return "q"
	case e.Response != nil:
		return "r"
	case e.Error != nil:
		return "e"
	default:
		return ""
	}
}

// QueryName enumerates the KRPC query methods this implementation issues
// and understands.
type QueryName string

const (
	QueryPing             QueryName = "ping"
	QueryFindNode         QueryName = "find_node"
	QueryGetPeers         QueryName = "get_peers"
	QueryAnnouncePeer     QueryName = "announce_peer"
	QuerySampleInfoHashes QueryName = "sample_infohashes"
)

// PortMode selects how an AnnouncePeer query communicates the announcing
// peer's port: either implied by the source UDP port of the datagram, or
// explicit.
type PortMode struct {
	Implied bool
	Port    uint16
}

// ImpliedPort builds a PortMode that asks the recipient to ignore Port and
// use the datagram's source port instead.
func ImpliedPort() PortMode { return PortMode{Implied: true} }

// ExplicitPort builds a PortMode carrying an explicit port number.
func ExplicitPort(port uint16) PortMode { return PortMode{Port: port} }

// Query is the tagged union of arguments a KRPC query can carry. Beyond ID,
// only the fields annotated with a given Name's variant are meaningful.
type Query struct {
	Name QueryName

	ID       NodeID
	Target   NodeID    // FindNode, SampleInfoHashes
	InfoHash NodeID    // GetPeers, AnnouncePeer
	Token    []byte    // AnnouncePeer
	Port     PortMode  // AnnouncePeer
}

// NewPingQuery builds a ping query.
func NewPingQuery(id NodeID) *Query {
	return &Query{Name: QueryPing, ID: id}
}

// NewFindNodeQuery builds a find_node query.
func NewFindNodeQuery(id, target NodeID) *Query {
	return &Query{Name: QueryFindNode, ID: id, Target: target}
}

// NewGetPeersQuery builds a get_peers query.
func NewGetPeersQuery(id, infoHash NodeID) *Query {
	return &Query{Name: QueryGetPeers, ID: id, InfoHash: infoHash}
}

// NewAnnouncePeerQuery builds an announce_peer query.
func NewAnnouncePeerQuery(id, infoHash NodeID, token []byte, port PortMode) *Query {
	return &Query{Name: QueryAnnouncePeer, ID: id, InfoHash: infoHash, Token: token, Port: port}
}

// NewSampleInfoHashesQuery builds a sample_infohashes query (BEP-51).
func NewSampleInfoHashesQuery(id, target NodeID) *Query {
	return &Query{Name: QuerySampleInfoHashes, ID: id, Target: target}
}

// ResponseShape names which of Response's variants is populated, used for
// error messages and for matching an expectation in the request engine.
type ResponseShape string

const (
	ShapeOnlyID   ResponseShape = "OnlyID"
	ShapeNextHop  ResponseShape = "NextHop"
	ShapeGetPeers ResponseShape = "GetPeers"
	ShapeSamples  ResponseShape = "Samples"
)

// Response is the untagged union of reply bodies a KRPC response can
// carry. Which variant is populated is recovered from field presence on
// decode (see Decode) rather than any wire-level tag, because none exists.
type Response struct {
	Shape ResponseShape

	ID NodeID

	// NextHop / GetPeers
	Token []byte

	// NextHop / Samples
	Nodes []NodeInfo

	// GetPeers
	Peers []PeerAddress

	// Samples
	Interval *uint16
	Num      *uint32
	Samples  []NodeID
}

// NewOnlyIDResponse builds the reply shape used for Ping and AnnouncePeer.
func NewOnlyIDResponse(id NodeID) *Response {
	return &Response{Shape: ShapeOnlyID, ID: id}
}

// NewNextHopResponse builds the reply shape used for FindNode, and for
// GetPeers when the responder has no known peers for the info-hash.
func NewNextHopResponse(id NodeID, token []byte, nodes []NodeInfo) *Response {
	return &Response{Shape: ShapeNextHop, ID: id, Token: token, Nodes: nodes}
}

// NewGetPeersResponse builds the reply shape used for GetPeers when the
// responder has known peers for the info-hash.
func NewGetPeersResponse(id NodeID, token []byte, peers []PeerAddress) *Response {
	return &Response{Shape: ShapeGetPeers, ID: id, Token: token, Peers: peers}
}

// NewSamplesResponse builds the reply shape used for SampleInfoHashes.
func NewSamplesResponse(id NodeID, interval *uint16, nodes []NodeInfo, num *uint32, samples []NodeID) *Response {
	return &Response{Shape: ShapeSamples, ID: id, Interval: interval, Nodes: nodes, Num: num, Samples: samples}
}

// KrpcError is the two-element (code, message) error body carried under
// the "e" key.
type KrpcError struct {
	Code    int
	Message string
}

func (e KrpcError) Error() string {
	return RemoteErrorKind{Code: e.Code, Message: e.Message}.Error()
}
