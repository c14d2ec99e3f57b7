package dht

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout is the per-request deadline applied when a caller does not
// supply its own context deadline.
const DefaultTimeout = 5 * time.Second

// transactionRetryBudget bounds how many times the engine will reroll a
// fresh transaction id after colliding with one already in flight before
// giving up with RegistrationExhausted. Collisions are rare at realistic
// in-flight counts; this budget exists to turn pathological bad luck into
// a typed error instead of an infinite loop.
const transactionRetryBudget = 8

// Transport is the minimum send surface the request engine needs from a
// socket. *net.UDPConn satisfies it.
type Transport interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Engine builds, sends, and correlates KRPC queries against a transport and
// a shared transaction registry. Its methods are safe for concurrent use.
type Engine struct {
	transport Transport
	registry  *Registry
	timeout   time.Duration
}

// NewEngine builds a request engine over the given transport and registry,
// using DefaultTimeout for requests that don't set their own deadline.
func NewEngine(transport Transport, registry *Registry) *Engine {
	return &Engine{transport: transport, registry: registry, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of the engine using the given per-request
// timeout in place of DefaultTimeout.
func (e *Engine) WithTimeout(d time.Duration) *Engine {
	cp := *e
	cp.timeout = d
	return &cp
}

func allocateTransactionID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "allocate transaction id")
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func encodeTransactionID(tid uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, tid)
	return buf
}

// register allocates a fresh transaction id and adds it to the registry,
// retrying on collision up to transactionRetryBudget times.
func (e *Engine) register() (uint32, error) {
	for attempt := 0; attempt < transactionRetryBudget; attempt++ {
		tid, err := allocateTransactionID()
		if err != nil {
			return 0, err
		}
		if err := e.registry.Add(tid); err != nil {
			continue
		}
		return tid, nil
	}
	return 0, RegistrationExhaustedError{Attempts: transactionRetryBudget}
}

func (e *Engine) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

// roundTrip registers a transaction, sends envelope to addr, and awaits the
// matching response. Registration happens strictly before the send; a send
// failure cancels the just-registered transaction rather than leaking it.
// A deferred Cancel runs on every return path, even on success, where it
// is a harmless no-op against an already-removed entry; on timeout Await
// has already cancelled, and the second Cancel is likewise a no-op.
func (e *Engine) roundTrip(ctx context.Context, addr net.Addr, envelope *Envelope) (*Envelope, error) {
	tid, err := e.register()
	if err != nil {
		return nil, err
	}
	defer e.registry.Cancel(tid)

	envelope.TransactionID = encodeTransactionID(tid)

	data, err := envelope.Encode()
	if err != nil {
		return nil, err
	}

	if _, err := e.transport.WriteTo(data, addr); err != nil {
		return nil, SendErrorKind{To: addr, Cause: err}
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	reply, err := e.registry.Await(ctx, tid)
	if err != nil {
		return nil, err
	}
	if reply.Error != nil {
		return nil, *reply.Error
	}
	return reply, nil
}

// Ping sends a ping query and returns the responder's node id.
func (e *Engine) Ping(ctx context.Context, selfID NodeID, to net.Addr) (NodeID, error) {
	reply, err := e.roundTrip(ctx, to, &Envelope{Query: NewPingQuery(selfID)})
	if err != nil {
		return NodeID{}, err
	}
	return nodeIDResponse(reply)
}

// FindNodeOutcome is the typed result of FindNode: the candidates the
// responder returned, plus Found pointing at the candidate whose ID equals
// the target, or nil when none does.
type FindNodeOutcome struct {
	Found      *NodeInfo
	Candidates []NodeInfo
}

// FindNode sends a find_node query and returns the closer candidates the
// responder knows about (or the target itself, should the responder know
// it precisely — the wire format does not distinguish the two cases beyond
// candidate identity, so callers compare IDs against target themselves).
func (e *Engine) FindNode(ctx context.Context, selfID NodeID, to net.Addr, target NodeID) (FindNodeOutcome, error) {
	reply, err := e.roundTrip(ctx, to, &Envelope{Query: NewFindNodeQuery(selfID, target)})
	if err != nil {
		return FindNodeOutcome{}, err
	}
	if reply.Response == nil || reply.Response.Shape != ShapeNextHop {
		return FindNodeOutcome{}, UnexpectedResponseShapeError{Expected: string(ShapeNextHop), Got: responseShape(reply)}
	}
	outcome := FindNodeOutcome{Candidates: reply.Response.Nodes}
	for i := range outcome.Candidates {
		if outcome.Candidates[i].ID == target {
			outcome.Found = &outcome.Candidates[i]
			break
		}
	}
	return outcome, nil
}

// GetPeersOutcome is the typed result of GetPeers: either a populated
// Peers list (the responder has peers for the info-hash) or a Candidates
// list of closer nodes to continue the lookup with.
type GetPeersOutcome struct {
	Token      []byte
	Peers      []PeerAddress
	Candidates []NodeInfo
}

// GetPeers sends a get_peers query.
func (e *Engine) GetPeers(ctx context.Context, selfID NodeID, to net.Addr, infoHash NodeID) (GetPeersOutcome, error) {
	reply, err := e.roundTrip(ctx, to, &Envelope{Query: NewGetPeersQuery(selfID, infoHash)})
	if err != nil {
		return GetPeersOutcome{}, err
	}
	if reply.Response == nil {
		return GetPeersOutcome{}, UnexpectedResponseShapeError{Expected: "GetPeers or NextHop", Got: responseShape(reply)}
	}
	switch reply.Response.Shape {
	case ShapeGetPeers:
		return GetPeersOutcome{Token: reply.Response.Token, Peers: reply.Response.Peers}, nil
	case ShapeNextHop:
		return GetPeersOutcome{Token: reply.Response.Token, Candidates: reply.Response.Nodes}, nil
	default:
		return GetPeersOutcome{}, UnexpectedResponseShapeError{Expected: "GetPeers or NextHop", Got: responseShape(reply)}
	}
}

// AnnouncePeer sends an announce_peer query and returns the responder's
// node id.
func (e *Engine) AnnouncePeer(ctx context.Context, selfID NodeID, to net.Addr, infoHash NodeID, token []byte, port PortMode) (NodeID, error) {
	reply, err := e.roundTrip(ctx, to, &Envelope{Query: NewAnnouncePeerQuery(selfID, infoHash, token, port)})
	if err != nil {
		return NodeID{}, err
	}
	return nodeIDResponse(reply)
}

// SamplesOutcome is the typed result of SampleInfoHashes (BEP-51). Interval
// and Num are reported present/absent rather than zeroed, since both are
// legitimately absent on the wire.
type SamplesOutcome struct {
	Nodes       []NodeInfo
	Samples     []NodeID
	Interval    uint16
	HasInterval bool
	Num         uint32
	HasNum      bool
}

// SampleInfoHashes sends a sample_infohashes query.
func (e *Engine) SampleInfoHashes(ctx context.Context, selfID NodeID, to net.Addr, target NodeID) (SamplesOutcome, error) {
	reply, err := e.roundTrip(ctx, to, &Envelope{Query: NewSampleInfoHashesQuery(selfID, target)})
	if err != nil {
		return SamplesOutcome{}, err
	}
	if reply.Response == nil || reply.Response.Shape != ShapeSamples {
		return SamplesOutcome{}, UnexpectedResponseShapeError{Expected: string(ShapeSamples), Got: responseShape(reply)}
	}
	out := SamplesOutcome{Nodes: reply.Response.Nodes, Samples: reply.Response.Samples}
	if reply.Response.Interval != nil {
		out.Interval = *reply.Response.Interval
		out.HasInterval = true
	}
	if reply.Response.Num != nil {
		out.Num = *reply.Response.Num
		out.HasNum = true
	}
	return out, nil
}

// nodeIDResponse accepts any response carrying an id, regardless of shape:
// peers occasionally reply with the "wrong" variant to Ping/AnnouncePeer and
// the id is still meaningful.
func nodeIDResponse(reply *Envelope) (NodeID, error) {
	if reply.Response == nil {
		return NodeID{}, UnexpectedResponseShapeError{Expected: "any response", Got: responseShape(reply)}
	}
	return reply.Response.ID, nil
}

func responseShape(reply *Envelope) string {
	if reply.Response == nil {
		return reply.Kind()
	}
	return string(reply.Response.Shape)
}
