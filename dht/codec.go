package dht

import (
	"github.com/pkg/errors"
)

// Encode serializes the envelope to its bencoded wire form. Keys are
// emitted in the fixed order below; the bencode library sorts dictionary
// keys lexicographically on the wire regardless, so the order here only
// needs to be complete, not pre-sorted. Absent optionals (token, interval,
// num, ip, version) are omitted entirely rather than encoded as empty
// values, and read_only is omitted whenever it is false, matching other
// peers' parsers per spec BEP-43.
func (e *Envelope) Encode() ([]byte, error) {
	dict := map[string]any{
		"t": string(e.TransactionID),
	}
	if e.Version != nil {
		dict["v"] = string(e.Version)
	}
	if e.IP != nil {
		dict["ip"] = string(e.IP.Compact())
	}
	if e.ReadOnly {
		dict["ro"] = int64(1)
	}

	switch {
	case e.Query != nil:
		dict["y"] = "q"
		dict["q"] = string(e.Query.Name)
		dict["a"] = encodeQueryArgs(e.Query)
	case e.Response != nil:
		dict["y"] = "r"
		dict["r"] = encodeResponseBody(e.Response)
	case e.Error != nil:
		dict["y"] = "e"
		dict["e"] = []any{int64(e.Error.Code), e.Error.Message}
	default:
		return nil, EncodeErrorKind{Cause: errors.New("envelope has no query, response, or error payload")}
	}

	b, err := bencodeValue(dict)
	if err != nil {
		return nil, EncodeErrorKind{Cause: err}
	}
	return b, nil
}

func encodeQueryArgs(q *Query) map[string]any {
	args := map[string]any{"id": string(q.ID[:])}
	switch q.Name {
	case QueryFindNode:
		args["target"] = string(q.Target[:])
	case QueryGetPeers:
		args["info_hash"] = string(q.InfoHash[:])
	case QueryAnnouncePeer:
		args["info_hash"] = string(q.InfoHash[:])
		args["token"] = string(q.Token)
		if q.Port.Implied {
			args["implied_port"] = int64(1)
		} else {
			args["implied_port"] = int64(0)
		}
		if !q.Port.Implied && q.Port.Port != 0 {
			args["port"] = int64(q.Port.Port)
		}
	case QuerySampleInfoHashes:
		args["target"] = string(q.Target[:])
	}
	return args
}

func encodeResponseBody(r *Response) map[string]any {
	body := map[string]any{"id": string(r.ID[:])}
	if r.Token != nil {
		body["token"] = string(r.Token)
	}
	switch r.Shape {
	case ShapeNextHop:
		body["nodes"] = string(EncodeNodeInfos(r.Nodes))
	case ShapeGetPeers:
		values := make([]any, len(r.Peers))
		for i, p := range r.Peers {
			values[i] = string(p.Compact())
		}
		body["values"] = values
	case ShapeSamples:
		body["nodes"] = string(EncodeNodeInfos(r.Nodes))
		if r.Interval != nil {
			body["interval"] = int64(*r.Interval)
		}
		if r.Num != nil {
			body["num"] = int64(*r.Num)
		}
		samples := make([]byte, 0, len(r.Samples)*IDLength)
		for _, s := range r.Samples {
			samples = append(samples, s[:]...)
		}
		body["samples"] = string(samples)
	}
	return body
}

// Decode parses a bencoded KRPC envelope. Decoding a "r" payload relies on
// field presence, not a wire tag, to pick the response variant: a non-empty
// "values" list means GetPeers; otherwise a present "samples" key means
// Samples; otherwise a present "nodes" key means NextHop; otherwise OnlyID.
// This order is load-bearing: older peers sometimes send both "nodes" and
// an empty "values", and an empty values list must not be mistaken for a
// populated one.
func Decode(data []byte) (*Envelope, error) {
	raw, err := decodeBencodeValue(data)
	if err != nil {
		return nil, DecodeErrorKind{Cause: err}
	}
	dict, ok := asDict(raw)
	if !ok {
		return nil, DecodeErrorKind{Cause: errors.New("envelope is not a dictionary")}
	}

	e := &Envelope{}

	t, ok := asString(dict["t"])
	if !ok {
		return nil, DecodeErrorKind{Cause: errors.New("missing transaction id")}
	}
	e.TransactionID = []byte(t)

	if v, ok := asString(dict["v"]); ok {
		e.Version = []byte(v)
	}
	if ipRaw, ok := asString(dict["ip"]); ok {
		addr, err := ParsePeerAddress([]byte(ipRaw))
		if err == nil {
			e.IP = &addr
		}
	}
	if ro, ok := asInt(dict["ro"]); ok {
		e.ReadOnly = ro != 0
	}

	y, ok := asString(dict["y"])
	if !ok {
		return nil, DecodeErrorKind{Cause: errors.New("missing message type")}
	}

	switch y {
	case "q":
		q, err := decodeQuery(dict)
		if err != nil {
			return nil, err
		}
		e.Query = q
	case "r":
		r, err := decodeResponse(dict)
		if err != nil {
			return nil, err
		}
		e.Response = r
	case "e":
		ke, err := decodeError(dict)
		if err != nil {
			return nil, err
		}
		e.Error = ke
	default:
		return nil, DecodeErrorKind{Cause: errors.Errorf("unknown message type %q", y)}
	}

	return e, nil
}

func decodeQuery(dict map[string]any) (*Query, error) {
	name, ok := asString(dict["q"])
	if !ok {
		return nil, DecodeErrorKind{Cause: errors.New("missing query method")}
	}
	args, ok := asDict(dict["a"])
	if !ok {
		return nil, DecodeErrorKind{Cause: errors.New("missing query arguments")}
	}
	id, err := decodeRequiredID(args, "id")
	if err != nil {
		return nil, err
	}

	q := &Query{Name: QueryName(name), ID: id}
	switch QueryName(name) {
	case QueryPing:
		// no further arguments
	case QueryFindNode:
		target, err := decodeRequiredID(args, "target")
		if err != nil {
			return nil, err
		}
		q.Target = target
	case QueryGetPeers:
		ih, err := decodeRequiredID(args, "info_hash")
		if err != nil {
			return nil, err
		}
		q.InfoHash = ih
	case QueryAnnouncePeer:
		ih, err := decodeRequiredID(args, "info_hash")
		if err != nil {
			return nil, err
		}
		q.InfoHash = ih
		if tok, ok := asString(args["token"]); ok {
			q.Token = []byte(tok)
		}
		implied, _ := asInt(args["implied_port"])
		if implied != 0 {
			q.Port = ImpliedPort()
		} else if port, ok := asInt(args["port"]); ok {
			q.Port = ExplicitPort(uint16(port))
		}
	case QuerySampleInfoHashes:
		target, err := decodeRequiredID(args, "target")
		if err != nil {
			return nil, err
		}
		q.Target = target
	default:
		return nil, UnknownQueryError{Name: name}
	}
	return q, nil
}

func decodeResponse(dict map[string]any) (*Response, error) {
	body, ok := asDict(dict["r"])
	if !ok {
		return nil, DecodeErrorKind{Cause: errors.New("missing response body")}
	}
	id, err := decodeRequiredID(body, "id")
	if err != nil {
		return nil, err
	}

	var token []byte
	if tok, ok := asString(body["token"]); ok {
		token = []byte(tok)
	}

	if values, ok := asList(body["values"]); ok && len(values) > 0 {
		peers := make([]PeerAddress, 0, len(values))
		for _, v := range values {
			s, ok := asString(v)
			if !ok {
				return nil, DecodeErrorKind{Cause: errors.New("values entry is not a byte string")}
			}
			pa, err := ParsePeerAddress([]byte(s))
			if err != nil {
				return nil, DecodeErrorKind{Cause: err}
			}
			peers = append(peers, pa)
		}
		return NewGetPeersResponse(id, token, peers), nil
	}

	if samplesRaw, ok := asString(body["samples"]); ok {
		samplesBytes := []byte(samplesRaw)
		if len(samplesBytes)%IDLength != 0 {
			return nil, DecodeErrorKind{Cause: errors.New("samples length is not a multiple of node id length")}
		}
		samples := make([]NodeID, len(samplesBytes)/IDLength)
		for i := range samples {
			id, err := NodeIDFromBytes(samplesBytes[i*IDLength : (i+1)*IDLength])
			if err != nil {
				return nil, DecodeErrorKind{Cause: err}
			}
			samples[i] = id
		}
		nodes, err := decodeOptionalNodes(body)
		if err != nil {
			return nil, err
		}
		var interval *uint16
		if iv, ok := asInt(body["interval"]); ok {
			v := uint16(iv)
			interval = &v
		}
		var num *uint32
		if n, ok := asInt(body["num"]); ok {
			v := uint32(n)
			num = &v
		}
		return NewSamplesResponse(id, interval, nodes, num, samples), nil
	}

	if _, present := body["nodes"]; present {
		nodes, err := decodeOptionalNodes(body)
		if err != nil {
			return nil, err
		}
		return NewNextHopResponse(id, token, nodes), nil
	}

	return NewOnlyIDResponse(id), nil
}

func decodeOptionalNodes(body map[string]any) ([]NodeInfo, error) {
	raw, ok := asString(body["nodes"])
	if !ok {
		return nil, nil
	}
	nodes, err := ParseNodeInfos([]byte(raw))
	if err != nil {
		return nil, DecodeErrorKind{Cause: err}
	}
	return nodes, nil
}

func decodeError(dict map[string]any) (*KrpcError, error) {
	list, ok := asList(dict["e"])
	if !ok || len(list) != 2 {
		return nil, DecodeErrorKind{Cause: errors.New("error body must be a two-element list")}
	}
	code, ok := asInt(list[0])
	if !ok {
		return nil, DecodeErrorKind{Cause: errors.New("error code is not an integer")}
	}
	msg, ok := asString(list[1])
	if !ok {
		return nil, DecodeErrorKind{Cause: errors.New("error message is not a string")}
	}
	return &KrpcError{Code: int(code), Message: msg}, nil
}

func decodeRequiredID(dict map[string]any, key string) (NodeID, error) {
	s, ok := asString(dict[key])
	if !ok {
		return NodeID{}, DecodeErrorKind{Cause: errors.Errorf("missing or malformed %q", key)}
	}
	id, err := NodeIDFromBytes([]byte(s))
	if err != nil {
		return NodeID{}, DecodeErrorKind{Cause: err}
	}
	return id, nil
}
