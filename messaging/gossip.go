package messaging

import (
	"time"

	"github.com/vortexdb/vortex/encoding"
	"github.com/vortexdb/vortex/errwrap"
)

// The gossip verb family. The gossip protocol's semantics live elsewhere -
// these are the typed wire surfaces the gossiper registers and sends through.

const gossipEchoTimeout = 3 * time.Second

// GossipDigest summarises what a node knows about one endpoint.
type GossipDigest struct {
	Endpoint   Address
	Generation int32
	MaxVersion int32
}

// EndpointState is the gossiped state of one endpoint.
type EndpointState struct {
	HeartbeatGeneration int32
	HeartbeatVersion    int32
	ApplicationStates   map[string]string
}

// GossipDigestSyn opens a gossip round.
type GossipDigestSyn struct {
	ClusterID string
	Digests   []GossipDigest
}

// GossipDigestAck answers a syn with the digests the responder wants and the
// endpoint states it has newer versions of.
type GossipDigestAck struct {
	Digests        []GossipDigest
	EndpointStates map[Address]EndpointState
}

// GossipDigestAck2 closes the round with the states the initiator was asked for.
type GossipDigestAck2 struct {
	EndpointStates map[Address]EndpointState
}

func appendGossipDigest(buff []byte, d GossipDigest) []byte {
	buff = encoding.AppendStringToBufferLE(buff, string(d.Endpoint))
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(d.Generation))
	return encoding.AppendUint32ToBufferLE(buff, uint32(d.MaxVersion))
}

func readGossipDigest(buff []byte, offset int) (GossipDigest, int) {
	endpoint, offset := encoding.ReadStringFromBufferLE(buff, offset)
	generation, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	maxVersion, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	return GossipDigest{
		Endpoint:   Address(endpoint),
		Generation: int32(generation),
		MaxVersion: int32(maxVersion),
	}, offset
}

func appendGossipDigests(buff []byte, digests []GossipDigest) []byte {
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(digests)))
	for _, d := range digests {
		buff = appendGossipDigest(buff, d)
	}
	return buff
}

func readGossipDigests(buff []byte, offset int) ([]GossipDigest, int) {
	num, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	digests := make([]GossipDigest, num)
	for i := range digests {
		digests[i], offset = readGossipDigest(buff, offset)
	}
	return digests, offset
}

func appendEndpointState(buff []byte, state EndpointState) []byte {
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(state.HeartbeatGeneration))
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(state.HeartbeatVersion))
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(state.ApplicationStates)))
	for k, v := range state.ApplicationStates {
		buff = encoding.AppendStringToBufferLE(buff, k)
		buff = encoding.AppendStringToBufferLE(buff, v)
	}
	return buff
}

func readEndpointState(buff []byte, offset int) (EndpointState, int) {
	generation, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	version, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	num, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	states := make(map[string]string, num)
	for i := uint32(0); i < num; i++ {
		var k, v string
		k, offset = encoding.ReadStringFromBufferLE(buff, offset)
		v, offset = encoding.ReadStringFromBufferLE(buff, offset)
		states[k] = v
	}
	return EndpointState{
		HeartbeatGeneration: int32(generation),
		HeartbeatVersion:    int32(version),
		ApplicationStates:   states,
	}, offset
}

func appendEndpointStates(buff []byte, states map[Address]EndpointState) []byte {
	buff = encoding.AppendUint32ToBufferLE(buff, uint32(len(states)))
	for addr, state := range states {
		buff = encoding.AppendStringToBufferLE(buff, string(addr))
		buff = appendEndpointState(buff, state)
	}
	return buff
}

func readEndpointStates(buff []byte, offset int) (map[Address]EndpointState, int) {
	num, offset := encoding.ReadUint32FromBufferLE(buff, offset)
	states := make(map[Address]EndpointState, num)
	for i := uint32(0); i < num; i++ {
		var addr string
		addr, offset = encoding.ReadStringFromBufferLE(buff, offset)
		var state EndpointState
		state, offset = readEndpointState(buff, offset)
		states[Address(addr)] = state
	}
	return states, offset
}

type gossipDigestSynCodec struct{}

func (gossipDigestSynCodec) Encode(value interface{}, buff []byte) ([]byte, error) {
	syn, ok := value.(GossipDigestSyn)
	if !ok {
		return nil, errwrap.Errorf("expected GossipDigestSyn, got %T", value)
	}
	buff = encoding.AppendStringToBufferLE(buff, syn.ClusterID)
	return appendGossipDigests(buff, syn.Digests), nil
}

func (gossipDigestSynCodec) Decode(buff []byte) (interface{}, error) {
	clusterID, offset := encoding.ReadStringFromBufferLE(buff, 0)
	digests, _ := readGossipDigests(buff, offset)
	return GossipDigestSyn{ClusterID: clusterID, Digests: digests}, nil
}

type gossipDigestAckCodec struct{}

func (gossipDigestAckCodec) Encode(value interface{}, buff []byte) ([]byte, error) {
	ack, ok := value.(GossipDigestAck)
	if !ok {
		return nil, errwrap.Errorf("expected GossipDigestAck, got %T", value)
	}
	buff = appendGossipDigests(buff, ack.Digests)
	return appendEndpointStates(buff, ack.EndpointStates), nil
}

func (gossipDigestAckCodec) Decode(buff []byte) (interface{}, error) {
	digests, offset := readGossipDigests(buff, 0)
	states, _ := readEndpointStates(buff, offset)
	return GossipDigestAck{Digests: digests, EndpointStates: states}, nil
}

type gossipDigestAck2Codec struct{}

func (gossipDigestAck2Codec) Encode(value interface{}, buff []byte) ([]byte, error) {
	ack2, ok := value.(GossipDigestAck2)
	if !ok {
		return nil, errwrap.Errorf("expected GossipDigestAck2, got %T", value)
	}
	return appendEndpointStates(buff, ack2.EndpointStates), nil
}

func (gossipDigestAck2Codec) Decode(buff []byte) (interface{}, error) {
	states, _ := readEndpointStates(buff, 0)
	return GossipDigestAck2{EndpointStates: states}, nil
}

type addressCodec struct{}

func (addressCodec) Encode(value interface{}, buff []byte) ([]byte, error) {
	addr, ok := value.(Address)
	if !ok {
		return nil, errwrap.Errorf("expected Address, got %T", value)
	}
	return encoding.AppendStringToBufferLE(buff, string(addr)), nil
}

func (addressCodec) Decode(buff []byte) (interface{}, error) {
	addr, _ := encoding.ReadStringFromBufferLE(buff, 0)
	return Address(addr), nil
}

// gossip echo

func (m *MessagingService) RegisterGossipEcho(handler func() error) error {
	return m.RegisterHandler(VerbGossipEcho, nil, nil, func(_ *ClientInfo, _ interface{}) (interface{}, error) {
		return nil, handler()
	})
}

func (m *MessagingService) UnregisterGossipEcho() {
	m.UnregisterHandler(VerbGossipEcho)
}

func (m *MessagingService) SendGossipEcho(id PeerID) error {
	_, err := m.SendRequestTimeout(VerbGossipEcho, id, gossipEchoTimeout, nil, nil, nil)
	return err
}

// gossip shutdown

func (m *MessagingService) RegisterGossipShutdown(handler func(from Address) error) error {
	return m.RegisterHandler(VerbGossipShutdown, addressCodec{}, nil, func(_ *ClientInfo, payload interface{}) (interface{}, error) {
		return nil, handler(payload.(Address))
	})
}

func (m *MessagingService) UnregisterGossipShutdown() {
	m.UnregisterHandler(VerbGossipShutdown)
}

func (m *MessagingService) SendGossipShutdown(id PeerID, from Address) error {
	return m.SendOneway(VerbGossipShutdown, id, from, addressCodec{})
}

// gossip syn

func (m *MessagingService) RegisterGossipDigestSyn(handler func(info *ClientInfo, syn GossipDigestSyn) error) error {
	return m.RegisterHandler(VerbGossipDigestSyn, gossipDigestSynCodec{}, nil, func(info *ClientInfo, payload interface{}) (interface{}, error) {
		return nil, handler(info, payload.(GossipDigestSyn))
	})
}

func (m *MessagingService) UnregisterGossipDigestSyn() {
	m.UnregisterHandler(VerbGossipDigestSyn)
}

func (m *MessagingService) SendGossipDigestSyn(id PeerID, syn GossipDigestSyn) error {
	return m.SendOneway(VerbGossipDigestSyn, id, syn, gossipDigestSynCodec{})
}

// gossip ack

func (m *MessagingService) RegisterGossipDigestAck(handler func(info *ClientInfo, ack GossipDigestAck) error) error {
	return m.RegisterHandler(VerbGossipDigestAck, gossipDigestAckCodec{}, nil, func(info *ClientInfo, payload interface{}) (interface{}, error) {
		return nil, handler(info, payload.(GossipDigestAck))
	})
}

func (m *MessagingService) UnregisterGossipDigestAck() {
	m.UnregisterHandler(VerbGossipDigestAck)
}

func (m *MessagingService) SendGossipDigestAck(id PeerID, ack GossipDigestAck) error {
	return m.SendOneway(VerbGossipDigestAck, id, ack, gossipDigestAckCodec{})
}

// gossip ack2

func (m *MessagingService) RegisterGossipDigestAck2(handler func(ack2 GossipDigestAck2) error) error {
	return m.RegisterHandler(VerbGossipDigestAck2, gossipDigestAck2Codec{}, nil, func(_ *ClientInfo, payload interface{}) (interface{}, error) {
		return nil, handler(payload.(GossipDigestAck2))
	})
}

func (m *MessagingService) UnregisterGossipDigestAck2() {
	m.UnregisterHandler(VerbGossipDigestAck2)
}

func (m *MessagingService) SendGossipDigestAck2(id PeerID, ack2 GossipDigestAck2) error {
	return m.SendOneway(VerbGossipDigestAck2, id, ack2, gossipDigestAck2Codec{})
}
