package messaging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGossipDigestSynRoundTrip(t *testing.T) {
	syn := GossipDigestSyn{
		ClusterID: "cluster-1",
		Digests: []GossipDigest{
			{Endpoint: "10.0.0.1", Generation: 7, MaxVersion: 42},
			{Endpoint: "10.0.0.2", Generation: 2, MaxVersion: 0},
		},
	}
	buff, err := gossipDigestSynCodec{}.Encode(syn, nil)
	require.NoError(t, err)
	decoded, err := gossipDigestSynCodec{}.Decode(buff)
	require.NoError(t, err)
	require.Equal(t, syn, decoded)
}

func TestGossipDigestAckRoundTrip(t *testing.T) {
	ack := GossipDigestAck{
		Digests: []GossipDigest{{Endpoint: "10.0.0.3", Generation: 1, MaxVersion: 3}},
		EndpointStates: map[Address]EndpointState{
			"10.0.0.1": {
				HeartbeatGeneration: 4,
				HeartbeatVersion:    19,
				ApplicationStates:   map[string]string{"STATUS": "NORMAL", "RACK": "r1"},
			},
		},
	}
	buff, err := gossipDigestAckCodec{}.Encode(ack, nil)
	require.NoError(t, err)
	decoded, err := gossipDigestAckCodec{}.Decode(buff)
	require.NoError(t, err)
	require.Equal(t, ack, decoded)
}

func TestGossipDigestAck2RoundTrip(t *testing.T) {
	ack2 := GossipDigestAck2{
		EndpointStates: map[Address]EndpointState{
			"10.0.0.5": {
				HeartbeatGeneration: 1,
				HeartbeatVersion:    2,
				ApplicationStates:   map[string]string{},
			},
		},
	}
	buff, err := gossipDigestAck2Codec{}.Encode(ack2, nil)
	require.NoError(t, err)
	decoded, err := gossipDigestAck2Codec{}.Decode(buff)
	require.NoError(t, err)
	require.Equal(t, ack2, decoded)
}

func TestClientIDRoundTrip(t *testing.T) {
	cid := clientID{BroadcastAddr: "10.9.8.7", CoreID: 11, MaxResultSize: 1 << 24}
	buff := serializeClientID(nil, cid)
	decoded, err := deserializeClientID(buff)
	require.NoError(t, err)
	require.Equal(t, cid, decoded)
}

// The foreign and shared wrappers must be invisible on the wire: the encoded
// form equals the plain form and decoding re-wraps to an equal value.

func TestForeignCodecTransparent(t *testing.T) {
	inner := gossipDigestSynCodec{}
	codec := NewForeignCodec[GossipDigestSyn](inner, 3)
	syn := GossipDigestSyn{ClusterID: "c", Digests: []GossipDigest{{Endpoint: "a", Generation: 1, MaxVersion: 2}}}

	wrapped, err := codec.Encode(MakeForeign(7, syn), nil)
	require.NoError(t, err)
	plain, err := inner.Encode(syn, nil)
	require.NoError(t, err)
	require.Equal(t, plain, wrapped)

	decoded, err := codec.Decode(wrapped)
	require.NoError(t, err)
	f := decoded.(Foreign[GossipDigestSyn])
	require.Equal(t, syn, f.Get())
	require.Equal(t, 3, f.OwnerCore())
}

func TestSharedCodecTransparent(t *testing.T) {
	inner := addressCodec{}
	codec := NewSharedCodec[Address](inner)
	addr := Address("10.0.0.1")

	wrapped, err := codec.Encode(NewShared(addr), nil)
	require.NoError(t, err)
	plain, err := inner.Encode(addr, nil)
	require.NoError(t, err)
	require.Equal(t, plain, wrapped)

	decoded, err := codec.Decode(wrapped)
	require.NoError(t, err)
	s := decoded.(Shared[Address])
	require.Equal(t, addr, s.Get())
	require.Equal(t, int32(1), s.Refs())
}

func TestSharedRefCounting(t *testing.T) {
	s := NewShared("v")
	s2 := s.Share()
	require.Equal(t, int32(2), s.Refs())
	require.Equal(t, "v", s2.Get())
	s2.Release()
	require.Equal(t, int32(1), s.Refs())
}

func TestBytesCodecRejectsWrongType(t *testing.T) {
	_, err := BytesCodec{}.Encode("not bytes", nil)
	require.Error(t, err)
}
