package messaging

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vortexdb/vortex/conf"
)

const (
	serverCertPath = "testdata/servercert.pem"
	serverKeyPath  = "testdata/serverkey.pem"
)

func tlsTestConfig(addr Address, port int, sslPort int) Config {
	cfg := testConfig(addr, port, sslPort)
	cfg.Encrypt = EncryptAll
	cfg.TLS = conf.TLSConfig{
		Enabled:  true,
		CertPath: serverCertPath,
		KeyPath:  serverKeyPath,
	}
	cfg.ClientTLS = conf.ClientTLSConfig{
		TrustedCertsPath: serverCertPath,
	}
	return cfg
}

func TestEncryptAllUsesTLSListener(t *testing.T) {
	addr, port := serverAddress(t, "127.0.0.1")
	_, sslPort := serverAddress(t, "127.0.0.1")
	serverCfg := tlsTestConfig(addr, port, sslPort)
	server := startService(t, serverCfg, nil, nil)
	defer stopService(t, server)
	require.NoError(t, server.RegisterGossipEcho(func() error { return nil }))
	received := make(chan GossipDigestSyn, 1)
	require.NoError(t, server.RegisterGossipDigestSyn(func(_ *ClientInfo, syn GossipDigestSyn) error {
		received <- syn
		return nil
	}))

	// The client computes peer ports from its own config - same ports, no
	// listeners of its own
	clientCfg := tlsTestConfig("127.0.0.1", port, sslPort)
	clientCfg.ListenNow = false
	client := startService(t, clientCfg, nil, nil)
	defer stopService(t, client)

	id := PeerID{Addr: addr}
	require.NoError(t, client.SendGossipEcho(id))
	syn := GossipDigestSyn{ClusterID: "tls", Digests: []GossipDigest{{Endpoint: "e", Generation: 1, MaxVersion: 2}}}
	require.NoError(t, client.SendGossipDigestSyn(id, syn))
	select {
	case got := <-received:
		require.Equal(t, syn, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for syn over TLS")
	}
	// The connection was dialled against the TLS port
	conn := cachedConn(client, 1, id.Addr)
	require.NotNil(t, conn)
	require.True(t, strings.HasSuffix(conn.RemoteAddress(), portSuffix(sslPort)))
}

func TestEncryptPolicyIgnoredWithoutCredentials(t *testing.T) {
	// Encrypt all but TLS disabled: the service runs unencrypted
	addr, port := serverAddress(t, "127.0.0.1")
	server := startService(t, testConfig(addr, port, closedPort(t)), nil, nil)
	defer stopService(t, server)
	require.NoError(t, server.RegisterGossipEcho(func() error { return nil }))

	clientCfg := testConfig("127.0.0.1", port, closedPort(t))
	clientCfg.ListenNow = false
	clientCfg.Encrypt = EncryptAll
	client := startService(t, clientCfg, nil, nil)
	defer stopService(t, client)
	id := PeerID{Addr: addr}
	require.NoError(t, client.SendGossipEcho(id))
	conn := cachedConn(client, 1, id.Addr)
	require.True(t, strings.HasSuffix(conn.RemoteAddress(), portSuffix(port)))
}

type twoDCSnitch struct {
	local Address
}

func (s twoDCSnitch) DatacenterOf(addr Address) string {
	if addr == s.local {
		return "dc1"
	}
	return "dc2"
}

func (s twoDCSnitch) RackOf(addr Address) string {
	if addr == s.local {
		return "rack1"
	}
	return "rack2"
}

func TestEncryptPolicyEvaluation(t *testing.T) {
	cfg := tlsTestConfig("127.0.0.1", closedPort(t), closedPort(t))
	cfg.ListenNow = false
	cfg.Encrypt = EncryptDC
	ms := startService(t, cfg, twoDCSnitch{local: "127.0.0.1"}, nil)
	defer stopService(t, ms)
	require.False(t, ms.mustEncrypt("127.0.0.1"))
	require.True(t, ms.mustEncrypt("10.0.0.1"))
}

func TestEncryptRackPolicyEvaluation(t *testing.T) {
	cfg := tlsTestConfig("127.0.0.1", closedPort(t), closedPort(t))
	cfg.ListenNow = false
	cfg.Encrypt = EncryptRack
	ms := startService(t, cfg, twoDCSnitch{local: "127.0.0.1"}, nil)
	defer stopService(t, ms)
	require.False(t, ms.mustEncrypt("127.0.0.1"))
	require.True(t, ms.mustEncrypt("10.0.0.1"))
}

func TestCompressPolicyEvaluation(t *testing.T) {
	cfg := testConfig("127.0.0.1", closedPort(t), closedPort(t))
	cfg.ListenNow = false
	cfg.Compress = CompressDC
	ms := startService(t, cfg, twoDCSnitch{local: "127.0.0.1"}, nil)
	defer stopService(t, ms)
	require.False(t, ms.mustCompress("127.0.0.1"))
	require.True(t, ms.mustCompress("10.0.0.1"))

	// A nil snitch degrades dc evaluation to never-different
	cfg2 := testConfig("127.0.0.1", closedPort(t), closedPort(t))
	cfg2.ListenNow = false
	cfg2.Compress = CompressDC
	ms2 := startService(t, cfg2, nil, nil)
	defer stopService(t, ms2)
	require.False(t, ms2.mustCompress("10.0.0.1"))
}

func TestCompressAllRoundTrip(t *testing.T) {
	addr, port := serverAddress(t, "127.0.0.1")
	serverCfg := testConfig(addr, port, closedPort(t))
	serverCfg.Compress = CompressAll
	server := startService(t, serverCfg, nil, nil)
	defer stopService(t, server)
	require.NoError(t, server.RegisterHandler(VerbReadData, BytesCodec{}, BytesCodec{},
		func(_ *ClientInfo, payload interface{}) (interface{}, error) {
			return payload, nil
		}))

	clientCfg := testConfig("127.0.0.1", port, closedPort(t))
	clientCfg.ListenNow = false
	clientCfg.Compress = CompressAll
	client := startService(t, clientCfg, nil, nil)
	defer stopService(t, client)

	payload := []byte(strings.Repeat("compressible data ", 1000))
	resp, err := client.SendRequest(VerbReadData, PeerID{Addr: addr}, payload, BytesCodec{}, BytesCodec{})
	require.NoError(t, err)
	require.Equal(t, payload, resp)
}

func portSuffix(port int) string {
	return ":" + strconv.Itoa(port)
}
