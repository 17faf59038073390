package conf

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	serverCertPath = "testdata/servercert.pem"
	serverKeyPath  = "testdata/serverkey.pem"
)

func TestCreateServerTLSConfigDisabled(t *testing.T) {
	tlsConf, err := CreateServerTLSConfig(TLSConfig{})
	require.NoError(t, err)
	require.Nil(t, tlsConf)
}

func TestCreateServerTLSConfig(t *testing.T) {
	tlsConf, err := CreateServerTLSConfig(TLSConfig{
		Enabled:  true,
		CertPath: serverCertPath,
		KeyPath:  serverKeyPath,
	})
	require.NoError(t, err)
	require.NotNil(t, tlsConf)
	require.Equal(t, uint16(tls.VersionTLS12), tlsConf.MinVersion)
	require.Len(t, tlsConf.Certificates, 1)
	require.Equal(t, tls.NoClientCert, tlsConf.ClientAuth)
}

func TestCreateServerTLSConfigClientAuthDefaultsWhenCertsProvided(t *testing.T) {
	tlsConf, err := CreateServerTLSConfig(TLSConfig{
		Enabled:         true,
		CertPath:        serverCertPath,
		KeyPath:         serverKeyPath,
		ClientCertsPath: serverCertPath,
	})
	require.NoError(t, err)
	require.Equal(t, tls.RequireAndVerifyClientCert, tlsConf.ClientAuth)
	require.NotNil(t, tlsConf.ClientCAs)
}

func TestCreateServerTLSConfigInvalidClientAuth(t *testing.T) {
	_, err := CreateServerTLSConfig(TLSConfig{
		Enabled:    true,
		CertPath:   serverCertPath,
		KeyPath:    serverKeyPath,
		ClientAuth: "sausages",
	})
	require.Error(t, err)
}

func TestCreateServerTLSConfigMissingFiles(t *testing.T) {
	_, err := CreateServerTLSConfig(TLSConfig{
		Enabled:  true,
		CertPath: "testdata/nonexistent.pem",
		KeyPath:  serverKeyPath,
	})
	require.Error(t, err)
}

func TestClientTLSConfig(t *testing.T) {
	clientConf := &ClientTLSConfig{
		TrustedCertsPath: serverCertPath,
	}
	tlsConf, err := clientConf.ToGoTlsConfig()
	require.NoError(t, err)
	require.NotNil(t, tlsConf.RootCAs)
	require.False(t, tlsConf.InsecureSkipVerify)
}

func TestClientTLSConfigNoVerify(t *testing.T) {
	clientConf := &ClientTLSConfig{NoVerify: true}
	tlsConf, err := clientConf.ToGoTlsConfig()
	require.NoError(t, err)
	require.True(t, tlsConf.InsecureSkipVerify)
}
