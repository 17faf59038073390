package conf

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/vortexdb/vortex/certutil"
	"github.com/vortexdb/vortex/errwrap"
)

const (
	ClientAuthModeUnspecified                = ""
	ClientAuthModeNoClientCert               = "no-client-cert"
	ClientAuthModeRequestClientCert          = "request-client-cert"
	ClientAuthModeRequireAnyClientCert       = "require-any-client-cert"
	ClientAuthModeVerifyClientCertIfGiven    = "verify-client-cert-if-given"
	ClientAuthModeRequireAndVerifyClientCert = "require-and-verify-client-cert"
)

// TLSConfig holds the server-side credentials of the messaging service. With
// Enabled false the service runs without TLS no matter what the encrypt policy
// says.
type TLSConfig struct {
	Enabled         bool   `help:"Set to true to enable TLS between cluster nodes"`
	CertPath        string `help:"Path to a PEM encoded file containing the server certificate"`
	KeyPath         string `help:"Path to a PEM encoded file containing the server private key"`
	ClientCertsPath string `help:"Path to a PEM encoded file containing trusted client certificates and/or CA certificates"`
	ClientAuth      string `help:"Client certificate authentication mode" enum:",no-client-cert,request-client-cert,require-any-client-cert,verify-client-cert-if-given,require-and-verify-client-cert" default:""`
}

func CreateServerTLSConfig(config TLSConfig) (*tls.Config, error) {
	if !config.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{ // nolint: gosec
		MinVersion: tls.VersionTLS12,
	}
	keyPair, err := certutil.CreateKeyPair(config.CertPath, config.KeyPath)
	if err != nil {
		return nil, err
	}
	tlsConfig.Certificates = []tls.Certificate{keyPair}
	if config.ClientCertsPath != "" {
		clientCerts, err := os.ReadFile(config.ClientCertsPath)
		if err != nil {
			return nil, err
		}
		trustedCertPool := x509.NewCertPool()
		if ok := trustedCertPool.AppendCertsFromPEM(clientCerts); !ok {
			return nil, errwrap.Errorf("failed to append trusted certs PEM (invalid PEM block?)")
		}
		tlsConfig.ClientCAs = trustedCertPool
	}
	clientAuth, ok := clientAuthTypeMap[config.ClientAuth]
	if !ok {
		return nil, errwrap.Errorf("invalid tls client auth setting '%s'", config.ClientAuth)
	}
	if config.ClientCertsPath != "" && config.ClientAuth == ClientAuthModeUnspecified {
		// If client certs provided then default to client auth required
		clientAuth = tls.RequireAndVerifyClientCert
	}
	tlsConfig.ClientAuth = clientAuth
	return tlsConfig, nil
}

var clientAuthTypeMap = map[string]tls.ClientAuthType{
	ClientAuthModeNoClientCert:               tls.NoClientCert,
	ClientAuthModeRequestClientCert:          tls.RequestClientCert,
	ClientAuthModeRequireAnyClientCert:       tls.RequireAnyClientCert,
	ClientAuthModeVerifyClientCertIfGiven:    tls.VerifyClientCertIfGiven,
	ClientAuthModeRequireAndVerifyClientCert: tls.RequireAndVerifyClientCert,
	ClientAuthModeUnspecified:                tls.NoClientCert,
}
