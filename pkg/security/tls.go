package security

import (
	"crypto/tls"
	"crypto/x509"
)

// ServerTLSConfig builds the TLS config for the API listener. Client
// certificates are verified against the cluster CA when presented, but a
// connection without one is still accepted so password and header
// authentication can proceed.
func ServerTLSConfig(cert *tls.Certificate, clientCAs *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    clientCAs,
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientTLSConfig builds the TLS config used for node-to-node requests
func ClientTLSConfig(cert *tls.Certificate, rootCAs *x509.CertPool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      rootCAs,
		MinVersion:   tls.VersionTLS12,
	}
}
