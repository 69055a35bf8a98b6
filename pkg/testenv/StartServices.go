// Package testenv with a simulated session server and UI for use in tests
package testenv

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/wostzone/wost-session/pkg/httpbinding"
	"github.com/wostzone/wost-session/pkg/remoteserver"
)

const testAddress = "127.0.0.1:0"

// StartServices starts the demo session server on a free local port.
// With certs the server uses TLS and verifies client certificates signed by the test CA.
//  certs with the server certificate, or nil to serve plain http
// Returns the running server and its backend. Stop the server when done.
func StartServices(certs *TestCerts) (*httpbinding.Server, *remoteserver.Server, error) {
	backend := remoteserver.NewDemoServer(0)
	server, err := StartServer(backend, certs)
	return server, backend, err
}

// StartServer serves the given backend over http on a free local port
func StartServer(backend *remoteserver.Server, certs *TestCerts) (*httpbinding.Server, error) {
	var tlsConf *tls.Config
	if certs != nil {
		// service has CA certificate for client cert authentication
		caCertPool := x509.NewCertPool()
		caCertPool.AddCert(certs.CaCert)

		tlsConf = &tls.Config{
			Certificates: []tls.Certificate{*certs.ServerCert},
			ClientAuth:   tls.RequireAndVerifyClientCert,
			ClientCAs:    caCertPool,
			MinVersion:   tls.VersionTLS12,
		}
	}
	server := httpbinding.NewServer(backend, httpbinding.DefaultBinding, nil)
	if err := server.Start(testAddress, tlsConf); err != nil {
		return nil, err
	}
	return server, nil
}
