package testenv

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/wostzone/wost-session/pkg/keystore"
)

// TestCerts holds a self-signed CA with a server and a client certificate signed by it
type TestCerts struct {
	CaCert     *x509.Certificate
	CaKey      *ecdsa.PrivateKey
	ServerCert *tls.Certificate
	ClientCert *x509.Certificate
	ClientKey  *ecdsa.PrivateKey
}

// ClientKeystore returns a keystore with the client certificate and the CA
func (certs *TestCerts) ClientKeystore() (*keystore.Keystore, error) {
	keyPEM, err := keystore.PrivateKeyToPEM(certs.ClientKey)
	if err != nil {
		return nil, err
	}
	return &keystore.Keystore{
		CertPEM:   keystore.CertToPEM(certs.ClientCert),
		KeyPEM:    keyPEM,
		CaCertPEM: keystore.CertToPEM(certs.CaCert),
	}, nil
}

// signCert creates a certificate for the key signed by the CA
func signCert(template *x509.Certificate, caCert *x509.Certificate, caKey *ecdsa.PrivateKey,
	key *ecdsa.PrivateKey) (*x509.Certificate, error) {
	if caCert == nil {
		caCert = template
		caKey = key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// CreateCertificates creates a CA, a server certificate for localhost and a client certificate
//  clientID is the common name of the client certificate
func CreateCertificates(clientID string) (*TestCerts, error) {
	now := time.Now()
	caKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	caCert, err := signCert(&x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA", Organization: []string{"wost-session"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}, nil, nil, caKey)
	if err != nil {
		return nil, err
	}

	serverKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	serverCert, err := signCert(&x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}, caCert, caKey, serverKey)
	if err != nil {
		return nil, err
	}

	clientKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	clientCert, err := signCert(&x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: clientID},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, caCert, caKey, clientKey)
	if err != nil {
		return nil, err
	}

	return &TestCerts{
		CaCert: caCert,
		CaKey:  caKey,
		ServerCert: &tls.Certificate{
			Certificate: [][]byte{serverCert.Raw},
			PrivateKey:  serverKey,
			Leaf:        serverCert,
		},
		ClientCert: clientCert,
		ClientKey:  clientKey,
	}, nil
}
