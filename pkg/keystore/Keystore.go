// Package keystore with the password protected client keystore used for mutual TLS.
//
// The keystore holds the client certificate, its private key and the CA certificate that
// signed the server certificate. On disk it is a JWE compact serialization encrypted with a
// key derived from the keystore password (PBES2).
package keystore

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/square/go-jose.v2"
)

// ErrWrongPassword is returned when the keystore can't be decrypted
var ErrWrongPassword = errors.New("keystore password is incorrect or the keystore is damaged")

// Keystore content
type Keystore struct {
	// CertPEM is the client certificate
	CertPEM string `json:"certificate"`
	// KeyPEM is the private key of the client certificate
	KeyPEM string `json:"privateKey"`
	// CaCertPEM is the CA that signed the server certificate. Empty to use the system roots.
	CaCertPEM string `json:"caCertificate,omitempty"`
}

// TLSConfig returns a client TLS configuration that presents the keystore certificate
// and verifies the server against the keystore CA
func (ks *Keystore) TLSConfig() (*tls.Config, error) {
	clientCert, err := tls.X509KeyPair([]byte(ks.CertPEM), []byte(ks.KeyPEM))
	if err != nil {
		return nil, fmt.Errorf("keystore: invalid client certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		MinVersion:   tls.VersionTLS12,
	}
	if ks.CaCertPEM != "" {
		caCert, err := CertFromPEM(ks.CaCertPEM)
		if err != nil {
			return nil, fmt.Errorf("keystore: invalid CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AddCert(caCert)
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// ServerTLSConfig returns a server TLS configuration that presents the keystore certificate
// and requires clients to present a certificate signed by the keystore CA
func (ks *Keystore) ServerTLSConfig() (*tls.Config, error) {
	if ks.CaCertPEM == "" {
		return nil, errors.New("keystore: a CA certificate is required to verify clients")
	}
	tlsConfig, err := ks.TLSConfig()
	if err != nil {
		return nil, err
	}
	tlsConfig.ClientCAs = tlsConfig.RootCAs
	tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	return tlsConfig, nil
}

// Encrypt returns the keystore as a password encrypted JWE
func (ks *Keystore) Encrypt(password string) (string, error) {
	if password == "" {
		return "", errors.New("keystore: password is required")
	}
	plaintext, err := json.Marshal(ks)
	if err != nil {
		return "", err
	}
	encrypter, err := jose.NewEncrypter(jose.A256GCM,
		jose.Recipient{Algorithm: jose.PBES2_HS256_A128KW, Key: []byte(password)}, nil)
	if err != nil {
		return "", err
	}
	jwe, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return jwe.CompactSerialize()
}

// Decrypt parses a password encrypted JWE keystore
func Decrypt(serialized string, password string) (*Keystore, error) {
	jwe, err := jose.ParseEncrypted(serialized)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	plaintext, err := jwe.Decrypt([]byte(password))
	if err != nil {
		logrus.Debugf("Decrypt: %s", err)
		return nil, ErrWrongPassword
	}
	ks := &Keystore{}
	if err = json.Unmarshal(plaintext, ks); err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	return ks, nil
}

// Write the keystore encrypted to a file that is only readable by the owner
func Write(path string, password string, ks *Keystore) error {
	serialized, err := ks.Encrypt(password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(serialized), 0600)
}

// Read and decrypt a keystore file
func Read(path string, password string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decrypt(string(data), password)
}

// LoadTLSConfig reads the keystore file and returns its client TLS configuration
func LoadTLSConfig(path string, password string) (*tls.Config, error) {
	ks, err := Read(path, password)
	if err != nil {
		logrus.Errorf("LoadTLSConfig: unable to read keystore '%s': %s", path, err)
		return nil, err
	}
	return ks.TLSConfig()
}

// LoadServerTLSConfig reads the keystore file and returns its server TLS configuration
func LoadServerTLSConfig(path string, password string) (*tls.Config, error) {
	ks, err := Read(path, password)
	if err != nil {
		logrus.Errorf("LoadServerTLSConfig: unable to read keystore '%s': %s", path, err)
		return nil, err
	}
	return ks.ServerTLSConfig()
}
