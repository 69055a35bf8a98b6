package keystore

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// PEM block types
const (
	PemTypeCertificate = "CERTIFICATE"
	PemTypePrivateKey  = "PRIVATE KEY"
)

// CertToPEM converts a x509 certificate to PEM text
func CertToPEM(cert *x509.Certificate) string {
	b := pem.EncodeToMemory(&pem.Block{Type: PemTypeCertificate, Bytes: cert.Raw})
	return string(b)
}

// CertFromPEM parses the first certificate in the PEM text
func CertFromPEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != PemTypeCertificate {
		return nil, errors.New("no certificate in PEM data")
	}
	return x509.ParseCertificate(block.Bytes)
}

// PrivateKeyToPEM converts an ECDSA private key to PKCS8 PEM text
func PrivateKeyToPEM(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", err
	}
	b := pem.EncodeToMemory(&pem.Block{Type: PemTypePrivateKey, Bytes: der})
	return string(b), nil
}

// PrivateKeyFromPEM parses a PKCS8 ECDSA private key
func PrivateKeyFromPEM(keyPEM string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil || block.Type != PemTypePrivateKey {
		return nil, errors.New("no private key in PEM data")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return ecKey, nil
}

// SaveCertToPEM writes the certificate to a PEM file readable by everyone
func SaveCertToPEM(cert *x509.Certificate, pemPath string) error {
	return os.WriteFile(pemPath, []byte(CertToPEM(cert)), 0444)
}

// LoadCertFromPEM reads a certificate from a PEM file
func LoadCertFromPEM(pemPath string) (*x509.Certificate, error) {
	data, err := os.ReadFile(pemPath)
	if err != nil {
		return nil, err
	}
	return CertFromPEM(string(data))
}
