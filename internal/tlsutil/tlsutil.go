// Package tlsutil generates the self-signed TLS bootstrap certificate
// the server uses whenever use_https is enabled (§4.1, §6.1); the server
// does not load an operator-supplied cert/key pair. Adapted directly from the teacher's tls.go: an
// ECDSA P-256 key, a self-signed CA-flagged leaf certificate, and a
// SHA-256 fingerprint logged at startup so operators can pin it.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Bootstrap is a generated self-signed certificate plus its fingerprint.
type Bootstrap struct {
	Config      *tls.Config
	Fingerprint string
}

// Generate creates a self-signed certificate valid for validity, naming
// hostname (plus "localhost") in the certificate's DNS SANs.
func Generate(validity time.Duration, hostname string) (*Bootstrap, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	cn := "syncplayer"
	if hostname != "" {
		cn = hostname
	}

	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)

	return &Bootstrap{
		Config: &tls.Config{
			Certificates: []tls.Certificate{{
				Certificate: [][]byte{certDER},
				PrivateKey:  key,
				Leaf:        cert,
			}},
		},
		Fingerprint: hex.EncodeToString(fp[:]),
	}, nil
}
