package security

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrPinMismatch is returned when no certificate in the peer chain carries a pinned key
var ErrPinMismatch = errors.New("certificate pin verification failed")

// CertificatePinner pins the license server to a set of SHA-256 hashes of
// Subject Public Key Info. Any certificate in the verified chain may match,
// so pinning an intermediate survives leaf rotation.
type CertificatePinner struct {
	pins map[string]struct{}
}

// NewCertificatePinner validates pins, each 64 hex characters in either case
func NewCertificatePinner(pins []string) (*CertificatePinner, error) {
	if len(pins) == 0 {
		return nil, errors.New("at least one certificate pin is required")
	}
	cp := &CertificatePinner{pins: make(map[string]struct{}, len(pins))}
	for _, pin := range pins {
		pin = strings.ToLower(strings.TrimSpace(pin))
		raw, err := hex.DecodeString(pin)
		if err != nil || len(raw) != sha256.Size {
			return nil, fmt.Errorf("invalid certificate pin %q: want 64 hex characters", pin)
		}
		cp.pins[pin] = struct{}{}
	}
	return cp, nil
}

// VerifyPeerCertificate has the signature of tls.Config.VerifyPeerCertificate.
// It runs after normal chain verification.
func (cp *CertificatePinner) VerifyPeerCertificate(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
	if len(verifiedChains) == 0 {
		return errors.New("no verified certificate chains")
	}
	for _, chain := range verifiedChains {
		for _, cert := range chain {
			if _, ok := cp.pins[SPKIHash(cert)]; ok {
				return nil
			}
		}
	}
	return fmt.Errorf("%w for %s", ErrPinMismatch, verifiedChains[0][0].Subject.CommonName)
}

// HTTPClient returns a client that only completes TLS handshakes with pinned
// peers. roots nil uses the system pool.
func (cp *CertificatePinner) HTTPClient(roots *x509.CertPool, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion:            tls.VersionTLS12,
			RootCAs:               roots,
			VerifyPeerCertificate: cp.VerifyPeerCertificate,
		},
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// SPKIHash is the lowercase hex SHA-256 of the certificate's public key info
func SPKIHash(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(hash[:])
}
