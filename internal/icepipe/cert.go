package icepipe

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
)

// certValidity is long enough that a long-lived process never needs to
// regenerate its identity certificate mid-flight; DTLS-SRTP trusts the
// SDP fingerprint, not the certificate chain, so rotation has no
// security benefit here.
const certValidity = 10 * 365 * 24 * time.Hour

// GenerateSelfSignedCertificate creates the ECDSA P-256 identity
// certificate a Component presents during its DTLS handshake. No pack
// library performs X.509 issuance, so this is built directly on
// crypto/x509 (spec §4.6: "DTLS handshake driver... self-signed
// certificate, authenticated via the SDP fingerprint rather than a CA").
func GenerateSelfSignedCertificate() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("icepipe: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("icepipe: generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "webrtc-core"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("icepipe: create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

// CertificateFingerprint computes, under hashAlgo, the hex digest part of
// the a=fingerprint value a local SDP offer/answer advertises for cert
// (spec §4.6); the algorithm name is not included in the result.
func CertificateFingerprint(cert tls.Certificate, hashAlgo string) (string, error) {
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return "", fmt.Errorf("icepipe: parse local certificate: %w", err)
	}
	hash, err := fingerprint.HashFromString(hashAlgo)
	if err != nil {
		return "", fmt.Errorf("icepipe: unsupported fingerprint hash %q: %w", hashAlgo, err)
	}
	return fingerprint.Fingerprint(leaf, hash)
}
