package icepipe

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
)

// fingerprintVerifier returns a tls.Config-style VerifyPeerCertificate
// callback that accepts the handshake only if the leaf certificate's
// fingerprint (under hashAlgo) matches expected, replacing CA validation
// the way a=fingerprint-authenticated DTLS-SRTP always does (spec §4.6).
func fingerprintVerifier(hashAlgo, expected string) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("icepipe: no peer certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("icepipe: parse peer certificate: %w", err)
		}

		hash, err := fingerprint.HashFromString(hashAlgo)
		if err != nil {
			return fmt.Errorf("icepipe: unsupported fingerprint hash %q: %w", hashAlgo, err)
		}

		actual, err := fingerprint.Fingerprint(cert, hash)
		if err != nil {
			return fmt.Errorf("icepipe: compute peer fingerprint: %w", err)
		}

		if !strings.EqualFold(actual, expected) {
			return fmt.Errorf("icepipe: fingerprint mismatch: sdp said %s, dtls peer is %s", expected, actual)
		}
		return nil
	}
}
