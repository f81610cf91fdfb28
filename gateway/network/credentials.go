// released under the MIT license

package network

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"os"
	"strings"
	"sync"

	"github.com/lep/biboumi/gateway/logger"
)

// Locations tried, in order, when no ca-file is configured.
var defaultCertFiles = []string{
	"/etc/ssl/certs/ca-bundle.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/ca-certificates/extracted/tls-ca-bundle.pem",
}

// The trust store is process-wide, loaded once on the first handler
// that negotiates TLS, and read-only afterwards.
var trustStore struct {
	once sync.Once
	pool *x509.CertPool
}

// loadTrustStore reads the first bundle that opens successfully:
// the configured path if set, otherwise the default locations in order.
// Certificates inside the bundle that fail to decode are skipped.
// Returns nil when no bundle could be read; validation will then fail
// unless a fingerprint pin is configured.
func loadTrustStore(configuredPath string, log *logger.Manager) *x509.CertPool {
	trustStore.once.Do(func() {
		paths := defaultCertFiles
		if configuredPath != "" {
			paths = []string{configuredPath}
		}
		for _, path := range paths {
			pem, err := os.ReadFile(path)
			if err != nil {
				log.Debug("tls", "could not open ca bundle", path, err.Error())
				continue
			}
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(pem)
			log.Debug("tls", "using ca bundle", path)
			trustStore.pool = pool
			return
		}
		log.Warning("tls", "no CA bundle could be loaded, TLS negotiation will probably fail")
	})
	return trustStore.pool
}

// Fingerprint returns the hex SHA-256 digest of the certificate, the
// format expected for pins.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// normalizeFingerprint makes configured pins comparable to Fingerprint
// output: colons dropped, case ignored.
func normalizeFingerprint(fp string) string {
	return strings.ToLower(strings.ReplaceAll(fp, ":", ""))
}

// verifyPeerChain implements the validation policy:
// standard chain validation against the process trust store including
// hostname match; on failure, a configured fingerprint pin rescues the
// session iff the leaf matches it and the leaf's names cover the
// purported hostname; otherwise the handler's abort policy decides.
func (h *Handler) verifyPeerChain(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return errNoPeerCertificate
	}
	leaf := certs[0]

	pool := loadTrustStore(h.CAFile, h.log)
	if pool == nil {
		pool = x509.NewCertPool()
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         pool,
		Intermediates: intermediates,
		DNSName:       h.host,
	})
	if err == nil {
		h.log.Debug("tls", "certificate is valid for", h.host)
		return nil
	}

	h.log.Warning("tls", "certificate check failed for "+h.host, err.Error())
	if h.TrustedFingerprint != "" &&
		normalizeFingerprint(h.TrustedFingerprint) == Fingerprint(leaf) &&
		leaf.VerifyHostname(h.host) == nil {
		h.log.Info("tls", "accepting pinned certificate for", h.host)
		return nil
	}
	if h.AbortOnInvalidCert {
		return err
	}
	h.log.Warning("tls", "continuing with unvalidated certificate for", h.host)
	return nil
}
