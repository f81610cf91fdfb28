// released under the MIT license

package network

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"testing"
	"time"
)

func TestNormalizeFingerprint(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"AB:CD:EF", "abcdef"},
		{"abcdef", "abcdef"},
		{"A1b2C3", "a1b2c3"},
	}
	for _, c := range cases {
		if got := normalizeFingerprint(c.in); got != c.out {
			t.Errorf("normalizeFingerprint(%q) = %q, want %q", c.in, got, c.out)
		}
	}
}

func TestFingerprintFormat(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "irc.example.test"},
		DNSNames:     []string{"irc.example.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	fp := Fingerprint(cert)
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d: %q", len(fp), fp)
	}
	if fp != strings.ToLower(fp) {
		t.Fatalf("fingerprint must be lowercase hex: %q", fp)
	}
	// the pin comparison accepts Botan-style colon-separated upper hex
	var pinned strings.Builder
	for i := 0; i < len(fp); i += 2 {
		if i > 0 {
			pinned.WriteByte(':')
		}
		pinned.WriteString(strings.ToUpper(fp[i : i+2]))
	}
	if normalizeFingerprint(pinned.String()) != fp {
		t.Fatal("colon-separated pin did not normalize to the leaf fingerprint")
	}
}
