package mitm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type testCert struct {
	certPEM []byte
	keyPEM  []byte
	leaf    *x509.Certificate
}

// newTestCert creates a self-signed certificate valid between notBefore and
// notAfter for hosts.
func newTestCert(t *testing.T, serial int64, notBefore, notAfter time.Time, hosts ...string) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: "mitmgate test"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return testCert{
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		keyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		leaf:    leaf,
	}
}

func validTestCert(t *testing.T, serial int64) testCert {
	return newTestCert(t, serial, time.Now().Add(-time.Hour), time.Now().Add(365*24*time.Hour),
		"secure.test", "override.test")
}

// write stores the pair in dir and returns the file paths.
func (c testCert) write(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	certFile = filepath.Join(dir, "mitm.crt")
	keyFile = filepath.Join(dir, "mitm.key")
	if err := os.WriteFile(certFile, c.certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, c.keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func (c testCert) pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(c.leaf)
	return pool
}

// staticProvider serves one certificate and records requested names.
type staticProvider struct {
	cert tls.Certificate

	mu    sync.Mutex
	names []string
}

func newStaticProvider(t *testing.T, c testCert) *staticProvider {
	t.Helper()
	cert, err := tls.X509KeyPair(c.certPEM, c.keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	return &staticProvider{cert: cert}
}

func (p *staticProvider) TLSConfig(name string) (*tls.Config, error) {
	p.mu.Lock()
	p.names = append(p.names, name)
	p.mu.Unlock()
	return &tls.Config{Certificates: []tls.Certificate{p.cert}, NextProtos: []string{"h2", "http/1.1"}}, nil
}

func (p *staticProvider) requested() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

// readConnectReply consumes the proxy's answer to CONNECT without buffering
// past it, so the connection can carry TLS afterwards.
func readConnectReply(t *testing.T, conn net.Conn) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 1)
	for !strings.HasSuffix(sb.String(), "\r\n\r\n") {
		if _, err := conn.Read(buf); err != nil {
			t.Fatalf("read CONNECT reply: %v (got %q)", err, sb.String())
		}
		sb.WriteByte(buf[0])
	}
	line, _, _ := strings.Cut(sb.String(), "\r\n")
	return line
}
