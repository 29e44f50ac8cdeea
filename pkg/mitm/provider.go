package mitm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
)

// expiryWarning is how close to NotAfter a loaded certificate starts being
// reported as expiring.
const expiryWarning = 30 * 24 * time.Hour

// FileContextProvider serves a provisioned certificate pair loaded from
// disk. Watch reloads it when either file changes, so a renewed certificate
// is picked up by the next intercepted tunnel.
type FileContextProvider struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate
	leaf *x509.Certificate
}

// ProviderOption configures a FileContextProvider.
type ProviderOption func(*FileContextProvider)

// WithProviderLogger sets the logger for reload events.
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *FileContextProvider) {
		p.logger = logger
	}
}

// NewFileContextProvider loads certFile and keyFile. The certificate must be
// currently valid.
func NewFileContextProvider(certFile, keyFile string, opts ...ProviderOption) (*FileContextProvider, error) {
	p := &FileContextProvider{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// TLSConfig returns a server configuration presenting the current
// certificate. serverName is not used to pick a certificate: a single
// provisioned pair covers every intercepted host.
func (p *FileContextProvider) TLSConfig(string) (*tls.Config, error) {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			p.mu.RLock()
			defer p.mu.RUnlock()
			return p.cert, nil
		},
	}, nil
}

// Reload reads the certificate pair from disk and swaps it in. On failure
// the previous certificate stays active.
func (p *FileContextProvider) Reload() error {
	cert, err := tls.LoadX509KeyPair(p.certFile, p.keyFile)
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}
	if err := ValidateCertificate(leaf, time.Now()); err != nil {
		return err
	}
	cert.Leaf = leaf

	p.mu.Lock()
	p.cert = &cert
	p.leaf = leaf
	p.mu.Unlock()

	p.logCertificate(leaf)
	return nil
}

// Certificate returns details of the current certificate.
func (p *FileContextProvider) Certificate() *CertificateInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ExtractCertificateInfo(p.leaf)
}

// Watch reloads the certificate whenever the certificate or key file
// changes. It blocks until ctx is cancelled. The containing directories are
// watched so that atomic replacement by rename is noticed.
func (p *FileContextProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	watched := map[string]bool{}
	for _, f := range []string{p.certFile, p.keyFile} {
		dir := filepath.Dir(f)
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watched[dir] = true
	}

	certPath, keyPath := filepath.Clean(p.certFile), filepath.Clean(p.keyFile)

	// Editors and renewal tools write in bursts; settle before reloading.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			name := filepath.Clean(event.Name)
			if name != certPath && name != keyPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(100 * time.Millisecond)

		case <-pending:
			pending = nil
			if err := p.Reload(); err != nil {
				p.logger.Error("certificate reload failed", "cert_file", p.certFile, "error", err)
				continue
			}
			p.logger.Info("certificate reloaded", "cert_file", p.certFile)

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			p.logger.Error("certificate watcher error", "error", err)
		}
	}
}

func (p *FileContextProvider) logCertificate(leaf *x509.Certificate) {
	remaining := time.Until(leaf.NotAfter)
	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"issuer", leaf.Issuer.CommonName,
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
		"expires_in_days", int(remaining.Hours() / 24),
	}
	if remaining < expiryWarning {
		p.logger.Warn("interception certificate expiring soon", attrs...)
		return
	}
	p.logger.Info("interception certificate loaded", attrs...)
}

// ValidateCertificate checks that cert is valid at now.
func ValidateCertificate(cert *x509.Certificate, now time.Time) error {
	if cert == nil {
		return errors.New("certificate is nil")
	}
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// CertificateInfo is a printable summary of a certificate.
type CertificateInfo struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	DNSNames     []string  `json:"dns_names,omitempty"`
	IPAddresses  []string  `json:"ip_addresses,omitempty"`
	IsCA         bool      `json:"is_ca"`
}

// ExtractCertificateInfo summarizes cert. A nil cert yields nil.
func ExtractCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	if cert == nil {
		return nil
	}
	info := &CertificateInfo{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: fmt.Sprintf("%x", cert.SerialNumber),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		DNSNames:     cert.DNSNames,
		IsCA:         cert.IsCA,
	}
	for _, ip := range cert.IPAddresses {
		info.IPAddresses = append(info.IPAddresses, ip.String())
	}
	return info
}

// LoadCertificateInfo reads a PEM certificate pair and summarizes its leaf
// without checking validity.
func LoadCertificateInfo(certFile, keyFile string) (*CertificateInfo, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return ExtractCertificateInfo(leaf), nil
}
