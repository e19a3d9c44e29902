package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/logger"

	"golang.org/x/crypto/acme/autocert"
)

// TLSManager handles TLS certificate management including Let's Encrypt
type TLSManager struct {
	config      *TLSConfig
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
	initialized bool
}

// TLSConfig holds TLS configuration options
type TLSConfig struct {
	EnableTLS          bool
	EnableLetsEncrypt  bool
	GenerateSelfSigned bool
	Domain             string
	LetsEncryptEmail   string
	CertCacheDir       string
	ForceHTTPSRedirect bool
	CertFile           string
	KeyFile            string
	HTTPPort           string
	HTTPSPort          string
}

// ConfigFromSettings reads the [TLS] section and the HTTP port of [Server].
func ConfigFromSettings() *TLSConfig {
	return &TLSConfig{
		EnableTLS:          configuration.GetBool("TLS", "enable_tls", false),
		EnableLetsEncrypt:  configuration.GetBool("TLS", "enable_letsencrypt", false),
		GenerateSelfSigned: configuration.GetBool("TLS", "generate_self_signed", false),
		Domain:             configuration.GetString("TLS", "domain", ""),
		LetsEncryptEmail:   configuration.GetString("TLS", "letsencrypt_email", ""),
		CertCacheDir:       configuration.GetString("TLS", "cert_cache_dir", "certs"),
		ForceHTTPSRedirect: configuration.GetBool("TLS", "force_https_redirect", false),
		CertFile:           configuration.GetString("TLS", "cert_file", "certs/server.crt"),
		KeyFile:            configuration.GetString("TLS", "key_file", "certs/server.key"),
		HTTPPort:           configuration.GetString("Server", "http_port", "8080"),
		HTTPSPort:          configuration.GetString("TLS", "https_port", "8443"),
	}
}

// NewTLSManager creates a TLS manager from the settings file.
func NewTLSManager() (*TLSManager, error) {
	return NewTLSManagerWithConfig(ConfigFromSettings())
}

// NewTLSManagerWithConfig validates config and prepares certificates.
func NewTLSManagerWithConfig(config *TLSConfig) (*TLSManager, error) {
	if config.CertFile == "" {
		config.CertFile = "certs/server.crt"
	}
	if config.KeyFile == "" {
		config.KeyFile = "certs/server.key"
	}
	manager := &TLSManager{config: config}

	if err := manager.validateConfig(); err != nil {
		return nil, fmt.Errorf("TLS configuration validation failed: %w", err)
	}

	if config.EnableTLS {
		if err := manager.initializeTLS(); err != nil {
			return nil, fmt.Errorf("TLS initialization failed: %w", err)
		}
	}
	return manager, nil
}

func (tm *TLSManager) validateConfig() error {
	if !tm.config.EnableTLS {
		return nil
	}
	if tm.config.EnableLetsEncrypt {
		if strings.TrimSpace(tm.config.Domain) == "" {
			return fmt.Errorf("domain is required when Let's Encrypt is enabled")
		}
		if strings.TrimSpace(tm.config.LetsEncryptEmail) == "" {
			return fmt.Errorf("letsencrypt_email is required when Let's Encrypt is enabled")
		}
		if strings.Contains(tm.config.Domain, "example.com") {
			logger.SecurityWarn("Using example domain - change this in production!")
		}
	}
	return nil
}

func (tm *TLSManager) initializeTLS() error {
	if tm.config.EnableLetsEncrypt {
		return tm.initializeLetsEncrypt()
	}
	return tm.initializeManualTLS()
}

func (tm *TLSManager) initializeLetsEncrypt() error {
	logger.Info(logger.AreaSecurity, "Initializing Let's Encrypt for domain: %s", tm.config.Domain)

	if err := os.MkdirAll(tm.config.CertCacheDir, 0700); err != nil {
		return fmt.Errorf("failed to create certificate cache directory: %w", err)
	}

	tm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(tm.config.CertCacheDir),
		Prompt:     autocert.AcceptTOS,
		Email:      tm.config.LetsEncryptEmail,
		HostPolicy: autocert.HostWhitelist(tm.config.Domain, "www."+tm.config.Domain),
	}

	tm.tlsConfig = &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			serverName := hello.ServerName
			if serverName == "" {
				logger.SecurityWarn("TLS handshake without SNI, using default domain")
				hello.ServerName = tm.config.Domain
			}
			cert, err := tm.autocertMgr.GetCertificate(hello)
			if err != nil {
				logger.SecurityWarn("Failed to get certificate for %s: %v", hello.ServerName, err)
				return nil, err
			}
			return cert, nil
		},
		NextProtos: []string{"h2", "http/1.1", "acme-tls/1"},
		MinVersion: tls.VersionTLS12,
	}

	tm.initialized = true
	logger.Info(logger.AreaSecurity, "Let's Encrypt TLS manager initialized")
	return nil
}

func (tm *TLSManager) initializeManualTLS() error {
	logger.Info(logger.AreaSecurity, "Initializing manual TLS with cert: %s, key: %s", tm.config.CertFile, tm.config.KeyFile)

	if !fileExists(tm.config.CertFile) || !fileExists(tm.config.KeyFile) {
		if !tm.config.GenerateSelfSigned {
			return fmt.Errorf("certificate or key file not found: %s, %s", tm.config.CertFile, tm.config.KeyFile)
		}
		if err := tm.GenerateSelfSignedCert(); err != nil {
			return err
		}
	}

	cert, err := tls.LoadX509KeyPair(tm.config.CertFile, tm.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	tm.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	tm.initialized = true
	logger.Info(logger.AreaSecurity, "Manual TLS manager initialized")
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetTLSConfig returns the TLS configuration for the HTTPS server, or nil
// when TLS is off.
func (tm *TLSManager) GetTLSConfig() *tls.Config {
	if !tm.initialized || !tm.config.EnableTLS {
		return nil
	}
	return tm.tlsConfig
}

// GetHTTPHandler returns the handler for the plain HTTP port when TLS is
// on: ACME challenges first, then either a redirect to HTTPS or fallback.
func (tm *TLSManager) GetHTTPHandler(fallback http.Handler) http.Handler {
	next := fallback
	if redirect := tm.GetHTTPSRedirectHandler(); redirect != nil {
		next = redirect
	}
	if tm.autocertMgr != nil {
		return tm.autocertMgr.HTTPHandler(next)
	}
	return next
}

// NeedsHTTPServer returns true if HTTP server is needed (for Let's Encrypt challenges or redirects)
func (tm *TLSManager) NeedsHTTPServer() bool {
	return tm.config.EnableTLS && (tm.config.EnableLetsEncrypt || tm.config.ForceHTTPSRedirect)
}

// GetHTTPSRedirectHandler returns a handler that redirects HTTP to HTTPS
func (tm *TLSManager) GetHTTPSRedirectHandler() http.Handler {
	if !tm.config.ForceHTTPSRedirect {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}

		httpsURL := "https://" + host
		if tm.config.HTTPSPort != "443" {
			httpsURL = fmt.Sprintf("https://%s:%s", host, tm.config.HTTPSPort)
		}
		httpsURL += r.URL.RequestURI()

		http.Redirect(w, r, httpsURL, http.StatusMovedPermanently)
	})
}

// IsEnabled returns true if TLS is enabled
func (tm *TLSManager) IsEnabled() bool {
	return tm.config.EnableTLS
}

func (tm *TLSManager) GetHTTPPort() string {
	return tm.config.HTTPPort
}

func (tm *TLSManager) GetHTTPSPort() string {
	return tm.config.HTTPSPort
}

// GetCertFiles returns the certificate and key file paths (for manual TLS)
func (tm *TLSManager) GetCertFiles() (string, string) {
	return tm.config.CertFile, tm.config.KeyFile
}

// GenerateSelfSignedCert writes a one-year ECDSA certificate for the
// configured domain (or localhost) to the cert and key files.
func (tm *TLSManager) GenerateSelfSignedCert() error {
	if tm.config.EnableLetsEncrypt {
		return fmt.Errorf("cannot generate self-signed certificate when Let's Encrypt is enabled")
	}
	logger.SecurityWarn("Generating self-signed certificate, do not use in production")

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial: %w", err)
	}

	host := tm.config.Domain
	if host == "" {
		host = "localhost"
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host, Organization: []string{"Crisis Room"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{host},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}

	if err := writePEM(tm.config.CertFile, "CERTIFICATE", der, 0644); err != nil {
		return err
	}
	return writePEM(tm.config.KeyFile, "EC PRIVATE KEY", keyDER, 0600)
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
