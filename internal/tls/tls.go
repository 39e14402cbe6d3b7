// Package tls builds the API server's *tls.Config from configuration,
// optionally generating a self-signed pair on first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/torquelog/internal/config"
)

const (
	crtName = "tls.crt"
	keyName = "tls.key"

	defaultValidDays = 365
)

// parseVersion maps a configured version to its constant; ok is false for
// empty or "default".
func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func versions(cfg config.TLSConfig) (minVer, maxVer uint16, err error) {
	minVer, maxVer = tls.VersionTLS12, tls.VersionTLS13
	if v, ok := parseVersion(cfg.MinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(cfg.MaxVersion); ok {
		maxVer = v
	}
	if minVer > maxVer {
		return 0, 0, fmt.Errorf("tls min_version %s above max_version %s", cfg.MinVersion, cfg.MaxVersion)
	}
	return minVer, maxVer, nil
}

// Setup returns nil when TLS is disabled. Explicit cert/key files win over
// Dir; in Dir mode the pair is tls.crt/tls.key.
func Setup(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := versions(cfg)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" {
		if cfg.Dir == "" {
			return nil, errors.New("tls enabled but neither cert_file nor dir is set")
		}
		certPath = filepath.Join(cfg.Dir, crtName)
		keyPath = filepath.Join(cfg.Dir, keyName)
		if cfg.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(cfg.AutoGen, cfg.Dir); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}

	// Fail at startup rather than on the first handshake.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: reloading(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// reloading reads the pair on every handshake so rotated files are picked up
// without a restart.
func reloading(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(ag config.AutoGenTLS, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	days := ag.ValidDays
	if days <= 0 {
		days = defaultValidDays
	}
	return GenerateSelfSigned(CertRequest{
		CommonName:   or(ag.CommonName, "localhost"),
		Organization: or(ag.Organization, "torquelog"),
		DNSNames:     orSlice(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  orSlice(ag.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(dir, crtName),
		KeyPath:      filepath.Join(dir, keyName),
	})
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orSlice(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
