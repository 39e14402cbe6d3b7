package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/torquelog/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	c, err := Setup(config.TLSConfig{})
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	c, err := Setup(config.TLSConfig{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		AutoGen: config.AutoGenTLS{
			CommonName:  "torquelog.test",
			DNSNames:    []string{"torquelog.test"},
			IPAddresses: []string{"10.0.0.1", "bogus"},
			ValidDays:   2,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
	require.Equal(t, uint16(tls.VersionTLS13), c.MaxVersion)

	cert, err := c.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "torquelog.test", leaf.Subject.CommonName)
	require.Equal(t, []string{"torquelog"}, leaf.Subject.Organization)
	require.Equal(t, []string{"torquelog.test"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)

	st, err := os.Stat(filepath.Join(dir, keyName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	// A second setup reuses the existing pair.
	before, err := os.ReadFile(filepath.Join(dir, crtName))
	require.NoError(t, err)
	_, err = Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, crtName))
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSetupCertFiles(t *testing.T) {
	dir := t.TempDir()
	req := CertRequest{
		CommonName:   "api",
		Organization: "fleet",
		CertPath:     filepath.Join(dir, "api.pem"),
		KeyPath:      filepath.Join(dir, "api-key.pem"),
		NotAfter:     time.Now().Add(time.Hour),
	}
	require.NoError(t, GenerateSelfSigned(req))

	c, err := Setup(config.TLSConfig{
		Enabled:    true,
		CertFile:   req.CertPath,
		KeyFile:    req.KeyPath,
		MinVersion: "1.3",
	})
	require.NoError(t, err)
	require.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
	_, err = c.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
}

func TestSetupErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Setup(config.TLSConfig{Enabled: true})
	require.ErrorContains(t, err, "neither cert_file nor dir")

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: dir})
	require.ErrorContains(t, err, "load certificate")

	_, err = Setup(config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.3", MaxVersion: "1.2"})
	require.ErrorContains(t, err, "above max_version")
}

func TestParseVersion(t *testing.T) {
	for in, want := range map[string]uint16{
		"1.2":    tls.VersionTLS12,
		"TLS1.2": tls.VersionTLS12,
		"tls1.3": tls.VersionTLS13,
	} {
		v, ok := parseVersion(in)
		require.True(t, ok, in)
		require.Equal(t, want, v, in)
	}
	for _, in := range []string{"", "default", "1.1"} {
		_, ok := parseVersion(in)
		require.False(t, ok, in)
	}
}
