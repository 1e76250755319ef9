package mtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type certFiles struct {
	ca, cert, key string
}

// writeCerts creates a CA and a leaf certificate signed by it
func writeCerts(t *testing.T) certFiles {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "intelmon test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caTmpl, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	require.NoError(t, err)

	files := certFiles{
		ca:   filepath.Join(dir, "ca.pem"),
		cert: filepath.Join(dir, "cert.pem"),
		key:  filepath.Join(dir, "key.pem"),
	}
	writePEM(t, files.ca, "CERTIFICATE", caDER)
	writePEM(t, files.cert, "CERTIFICATE", leafDER)
	writePEM(t, files.key, "EC PRIVATE KEY", keyDER)
	return files
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestLoadClientTLSConfig_Defaults(t *testing.T) {
	cfg, err := LoadClientTLSConfig("", "", "", "")
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
}

func TestLoadClientTLSConfig_Full(t *testing.T) {
	files := writeCerts(t)

	cfg, err := LoadClientTLSConfig(files.ca, files.cert, files.key, "intel.example")
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, "intel.example", cfg.ServerName)
}

func TestLoadClientTLSConfig_Errors(t *testing.T) {
	files := writeCerts(t)

	_, err := LoadClientTLSConfig(files.ca, files.cert, "", "")
	assert.Error(t, err)

	_, err = LoadClientTLSConfig(filepath.Join(t.TempDir(), "missing.pem"), "", "", "")
	assert.Error(t, err)

	// A key file is not a certificate.
	_, err = LoadClientTLSConfig(files.key, "", "", "")
	assert.Error(t, err)
}

func TestLoadServerTLSConfig(t *testing.T) {
	files := writeCerts(t)

	tests := []struct {
		mode string
		want tls.ClientAuthType
	}{
		{mode: ClientAuthRequire, want: tls.VerifyClientCertIfGiven},
		{mode: ClientAuthRequest, want: tls.VerifyClientCertIfGiven},
		{mode: ClientAuthNone, want: tls.NoClientCert},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg, err := LoadServerTLSConfig(files.ca, files.cert, files.key, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.ClientAuth)
			assert.Len(t, cfg.Certificates, 1)
		})
	}

	_, err := LoadServerTLSConfig(files.ca, files.cert, files.key, "sometimes")
	assert.Error(t, err)
}
