package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genTestCert(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "modkit-signing-test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(30, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func encodePEM(key *rsa.PrivateKey, cert *x509.Certificate, keyFirst bool) []byte {
	keyBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	certBlock := &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}

	var out []byte
	if keyFirst {
		out = append(out, pem.EncodeToMemory(keyBlock)...)
		out = append(out, pem.EncodeToMemory(certBlock)...)
	} else {
		out = append(out, pem.EncodeToMemory(certBlock)...)
		out = append(out, pem.EncodeToMemory(keyBlock)...)
	}
	return out
}

func TestParsePEM_KeyThenCert(t *testing.T) {
	wantKey, wantCert := genTestCert(t)
	data := encodePEM(wantKey, wantCert, true)

	key, cert, err := ParsePEM(data)
	require.NoError(t, err)
	assert.True(t, wantKey.Equal(key))
	assert.True(t, wantCert.Equal(cert))
}

func TestParsePEM_CertThenKey(t *testing.T) {
	wantKey, wantCert := genTestCert(t)
	data := encodePEM(wantKey, wantCert, false)

	key, cert, err := ParsePEM(data)
	require.NoError(t, err)
	assert.True(t, wantKey.Equal(key))
	assert.True(t, wantCert.Equal(cert))
}

func TestParsePEM_MissingCertErrors(t *testing.T) {
	key, _ := genTestCert(t)
	keyBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}

	_, _, err := ParsePEM(pem.EncodeToMemory(keyBlock))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate")
}

func TestParsePEM_MissingKeyErrors(t *testing.T) {
	_, cert := genTestCert(t)
	certBlock := &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}

	_, _, err := ParsePEM(pem.EncodeToMemory(certBlock))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}

func TestParsePEM_EmptyDataErrors(t *testing.T) {
	_, _, err := ParsePEM(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key and certificate")
}

func TestLoadPEM_ReadsFileAndParses(t *testing.T) {
	wantKey, wantCert := genTestCert(t)
	path := t.TempDir() + "/combined.pem"
	require.NoError(t, os.WriteFile(path, encodePEM(wantKey, wantCert, true), 0o644))

	key, cert, err := LoadPEM(path)
	require.NoError(t, err)
	assert.True(t, wantKey.Equal(key))
	assert.True(t, wantCert.Equal(cert))
}
