// Package signing loads the RSA key and certificate patchApkInPlace signs
// the patched APK with. Grounded on patching.rs's embedded debug_cert.pem,
// generalized to also accept a user-supplied PKCS12 keystore -- the format
// most Android signing keys are actually distributed in.
package signing

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// LoadPEM parses a concatenated PEM file containing one RSA private key and
// one certificate, in either order, mirroring load_cert_and_priv_key's
// embedded debug_cert.pem.
func LoadPEM(path string) (*rsa.PrivateKey, *x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("signing: reading %s: %w", path, err)
	}
	return ParsePEM(data)
}

// ParsePEM is LoadPEM's body, split out so PEM data already held in memory
// can be parsed without touching the filesystem.
func ParsePEM(data []byte) (*rsa.PrivateKey, *x509.Certificate, error) {
	var (
		key  *rsa.PrivateKey
		cert *x509.Certificate
	)

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("signing: parsing certificate: %w", err)
			}
			cert = c
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("signing: parsing pkcs1 key: %w", err)
			}
			key = k
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("signing: parsing pkcs8 key: %w", err)
			}
			rsaKey, ok := k.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, fmt.Errorf("signing: pkcs8 key was not RSA")
			}
			key = rsaKey
		}
	}

	if key == nil || cert == nil {
		return nil, nil, fmt.Errorf("signing: PEM data missing a %s", missingPart(key, cert))
	}
	return key, cert, nil
}

func missingPart(key *rsa.PrivateKey, cert *x509.Certificate) string {
	if key == nil && cert == nil {
		return "private key and certificate"
	}
	if key == nil {
		return "private key"
	}
	return "certificate"
}

// LoadKeystore decodes a PKCS12 (.p12/.keystore) file -- the format most
// release signing keys are actually distributed in -- returning its RSA
// private key and leaf certificate.
func LoadKeystore(path, password string) (*rsa.PrivateKey, *x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("signing: reading %s: %w", path, err)
	}

	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, nil, fmt.Errorf("signing: decoding pkcs12 keystore: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("signing: keystore key was not RSA")
	}
	return rsaKey, cert, nil
}
