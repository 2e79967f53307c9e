// Package apkzip implements a random-access ZIP reader/writer tuned to what
// Android's own loader accepts, plus APK Signature Scheme v2 signing, per
// Grounded on zipreader.go for the read path
// (ZipReader/ZipReaderFile, backward EOCD scan, pooled flate.Reader); the
// writer and signer are new.
package apkzip

import "errors"

var (
	// ErrNoEOCD is returned when no end-of-central-directory record is found
	// within the last 64KiB+22 bytes of the stream.
	ErrNoEOCD = errors.New("apkzip: end of central directory record not found")

	// ErrMultidisk is returned for any archive spanning more than one disk.
	ErrMultidisk = errors.New("apkzip: multi-disk archives are not supported")

	// ErrCorruptHeader covers any structurally invalid local/central header.
	ErrCorruptHeader = errors.New("apkzip: corrupt zip header")

	// ErrUnsupportedMethod is returned for any compression method other than
	// STORE (0) or raw DEFLATE (8).
	ErrUnsupportedMethod = errors.New("apkzip: unsupported compression method")

	// ErrTooLarge is returned when a 32-bit size or offset field would
	// overflow.
	ErrTooLarge = errors.New("apkzip: field would overflow 32 bits")

	// ErrBadKey is returned for a signing key unusable for RSASSA-PKCS1-v1_5.
	ErrBadKey = errors.New("apkzip: bad signing key")

	// ErrBadCert is returned for a certificate that cannot be DER-encoded.
	ErrBadCert = errors.New("apkzip: bad certificate")
)
