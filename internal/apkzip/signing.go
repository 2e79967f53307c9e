package apkzip

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	v2BlockID     = 0x7109871a
	v2SigAlgoID   = 0x0103 // RSASSA-PKCS1-v1_5 with SHA-256
	sigBlockMagic = "APK Sig Block 42"
	digestChunk   = 1 << 20
)

// SaveAndSignV2 writes the v2 signature block, then the central directory,
// then an end-of-central-directory record whose central-directory offset
// points past the signature block.
func (w *Writer) SaveAndSignV2(key *rsa.PrivateKey, cert *x509.Certificate) error {
	if key == nil || key.N == nil {
		return ErrBadKey
	}
	if cert == nil || len(cert.Raw) == 0 {
		return ErrBadCert
	}

	pubKeyDER, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKey, err)
	}

	cdBytes, err := w.encodeCentralDirectory()
	if err != nil {
		return err
	}

	sigLen := key.Size()
	blockLen := v2BlockLen(len(cert.Raw), sigLen, len(pubKeyDER))

	cdOffsetFinal := w.endOfEntries + blockLen
	if cdOffsetFinal > 0xFFFFFFFF {
		return ErrTooLarge
	}
	eocdBytes := encodeEOCD(len(w.order), len(cdBytes), uint32(cdOffsetFinal))

	digest, err := apkDigestV2(w.f, w.endOfEntries, cdBytes, eocdBytes)
	if err != nil {
		return err
	}

	signedData := buildSignedData(digest, cert.Raw)
	signedDataHash := sha256.Sum256(signedData)
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, signedDataHash[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKey, err)
	}

	block := buildV2Block(signedData, signature, pubKeyDER)
	if int64(len(block)) != blockLen {
		return fmt.Errorf("apkzip: signature block length mismatch (planned %d, built %d)", blockLen, len(block))
	}

	if _, err := w.f.Seek(w.endOfEntries, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.f.Write(block); err != nil {
		return err
	}
	if _, err := w.f.Write(cdBytes); err != nil {
		return err
	}
	if _, err := w.f.Write(eocdBytes); err != nil {
		return err
	}
	return w.f.Truncate(cdOffsetFinal + int64(len(cdBytes)) + int64(len(eocdBytes)))
}

// apkDigestV2 computes the APK digest over the entries-data, central
// directory, and end-of-central-directory regions, per the APK Signing Block v2 layout.
func apkDigestV2(f File, endOfEntries int64, cdBytes, eocdBytes []byte) ([]byte, error) {
	entriesData := io.NewSectionReader(f, 0, endOfEntries)

	var chunkDigests [][]byte
	for _, region := range []io.Reader{entriesData, bytesReader(cdBytes), bytesReader(eocdBytes)} {
		digests, err := chunkDigestsOf(region)
		if err != nil {
			return nil, err
		}
		chunkDigests = append(chunkDigests, digests...)
	}

	h := sha256.New()
	h.Write([]byte{0x5A})
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(chunkDigests)))
	h.Write(countBuf[:])
	for _, d := range chunkDigests {
		h.Write(d)
	}
	return h.Sum(nil), nil
}

func chunkDigestsOf(r io.Reader) ([][]byte, error) {
	var digests [][]byte
	buf := make([]byte, digestChunk)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h := sha256.New()
			h.Write([]byte{0xA5})
			var lenBuf [4]byte
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(n))
			h.Write(lenBuf[:])
			h.Write(buf[:n])
			digests = append(digests, h.Sum(nil))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("apkzip: digesting signing region: %w", err)
		}
	}
	return digests, nil
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b []byte
	i int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.i >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.i:])
	s.i += n
	return n, nil
}

// buildSignedData assembles digests-array || certificates-array ||
// (empty) attributes.
func buildSignedData(digest, certDER []byte) []byte {
	digestEntry := u32(v2SigAlgoID)
	digestEntry = append(digestEntry, u32(uint32(len(digest)))...)
	digestEntry = append(digestEntry, digest...)
	digestEntryFramed := lengthPrefixed(digestEntry)
	digestsArray := lengthPrefixed(digestEntryFramed)

	certEntryFramed := lengthPrefixed(certDER)
	certsArray := lengthPrefixed(certEntryFramed)

	attrsArray := u32(0)

	var out []byte
	out = append(out, digestsArray...)
	out = append(out, certsArray...)
	out = append(out, attrsArray...)
	return out
}

// buildV2Block assembles the full APK Signing Block around a single
// signer.
func buildV2Block(signedData, signature, pubKeyDER []byte) []byte {
	sigEntry := u32(v2SigAlgoID)
	sigEntry = append(sigEntry, u32(uint32(len(signature)))...)
	sigEntry = append(sigEntry, signature...)
	sigEntryFramed := lengthPrefixed(sigEntry)
	signaturesArray := lengthPrefixed(sigEntryFramed)

	var signer []byte
	signer = append(signer, lengthPrefixed(signedData)...)
	signer = append(signer, signaturesArray...) // already self-length-prefixed, no extra wrapping
	signer = append(signer, lengthPrefixed(pubKeyDER)...)

	signerFramed := lengthPrefixed(signer)
	pairValue := lengthPrefixed(signerFramed) // signers array, i.e. the pair's value

	pairSize := uint64(4 + len(pairValue)) // id + value
	var pair []byte
	pair = append(pair, u64(pairSize)...)
	pair = append(pair, u32(v2BlockID)...)
	pair = append(pair, pairValue...)

	blockSizeExclPrefix := uint64(len(pair) + 8 + 16)

	var block []byte
	block = append(block, u64(blockSizeExclPrefix)...)
	block = append(block, pair...)
	block = append(block, u64(blockSizeExclPrefix)...)
	block = append(block, []byte(sigBlockMagic)...)
	return block
}

// v2BlockLen computes the exact byte length buildV2Block will produce,
// without needing the actual digest/signature values (both are fixed-size
// for a given key/hash, so the layout is knowable up front -- the digest
// used in the signed-data region of the EOCD record depends on this length).
func v2BlockLen(certDERLen, sigLen, pubKeyDERLen int) int64 {
	const digestLen = sha256.Size

	digestEntryLen := 4 + 4 + digestLen
	digestEntryFramedLen := 4 + digestEntryLen
	digestsArrayLen := 4 + digestEntryFramedLen

	certEntryFramedLen := 4 + certDERLen
	certsArrayLen := 4 + certEntryFramedLen

	attrsArrayLen := 4

	signedDataLen := digestsArrayLen + certsArrayLen + attrsArrayLen

	sigEntryLen := 4 + 4 + sigLen
	sigEntryFramedLen := 4 + sigEntryLen
	signaturesArrayLen := 4 + sigEntryFramedLen

	signerLen := 4 + signedDataLen + signaturesArrayLen + 4 + pubKeyDERLen
	signerFramedLen := 4 + signerLen
	pairValueLen := 4 + signerFramedLen

	pairLen := 8 + 4 + pairValueLen
	return int64(8 + pairLen + 8 + 16)
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 0, 4+len(b))
	out = append(out, u32(uint32(len(b)))...)
	out = append(out, b...)
	return out
}
