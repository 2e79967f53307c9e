package apkzip

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFile is an in-memory apkzip.File, grounded on zipreader.go's
// readAtWrapper: a growable buffer addressable by both
// stream position and absolute offset.
type memFile struct {
	buf []byte
	pos int64
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func (m *memFile) Truncate(size int64) error {
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func TestWriter_ReadWriteRoundTrip(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 1)

	require.NoError(t, w.WriteFile("AndroidManifest.xml", strings.NewReader("stored content"), methodStore))
	require.NoError(t, w.WriteFile("classes.dex", strings.NewReader(strings.Repeat("deflate me ", 200)), methodDeflate))
	require.NoError(t, w.Save())

	r, err := OpenReader(f, int64(len(f.buf)))
	require.NoError(t, err)
	assert.Equal(t, []string{"AndroidManifest.xml", "classes.dex"}, r.Order)

	rc, err := r.Open("AndroidManifest.xml")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "stored content", string(data))

	rc2, err := r.Open("classes.dex")
	require.NoError(t, err)
	data2, err := io.ReadAll(rc2)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("deflate me ", 200), string(data2))
}

// Alignment invariant: after writing a STORE entry with
// alignment k, the content's file offset is a multiple of k.
func TestWriter_Alignment(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 4096)

	require.NoError(t, w.WriteFile("lib/arm64-v8a/libgame.so", strings.NewReader("native lib bytes"), methodStore))
	require.NoError(t, w.Save())

	r, err := OpenReader(f, int64(len(f.buf)))
	require.NoError(t, err)
	e, ok := r.Entry("lib/arm64-v8a/libgame.so")
	require.True(t, ok)

	contentStart, err := localContentOffset(f, int64(e.LocalHeaderOffset))
	require.NoError(t, err)
	assert.Equal(t, int64(0), contentStart%4096)
}

func TestWriter_DeleteFile(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 1)
	require.NoError(t, w.WriteFile("a.txt", strings.NewReader("a"), methodStore))
	require.NoError(t, w.WriteFile("b.txt", strings.NewReader("b"), methodStore))
	w.DeleteFile("a.txt")
	require.NoError(t, w.Save())

	r, err := OpenReader(f, int64(len(f.buf)))
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, r.Order)
}

func TestOpenReader_RejectsBadMethod(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 1)
	require.NoError(t, w.WriteFile("a.txt", strings.NewReader("a"), methodStore))
	require.NoError(t, w.Save())

	// Corrupt the method field of the central directory record (the one
	// OpenReader actually trusts) to an unsupported value.
	cdSig := []byte{0x50, 0x4b, 0x01, 0x02}
	idx := bytes.Index(f.buf, cdSig)
	require.GreaterOrEqual(t, idx, 0)
	binary.LittleEndian.PutUint16(f.buf[idx+10:idx+12], 99)

	r, err := OpenReader(f, int64(len(f.buf)))
	require.NoError(t, err)
	_, err = r.Open("a.txt")
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func genTestCert(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "modkit-test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(30, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

// APK signature: the v2 block has the documented id/magic, and
// its declared size fields are internally consistent (the layout a real v2
// verifier backward-scans for).
func TestWriter_SaveAndSignV2_BlockStructure(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f, 1)
	require.NoError(t, w.WriteFile("AndroidManifest.xml", strings.NewReader("<manifest/>"), methodStore))

	key, cert := genTestCert(t)
	require.NoError(t, w.SaveAndSignV2(key, cert))

	blockStart := w.endOfEntries
	sizeField := binary.LittleEndian.Uint64(f.buf[blockStart : blockStart+8])
	footer := f.buf[blockStart+8+int64(sizeField)-16 : blockStart+8+int64(sizeField)]
	assert.Equal(t, sigBlockMagic, string(footer))

	repeatedSize := binary.LittleEndian.Uint64(f.buf[blockStart+8+int64(sizeField)-24 : blockStart+8+int64(sizeField)-16])
	assert.Equal(t, sizeField, repeatedSize)

	id := binary.LittleEndian.Uint32(f.buf[blockStart+16 : blockStart+20])
	assert.Equal(t, uint32(v2BlockID), id)

	r, err := OpenReader(f, int64(len(f.buf)))
	require.NoError(t, err)
	assert.Equal(t, []string{"AndroidManifest.xml"}, r.Order)
}

func TestV2BlockLen_MatchesBuiltBlock(t *testing.T) {
	_, cert := genTestCert(t)
	digest := bytes.Repeat([]byte{0x42}, 32)
	signedData := buildSignedData(digest, cert.Raw)
	sig := bytes.Repeat([]byte{0x01}, 256) // 2048-bit RSA signature length
	pubKey := bytes.Repeat([]byte{0x02}, 270)

	block := buildV2Block(signedData, sig, pubKey)
	assert.EqualValues(t, len(block), v2BlockLen(len(cert.Raw), len(sig), len(pubKey)))
}

// TestBuildV2Block_SignerFieldsDecodeCorrectly walks the signer sub-structure
// field by field (signed_data_len, signed_data, signatures_len, signature_len,
// alg_id, sig_bytes_len, sig_bytes, public_key_len, public_key_der) rather
// than only checking the outer block's size/magic boundaries, so a spurious
// or missing length field inside the signer would fail this test even though
// the outer APK Signing Block framing stays self-consistent.
func TestBuildV2Block_SignerFieldsDecodeCorrectly(t *testing.T) {
	_, cert := genTestCert(t)
	digest := bytes.Repeat([]byte{0x42}, 32)
	signedData := buildSignedData(digest, cert.Raw)
	sig := bytes.Repeat([]byte{0x01}, 256)
	pubKey := bytes.Repeat([]byte{0x02}, 270)

	block := buildV2Block(signedData, sig, pubKey)

	blockSize := binary.LittleEndian.Uint64(block[0:8])
	pair := block[8 : 8+blockSize]

	pairSize := binary.LittleEndian.Uint64(pair[0:8])
	require.EqualValues(t, len(pair)-8, pairSize)
	id := binary.LittleEndian.Uint32(pair[8:12])
	require.Equal(t, uint32(v2BlockID), id)
	pairValue := pair[12:]

	signersArrayLen := binary.LittleEndian.Uint32(pairValue[0:4])
	signersArray := pairValue[4 : 4+signersArrayLen]

	signerLen := binary.LittleEndian.Uint32(signersArray[0:4])
	signer := signersArray[4 : 4+signerLen]

	off := 0
	signedDataLen := binary.LittleEndian.Uint32(signer[off : off+4])
	off += 4
	require.EqualValues(t, len(signedData), signedDataLen)
	gotSignedData := signer[off : off+int(signedDataLen)]
	assert.Equal(t, signedData, gotSignedData)
	off += int(signedDataLen)

	signaturesLen := binary.LittleEndian.Uint32(signer[off : off+4])
	off += 4
	signaturesField := signer[off : off+int(signaturesLen)]
	off += int(signaturesLen)

	sigEntryLen := binary.LittleEndian.Uint32(signaturesField[0:4])
	sigEntry := signaturesField[4 : 4+sigEntryLen]
	algoID := binary.LittleEndian.Uint32(sigEntry[0:4])
	assert.Equal(t, uint32(v2SigAlgoID), algoID)
	sigBytesLen := binary.LittleEndian.Uint32(sigEntry[4:8])
	require.EqualValues(t, len(sig), sigBytesLen)
	assert.Equal(t, sig, sigEntry[8:8+sigBytesLen])

	pubKeyLen := binary.LittleEndian.Uint32(signer[off : off+4])
	off += 4
	require.EqualValues(t, len(pubKey), pubKeyLen)
	assert.Equal(t, pubKey, signer[off:off+int(pubKeyLen)])
	off += int(pubKeyLen)

	assert.Equal(t, len(signer), off, "signer structure should be fully consumed with no extra/missing bytes")
}
