package apkzip

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

const alignmentExtraID = 0xD935

// File is the subset of *os.File the writer needs: seekable random-access
// read/write plus truncation, so save() can discard anything past
// end-of-entries before laying down a fresh central directory.
type File interface {
	io.ReaderAt
	io.WriteSeeker
	Truncate(size int64) error
}

type centralRecord struct {
	name              string
	method            uint16
	crc32             uint32
	compressedSize    uint32
	uncompressedSize  uint32
	localHeaderOffset uint32
}

// Writer owns a File, its mutable central directory, and the
// end-of-entries offset.
type Writer struct {
	f            File
	central      map[string]*centralRecord
	order        []string
	endOfEntries int64
	alignment    uint16
}

// NewWriter wraps an empty or freshly truncated File. alignment of 0 or 1
// disables STORE padding; APKs bundling native libraries want 4 (or the
// library page size, e.g. 4096/16384).
func NewWriter(f File, alignment uint16) *Writer {
	if alignment == 0 {
		alignment = 1
	}
	return &Writer{f: f, central: make(map[string]*centralRecord), alignment: alignment}
}

// WriteFile streams r's content into a new entry named name, using method
// (STORE or DEFLATE), replacing any prior entry with that name.
func (w *Writer) WriteFile(name string, r io.Reader, method uint16) error {
	if method != methodStore && method != methodDeflate {
		return fmt.Errorf("%w: %d", ErrUnsupportedMethod, method)
	}
	if len(name) > 0xFFFF {
		return ErrTooLarge
	}

	localOffset := w.endOfEntries
	if localOffset > 0xFFFFFFFF {
		return ErrTooLarge
	}

	var extra []byte
	if method == methodStore && w.alignment > 1 {
		extra = alignmentExtra(localOffset, int64(len(name)), w.alignment)
	}

	if _, err := w.f.Seek(localOffset, io.SeekStart); err != nil {
		return err
	}
	if err := writeLocalHeader(w.f, name, method, extra, 0, 0, 0); err != nil {
		return err
	}

	contentStart := localOffset + localHeaderFixedLen + int64(len(name)) + int64(len(extra))

	crc := newCRC32()
	var compressedSize, uncompressedSize int64
	switch method {
	case methodStore:
		n, err := io.Copy(io.MultiWriter(w.f, crc), r)
		if err != nil {
			return fmt.Errorf("apkzip: writing %q: %w", name, err)
		}
		compressedSize, uncompressedSize = n, n

	case methodDeflate:
		counter := &countingWriter{w: w.f}
		fw, err := flate.NewWriter(counter, flate.DefaultCompression)
		if err != nil {
			return fmt.Errorf("apkzip: creating deflate writer: %w", err)
		}
		n, err := io.Copy(io.MultiWriter(fw, crc), r)
		if err != nil {
			return fmt.Errorf("apkzip: writing %q: %w", name, err)
		}
		if err := fw.Close(); err != nil {
			return fmt.Errorf("apkzip: closing deflate writer: %w", err)
		}
		compressedSize, uncompressedSize = counter.n, n
	}

	if compressedSize > 0xFFFFFFFF || uncompressedSize > 0xFFFFFFFF {
		return ErrTooLarge
	}

	if err := backpatchLocalHeader(w.f, localOffset, crc.Sum32(), uint32(compressedSize), uint32(uncompressedSize)); err != nil {
		return err
	}

	w.endOfEntries = contentStart + compressedSize

	if _, exists := w.central[name]; !exists {
		w.order = append(w.order, name)
	}
	w.central[name] = &centralRecord{
		name:              name,
		method:            method,
		crc32:             crc.Sum32(),
		compressedSize:    uint32(compressedSize),
		uncompressedSize:  uint32(uncompressedSize),
		localHeaderOffset: uint32(localOffset),
	}
	return nil
}

// OpenWriter returns a Writer over f that adopts every entry already
// described by r, leaving their bytes untouched on disk, and continues
// appending new or replacement entries after r.EndOfEntries. This is the
// "naive" incremental-update pattern the patching pipeline relies on:
// replacing one entry (say AndroidManifest.xml) costs one new copy appended
// at the end, not a full archive rewrite.
func OpenWriter(f File, r *Reader, alignment uint16) *Writer {
	w := NewWriter(f, alignment)
	for _, name := range r.Order {
		e, _ := r.Entry(name)
		w.order = append(w.order, name)
		w.central[name] = &centralRecord{
			name:              e.Name,
			method:            e.Method,
			crc32:             e.CRC32,
			compressedSize:    e.CompressedSize,
			uncompressedSize:  e.UncompressedSize,
			localHeaderOffset: e.LocalHeaderOffset,
		}
	}
	w.endOfEntries = r.EndOfEntries
	return w
}

// DeleteFile removes name's central-directory record; its bytes remain in
// the file, since Save rewrites only the central directory and the
// end-of-central-directory record.
func (w *Writer) DeleteFile(name string) {
	if _, ok := w.central[name]; !ok {
		return
	}
	delete(w.central, name)
	for i, n := range w.order {
		if n == name {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Save truncates at end-of-entries, writes the central directory, then the
// end-of-central-directory record.
func (w *Writer) Save() error {
	if _, err := w.f.Seek(w.endOfEntries, io.SeekStart); err != nil {
		return err
	}
	cdBytes, err := w.encodeCentralDirectory()
	if err != nil {
		return err
	}
	if _, err := w.f.Write(cdBytes); err != nil {
		return err
	}

	eocd := encodeEOCD(len(w.order), len(cdBytes), uint32(w.endOfEntries))
	if _, err := w.f.Write(eocd); err != nil {
		return err
	}
	return w.f.Truncate(w.endOfEntries + int64(len(cdBytes)) + int64(len(eocd)))
}

func (w *Writer) encodeCentralDirectory() ([]byte, error) {
	var buf []byte
	for _, name := range w.order {
		rec := w.central[name]
		enc, err := encodeCentralRecord(rec)
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

func alignmentExtra(localOffset, nameLen int64, alignment uint16) []byte {
	fixedPart := localOffset + localHeaderFixedLen + nameLen + 4 /*extra id+size*/ + 2 /*alignment value*/
	pad := (int64(alignment) - fixedPart%int64(alignment)) % int64(alignment)

	body := make([]byte, 2+pad)
	binary.LittleEndian.PutUint16(body[:2], alignment)

	extra := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint16(extra[0:2], alignmentExtraID)
	binary.LittleEndian.PutUint16(extra[2:4], uint16(len(body)))
	copy(extra[4:], body)
	return extra
}

func writeLocalHeader(w io.Writer, name string, method uint16, extra []byte, crc, compSize, uncompSize uint32) error {
	hdr := make([]byte, localHeaderFixedLen)
	binary.LittleEndian.PutUint32(hdr[0:4], sigLocalHeader)
	binary.LittleEndian.PutUint16(hdr[4:6], 20) // version needed to extract
	binary.LittleEndian.PutUint16(hdr[6:8], 0)  // flags
	binary.LittleEndian.PutUint16(hdr[8:10], method)
	binary.LittleEndian.PutUint16(hdr[10:12], 0) // mod time
	binary.LittleEndian.PutUint16(hdr[12:14], 0) // mod date
	binary.LittleEndian.PutUint32(hdr[14:18], crc)
	binary.LittleEndian.PutUint32(hdr[18:22], compSize)
	binary.LittleEndian.PutUint32(hdr[22:26], uncompSize)
	binary.LittleEndian.PutUint16(hdr[26:28], uint16(len(name)))
	binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(extra)))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	_, err := w.Write(extra)
	return err
}

func backpatchLocalHeader(f File, localOffset int64, crc, compSize, uncompSize uint32) error {
	patch := make([]byte, 12)
	binary.LittleEndian.PutUint32(patch[0:4], crc)
	binary.LittleEndian.PutUint32(patch[4:8], compSize)
	binary.LittleEndian.PutUint32(patch[8:12], uncompSize)

	if _, err := f.Seek(localOffset+14, io.SeekStart); err != nil {
		return err
	}
	_, err := f.Write(patch)
	return err
}

func encodeCentralRecord(rec *centralRecord) ([]byte, error) {
	if len(rec.name) > 0xFFFF {
		return nil, ErrTooLarge
	}

	hdr := make([]byte, centralHeaderFixedLen)
	binary.LittleEndian.PutUint32(hdr[0:4], sigCentralHeader)
	binary.LittleEndian.PutUint16(hdr[4:6], 20)  // version made by
	binary.LittleEndian.PutUint16(hdr[6:8], 20)  // version needed
	binary.LittleEndian.PutUint16(hdr[8:10], 0)  // flags
	binary.LittleEndian.PutUint16(hdr[10:12], rec.method)
	binary.LittleEndian.PutUint16(hdr[12:14], 0) // mod time
	binary.LittleEndian.PutUint16(hdr[14:16], 0) // mod date
	binary.LittleEndian.PutUint32(hdr[16:20], rec.crc32)
	binary.LittleEndian.PutUint32(hdr[20:24], rec.compressedSize)
	binary.LittleEndian.PutUint32(hdr[24:28], rec.uncompressedSize)
	binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(rec.name)))
	binary.LittleEndian.PutUint16(hdr[30:32], 0) // extra len
	binary.LittleEndian.PutUint16(hdr[32:34], 0) // comment len
	binary.LittleEndian.PutUint16(hdr[34:36], 0) // disk number start
	binary.LittleEndian.PutUint16(hdr[36:38], 0) // internal attrs
	binary.LittleEndian.PutUint32(hdr[38:42], 0) // external attrs
	binary.LittleEndian.PutUint32(hdr[42:46], rec.localHeaderOffset)

	return append(hdr, []byte(rec.name)...), nil
}

func encodeEOCD(entryCount, cdSize int, cdOffset uint32) []byte {
	buf := make([]byte, eocdFixedLen)
	binary.LittleEndian.PutUint32(buf[0:4], sigEOCD)
	binary.LittleEndian.PutUint16(buf[4:6], 0)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(entryCount))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(entryCount))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(cdSize))
	binary.LittleEndian.PutUint32(buf[16:20], cdOffset)
	binary.LittleEndian.PutUint16(buf[20:22], 0) // comment length
	return buf
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
