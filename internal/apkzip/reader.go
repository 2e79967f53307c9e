package apkzip

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

const (
	sigLocalHeader   = 0x04034b50
	sigCentralHeader = 0x02014b50
	sigEOCD          = 0x06054b50

	localHeaderFixedLen   = 30
	centralHeaderFixedLen = 46
	eocdFixedLen          = 22

	methodStore   = 0
	methodDeflate = 8
)

// MethodStore and MethodDeflate are the compression methods WriteFile and
// OpenWriter accept; exported for callers outside this package (e.g.
// internal/patching) that build entries of both kinds.
const (
	MethodStore   = methodStore
	MethodDeflate = methodDeflate
)

// Entry is one central-directory record.
type Entry struct {
	Name              string
	Method            uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	LocalHeaderOffset uint32
}

// Reader is a random-access ZIP reader over entries ordered exactly as the
// central directory lists them.
type Reader struct {
	r       io.ReaderAt
	size    int64
	entries map[string]*Entry
	Order   []string

	// EndOfEntries is the offset one byte past the last entry's content.
	EndOfEntries int64
}

// OpenReader scans backward for the EOCD record, reads the central
// directory, and computes EndOfEntries by re-reading the local header of
// whichever entry's content starts last.
func OpenReader(r io.ReaderAt, size int64) (*Reader, error) {
	eocdOff, err := findEOCD(r, size)
	if err != nil {
		return nil, err
	}

	eocd := make([]byte, eocdFixedLen)
	if _, err := r.ReadAt(eocd, eocdOff); err != nil {
		return nil, fmt.Errorf("%w: reading eocd: %v", ErrCorruptHeader, err)
	}

	diskNum := binary.LittleEndian.Uint16(eocd[4:6])
	diskWithCD := binary.LittleEndian.Uint16(eocd[6:8])
	entriesOnDisk := binary.LittleEndian.Uint16(eocd[8:10])
	entriesTotal := binary.LittleEndian.Uint16(eocd[10:12])
	cdSize := binary.LittleEndian.Uint32(eocd[12:16])
	cdOffset := binary.LittleEndian.Uint32(eocd[16:20])
	commentLen := binary.LittleEndian.Uint16(eocd[20:22])

	if diskNum != 0 || diskWithCD != 0 || entriesOnDisk != entriesTotal {
		return nil, ErrMultidisk
	}
	if int64(commentLen) != size-eocdOff-eocdFixedLen {
		return nil, fmt.Errorf("%w: eocd comment length mismatch", ErrCorruptHeader)
	}

	cd := make([]byte, cdSize)
	if _, err := r.ReadAt(cd, int64(cdOffset)); err != nil {
		return nil, fmt.Errorf("%w: reading central directory: %v", ErrCorruptHeader, err)
	}

	rdr := &Reader{r: r, size: size, entries: make(map[string]*Entry)}

	pos := 0
	var lastOffset int64 = -1
	var lastEntry *Entry
	for i := 0; i < int(entriesTotal); i++ {
		if pos+centralHeaderFixedLen > len(cd) {
			return nil, fmt.Errorf("%w: truncated central directory record", ErrCorruptHeader)
		}
		rec := cd[pos:]
		if binary.LittleEndian.Uint32(rec[0:4]) != sigCentralHeader {
			return nil, fmt.Errorf("%w: bad central directory signature", ErrCorruptHeader)
		}

		method := binary.LittleEndian.Uint16(rec[10:12])
		crc := binary.LittleEndian.Uint32(rec[16:20])
		compSize := binary.LittleEndian.Uint32(rec[20:24])
		uncompSize := binary.LittleEndian.Uint32(rec[24:28])
		nameLen := binary.LittleEndian.Uint16(rec[28:30])
		extraLen := binary.LittleEndian.Uint16(rec[30:32])
		commentLen := binary.LittleEndian.Uint16(rec[32:34])
		diskStart := binary.LittleEndian.Uint16(rec[34:36])
		localOffset := binary.LittleEndian.Uint32(rec[42:46])

		if diskStart != 0 {
			return nil, ErrMultidisk
		}

		nameStart := centralHeaderFixedLen
		nameEnd := nameStart + int(nameLen)
		if nameEnd > len(rec) {
			return nil, fmt.Errorf("%w: truncated central directory filename", ErrCorruptHeader)
		}
		name := string(rec[nameStart:nameEnd])

		entry := &Entry{
			Name:              name,
			Method:            method,
			CRC32:             crc,
			CompressedSize:    compSize,
			UncompressedSize:  uncompSize,
			LocalHeaderOffset: localOffset,
		}
		rdr.entries[name] = entry
		rdr.Order = append(rdr.Order, name)

		if int64(localOffset) > lastOffset {
			lastOffset = int64(localOffset)
			lastEntry = entry
		}

		pos = nameEnd + int(extraLen) + int(commentLen)
	}

	if lastEntry == nil {
		rdr.EndOfEntries = int64(cdOffset)
		return rdr, nil
	}

	contentStart, err := localContentOffset(r, int64(lastEntry.LocalHeaderOffset))
	if err != nil {
		return nil, err
	}
	rdr.EndOfEntries = contentStart + int64(lastEntry.CompressedSize)

	return rdr, nil
}

func findEOCD(r io.ReaderAt, size int64) (int64, error) {
	maxScan := int64(eocdFixedLen + 65535)
	if maxScan > size {
		maxScan = size
	}

	buf := make([]byte, maxScan)
	if _, err := r.ReadAt(buf, size-maxScan); err != nil && err != io.EOF {
		return 0, fmt.Errorf("%w: scanning for eocd: %v", ErrCorruptHeader, err)
	}

	for i := len(buf) - eocdFixedLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:i+4]) == sigEOCD {
			return size - maxScan + int64(i), nil
		}
	}
	return 0, ErrNoEOCD
}

func localContentOffset(r io.ReaderAt, localOffset int64) (int64, error) {
	hdr := make([]byte, localHeaderFixedLen)
	if _, err := r.ReadAt(hdr, localOffset); err != nil {
		return 0, fmt.Errorf("%w: reading local header: %v", ErrCorruptHeader, err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != sigLocalHeader {
		return 0, fmt.Errorf("%w: bad local header signature", ErrCorruptHeader)
	}
	nameLen := binary.LittleEndian.Uint16(hdr[26:28])
	extraLen := binary.LittleEndian.Uint16(hdr[28:30])
	return localOffset + localHeaderFixedLen + int64(nameLen) + int64(extraLen), nil
}

// Entries returns the archive's entries in central-directory order.
func (rdr *Reader) Entries() []*Entry {
	out := make([]*Entry, len(rdr.Order))
	for i, name := range rdr.Order {
		out[i] = rdr.entries[name]
	}
	return out
}

// Entry looks up an entry by path; ok is false if it does not exist.
func (rdr *Reader) Entry(name string) (*Entry, bool) {
	e, ok := rdr.entries[name]
	return e, ok
}

// Open returns a reader over the entry's decompressed content.
func (rdr *Reader) Open(name string) (io.ReadCloser, error) {
	e, ok := rdr.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: no such entry %q", ErrCorruptHeader, name)
	}

	contentStart, err := localContentOffset(rdr.r, int64(e.LocalHeaderOffset))
	if err != nil {
		return nil, err
	}
	section := io.NewSectionReader(rdr.r, contentStart, int64(e.CompressedSize))

	switch e.Method {
	case methodStore:
		return io.NopCloser(section), nil
	case methodDeflate:
		return flate.NewReader(section), nil
	default:
		return nil, fmt.Errorf("%w: method %d on entry %q", ErrUnsupportedMethod, e.Method, name)
	}
}
