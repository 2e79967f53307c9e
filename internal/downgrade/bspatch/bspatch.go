// Package bspatch applies patches in Colin Percival's public bsdiff format
// (the "BSDIFF40" container). No binding for this format exists anywhere in
// the example pack, so the codec is hand-rolled here; only patch application
// is implemented, matching what internal/downgrade actually needs.
package bspatch

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrBadMagic is returned when a patch doesn't start with the BSDIFF40 header.
	ErrBadMagic = errors.New("bspatch: not a BSDIFF40 patch")
	// ErrTruncated is returned when a patch's control stream runs past the
	// declared new file size, or a block is shorter than its header claims.
	ErrTruncated = errors.New("bspatch: patch is truncated or corrupt")
)

const magic = "BSDIFF40"
const headerLen = 32

// Patch is a parsed, ready-to-apply bsdiff patch.
type Patch struct {
	newSize int64
	ctrl    io.Reader
	diff    io.Reader
	extra   io.Reader
}

// New parses a bsdiff patch file's header and three bzip2-compressed
// sections (control tuples, diff bytes, extra bytes).
func New(patch []byte) (*Patch, error) {
	if len(patch) < headerLen || string(patch[:8]) != magic {
		return nil, ErrBadMagic
	}

	ctrlLen := int64(binary.LittleEndian.Uint64(patch[8:16]))
	diffLen := int64(binary.LittleEndian.Uint64(patch[16:24]))
	newSize := int64(binary.LittleEndian.Uint64(patch[24:32]))
	if ctrlLen < 0 || diffLen < 0 || newSize < 0 {
		return nil, ErrTruncated
	}

	rest := patch[headerLen:]
	if int64(len(rest)) < ctrlLen+diffLen {
		return nil, ErrTruncated
	}

	ctrlSection := rest[:ctrlLen]
	diffSection := rest[ctrlLen : ctrlLen+diffLen]
	extraSection := rest[ctrlLen+diffLen:]

	return &Patch{
		newSize: newSize,
		ctrl:    bzip2.NewReader(bytes.NewReader(ctrlSection)),
		diff:    bzip2.NewReader(bytes.NewReader(diffSection)),
		extra:   bzip2.NewReader(bytes.NewReader(extraSection)),
	}, nil
}

// NewSize returns the size the patched output will be.
func (p *Patch) NewSize() int64 { return p.newSize }

// Apply reconstructs the new file from old and the patch, writing the
// result to w.
func (p *Patch) Apply(old []byte, w io.Writer) error {
	out := make([]byte, p.newSize)

	var oldPos, newPos int64
	for newPos < p.newSize {
		diffLen, extraLen, seek, err := readControlTuple(p.ctrl)
		if err != nil {
			return err
		}

		if newPos+diffLen > p.newSize {
			return ErrTruncated
		}
		diffBuf := make([]byte, diffLen)
		if _, err := io.ReadFull(p.diff, diffBuf); err != nil {
			return fmt.Errorf("%w: reading diff block: %v", ErrTruncated, err)
		}
		for i := int64(0); i < diffLen; i++ {
			oldIdx := oldPos + i
			var oldByte byte
			if oldIdx >= 0 && oldIdx < int64(len(old)) {
				oldByte = old[oldIdx]
			}
			out[newPos+i] = diffBuf[i] + oldByte
		}
		newPos += diffLen
		oldPos += diffLen

		if newPos+extraLen > p.newSize {
			return ErrTruncated
		}
		if extraLen > 0 {
			if _, err := io.ReadFull(p.extra, out[newPos:newPos+extraLen]); err != nil {
				return fmt.Errorf("%w: reading extra block: %v", ErrTruncated, err)
			}
		}
		newPos += extraLen
		oldPos += seek
	}

	_, err := w.Write(out)
	return err
}

// readControlTuple reads the three offtin-encoded int64 values (diff run
// length, extra run length, old-file seek adjustment) that precede each
// diff/extra block.
func readControlTuple(r io.Reader) (diffLen, extraLen, seek int64, err error) {
	diffLen, err = readOfftin(r)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: reading control tuple: %v", ErrTruncated, err)
	}
	extraLen, err = readOfftin(r)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: reading control tuple: %v", ErrTruncated, err)
	}
	seek, err = readOfftin(r)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: reading control tuple: %v", ErrTruncated, err)
	}
	return diffLen, extraLen, seek, nil
}

// readOfftin reads bsdiff's 8-byte little-endian integer encoding, where the
// top bit of the high byte is a sign flag rather than part of the magnitude.
func readOfftin(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	y := int64(buf[0]) | int64(buf[1])<<8 | int64(buf[2])<<16 | int64(buf[3])<<24 |
		int64(buf[4])<<32 | int64(buf[5])<<40 | int64(buf[6])<<48 | int64(buf[7]&0x7f)<<56

	if buf[7]&0x80 != 0 {
		y = -y
	}
	return y, nil
}
