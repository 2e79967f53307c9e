// Package axml implements a bit-exact reader and writer for Android's
// chunked binary XML format, plus a textual XML round-trip converter.
package axml

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Chunk type codes, from frameworks/base/libs/androidfw/include/androidfw/ResourceTypes.h
const (
	chunkStringPool = 0x0001
	chunkXml        = 0x0003
	chunkResMap     = 0x0180

	chunkMaskXml    = 0x0100
	chunkXmlNsStart = 0x0100
	chunkXmlNsEnd   = 0x0101
	chunkXmlTagStart = 0x0102
	chunkXmlTagEnd   = 0x0103
	chunkXmlText     = 0x0104

	chunkHeaderSize = 2 + 2 + 4

	// xmlTagExtraConst is the constant every StartElement carries after its
	// namespace and name indices, observed as 0x00140014 when read as two
	// little-endian u16 fields (attribute start and attribute size, both 0x0014).
	// EndElement chunks carry no such field.
	xmlTagExtraConst = 0x00140014
)

type chunkHeader struct {
	id        uint16
	headerLen uint16
	totalLen  uint32
}

func readChunkHeader(r io.Reader) (chunkHeader, error) {
	var h chunkHeader
	if err := binary.Read(r, binary.LittleEndian, &h.id); err != nil {
		return h, fmt.Errorf("reading chunk id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.headerLen); err != nil {
		return h, fmt.Errorf("reading chunk header len: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.totalLen); err != nil {
		return h, fmt.Errorf("reading chunk total len: %w", err)
	}
	return h, nil
}

func writeChunkHeader(w io.Writer, id uint16, headerLen uint16, totalLen uint32) error {
	if err := binary.Write(w, binary.LittleEndian, id); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, headerLen); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, totalLen)
}
