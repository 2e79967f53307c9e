package axml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Reader yields an ordered, finite stream of Events from a binary AXML
// document. Construct with NewReader, then call Next repeatedly until it
// returns (nil, nil).
type Reader struct {
	r         io.Reader
	strings   stringPool
	resMap    []uint32
	remaining int64
	done      bool
}

// NewReader consumes the outer XML chunk header, the string pool and the
// resource-id map.
func NewReader(r io.Reader) (*Reader, error) {
	outer, err := readChunkHeader(r)
	if err != nil {
		return nil, err
	}

	if outer.id&0xFF == '<' {
		var buf bytes.Buffer
		binary.Write(&buf, binary.LittleEndian, outer.id)
		binary.Write(&buf, binary.LittleEndian, outer.headerLen)
		binary.Write(&buf, binary.LittleEndian, outer.totalLen)
		if s := buf.String(); strings.HasPrefix(s, "<?xml ") || strings.HasPrefix(s, "<manif") {
			return nil, ErrPlainTextManifest
		}
	}

	rdr := &Reader{r: r, remaining: int64(outer.totalLen) - chunkHeaderSize}

	// First inner chunk must be the string pool.
	h, err := readChunkHeader(r)
	if err != nil {
		return nil, err
	}
	if h.id != chunkStringPool {
		return nil, fmt.Errorf("%w: expected StringPool chunk, got 0x%04x", ErrCorruptChunk, h.id)
	}
	rdr.remaining -= int64(h.totalLen)
	lim := &io.LimitedReader{R: r, N: int64(h.totalLen) - chunkHeaderSize}
	rdr.strings, err = readStringPool(lim)
	if err != nil {
		return nil, err
	}
	if lim.N != 0 {
		return nil, fmt.Errorf("%w: string pool chunk had %d trailing bytes", ErrCorruptChunk, lim.N)
	}

	// The resource-id map must follow.
	h, err = readChunkHeader(r)
	if err != nil {
		return nil, err
	}
	if h.id != chunkResMap {
		return nil, fmt.Errorf("%w: expected XmlResourceMap chunk, got 0x%04x", ErrCorruptChunk, h.id)
	}
	rdr.remaining -= int64(h.totalLen)
	n := int64(h.totalLen) - chunkHeaderSize
	if n%4 != 0 {
		return nil, fmt.Errorf("%w: resource map size %d not a multiple of 4", ErrCorruptChunk, n)
	}
	rdr.resMap = make([]uint32, n/4)
	if err := binary.Read(io.LimitReader(r, n), binary.LittleEndian, &rdr.resMap); err != nil {
		return nil, fmt.Errorf("%w: reading resource map: %v", ErrCorruptChunk, err)
	}

	return rdr, nil
}

// Next returns the next event, or (nil, nil) once the document is
// exhausted. Unknown chunk types are passed through as EventOpaque so the
// writer can round-trip them unchanged.
func (rdr *Reader) Next() (*Event, error) {
	if rdr.done || rdr.remaining <= 0 {
		rdr.done = true
		return nil, nil
	}

	h, err := readChunkHeader(rdr.r)
	if err != nil {
		return nil, err
	}
	rdr.remaining -= int64(h.totalLen)

	body := &io.LimitedReader{R: rdr.r, N: int64(h.totalLen) - chunkHeaderSize}

	var ev *Event
	if h.id&chunkMaskXml == 0 {
		data := make([]byte, body.N)
		if _, err := io.ReadFull(body, data); err != nil {
			return nil, fmt.Errorf("%w: reading opaque chunk 0x%04x: %v", ErrCorruptChunk, h.id, err)
		}
		ev = &Event{Kind: EventOpaque, OpaqueType: h.id, OpaqueData: data}
	} else {
		// Every XML chunk carries a line number and an unused comment index
		// (0xFFFFFFFF) right after the chunk header.
		if _, err := io.CopyN(io.Discard, body, 2*4); err != nil {
			return nil, fmt.Errorf("%w: skipping line number: %v", ErrCorruptChunk, err)
		}

		switch h.id {
		case chunkXmlNsStart:
			ev, err = rdr.readNsStart(body)
		case chunkXmlNsEnd:
			ev, err = rdr.readNsEnd(body)
		case chunkXmlTagStart:
			ev, err = rdr.readTagStart(body)
		case chunkXmlTagEnd:
			ev, err = rdr.readTagEnd(body)
		case chunkXmlText:
			ev, err = rdr.readText(body)
		default:
			return nil, fmt.Errorf("%w: unknown xml chunk id 0x%04x", ErrCorruptChunk, h.id)
		}
		if err != nil {
			return nil, err
		}
	}

	if body.N != 0 {
		return nil, fmt.Errorf("%w: chunk 0x%04x left %d unread bytes", ErrCorruptChunk, h.id, body.N)
	}
	return ev, nil
}

func (rdr *Reader) readNsStart(r io.Reader) (*Event, error) {
	prefixIdx, err := rdr.readU32(r, "namespace prefix index")
	if err != nil {
		return nil, err
	}
	uriIdx, err := rdr.readU32(r, "namespace uri index")
	if err != nil {
		return nil, err
	}
	prefix, err := rdr.strings.get(prefixIdx)
	if err != nil {
		return nil, err
	}
	uri, err := rdr.strings.get(uriIdx)
	if err != nil {
		return nil, err
	}
	return &Event{Kind: EventStartNamespace, NsPrefix: prefix, NsURI: uri}, nil
}

func (rdr *Reader) readNsEnd(r io.Reader) (*Event, error) {
	prefixIdx, err := rdr.readU32(r, "namespace prefix index")
	if err != nil {
		return nil, err
	}
	uriIdx, err := rdr.readU32(r, "namespace uri index")
	if err != nil {
		return nil, err
	}
	prefix, err := rdr.strings.get(prefixIdx)
	if err != nil {
		return nil, err
	}
	uri, err := rdr.strings.get(uriIdx)
	if err != nil {
		return nil, err
	}
	return &Event{Kind: EventEndNamespace, NsPrefix: prefix, NsURI: uri}, nil
}

func (rdr *Reader) readTagStart(r io.Reader) (*Event, error) {
	nsIdx, err := rdr.readU32(r, "tag namespace index")
	if err != nil {
		return nil, err
	}
	nameIdx, err := rdr.readU32(r, "tag name index")
	if err != nil {
		return nil, err
	}

	var attrStart, attrSize, attrCount, idIdx, classIdx, styleIdx uint16
	for _, f := range []*uint16{&attrStart, &attrSize, &attrCount, &idIdx, &classIdx, &styleIdx} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("%w: reading tag start header: %v", ErrCorruptChunk, err)
		}
	}
	if idIdx != 0 || classIdx != 0 || styleIdx != 0 {
		return nil, fmt.Errorf("%w: non-zero id/class/style attribute index", ErrCorruptChunk)
	}
	if uint32(attrStart)|uint32(attrSize)<<16 != xmlTagExtraConst {
		return nil, fmt.Errorf("%w: start-element missing 0x%08x constant", ErrCorruptChunk, xmlTagExtraConst)
	}

	namespace, err := rdr.strings.get(nsIdx)
	if err != nil {
		return nil, err
	}
	name, err := rdr.strings.get(nameIdx)
	if err != nil {
		return nil, err
	}

	ev := &Event{Kind: EventStartElement, Namespace: namespace, Name: name}

	for i := uint16(0); i < attrCount; i++ {
		var rec struct {
			NsIdx, NameIdx, RawStrIdx, Type, Data uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("%w: reading attribute %d: %v", ErrCorruptChunk, i, err)
		}

		attrNs, err := rdr.strings.get(rec.NsIdx)
		if err != nil {
			return nil, err
		}
		attrName, err := rdr.strings.get(rec.NameIdx)
		if err != nil {
			return nil, err
		}

		var resID *uint32
		if rec.NameIdx < uint32(len(rdr.resMap)) {
			id := rdr.resMap[rec.NameIdx]
			resID = &id
		}

		typeTag := rec.Type >> 24
		var value AttributeValue
		switch typeTag {
		case 0x03: // string
			s, err := rdr.strings.get(rec.RawStrIdx)
			if err != nil {
				return nil, err
			}
			value = StringValue(s)
		case 0x12: // bool
			value = BoolValue(rec.Data != 0)
		case 0x10: // signed int
			value = IntValue(int32(rec.Data))
		case 0x11: // hex int
			value = HexValue(rec.Data)
		case 0x01: // reference
			value = ReferenceValue(rec.Data)
		case 0x04: // float (raw bits reinterpreted)
			value = FloatValue(float32FromBits(rec.Data))
		default:
			return nil, fmt.Errorf("%w: unknown attribute type tag 0x%02x", ErrCorruptChunk, typeTag)
		}

		ev.Attributes = append(ev.Attributes, Attribute{
			Namespace:  attrNs,
			Name:       attrName,
			ResourceID: resID,
			Value:      value,
		})
	}

	return ev, nil
}

func (rdr *Reader) readTagEnd(r io.Reader) (*Event, error) {
	nsIdx, err := rdr.readU32(r, "end tag namespace index")
	if err != nil {
		return nil, err
	}
	nameIdx, err := rdr.readU32(r, "end tag name index")
	if err != nil {
		return nil, err
	}
	namespace, err := rdr.strings.get(nsIdx)
	if err != nil {
		return nil, err
	}
	name, err := rdr.strings.get(nameIdx)
	if err != nil {
		return nil, err
	}
	return &Event{Kind: EventEndElement, Namespace: namespace, Name: name}, nil
}

func (rdr *Reader) readText(r io.Reader) (*Event, error) {
	idx, err := rdr.readU32(r, "text index")
	if err != nil {
		return nil, err
	}
	text, err := rdr.strings.get(idx)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, r, 2*4); err != nil {
		return nil, fmt.Errorf("%w: skipping text trailer: %v", ErrCorruptChunk, err)
	}
	return &Event{Kind: EventText, Text: text}, nil
}

func (rdr *Reader) readU32(r io.Reader, what string) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrCorruptChunk, what, err)
	}
	return v, nil
}
