package axml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Writer accepts events in order and defers all output until Finish.
// It is new code, grounded on original_source/mbf-axml/src/writer.rs and
// translated into this module's error-wrapping and buffering idiom.
type Writer struct {
	events   []Event
	pool     *stringPoolBuilder
	resMap   []uint32
	finished bool
}

func NewWriter() *Writer {
	return &Writer{pool: newStringPoolBuilder()}
}

// WriteEvent buffers ev; nothing is serialized until Finish is called.
func (w *Writer) WriteEvent(ev Event) {
	w.events = append(w.events, ev)
}

const noStringIdx = math.MaxUint32

// Finish computes the string pool, resource map and all buffered event
// chunks, and returns the complete AXML document.
func (w *Writer) Finish() ([]byte, error) {
	if w.finished {
		return nil, fmt.Errorf("axml: writer already finished")
	}
	w.finished = true

	// Pre-allocate matching string-pool/resource-map indices for every
	// resource-id-bearing attribute name BEFORE any other interning, so
	// invariant (ii) (string_pool[i].name == name_i, resource_map[i] ==
	// res_id_i) holds by construction.
	for _, ev := range w.events {
		if ev.Kind != EventStartElement {
			continue
		}
		for _, attr := range ev.Attributes {
			if attr.ResourceID == nil {
				continue
			}
			if _, ok := w.pool.has(attr.Name); ok {
				continue
			}
			idx := w.pool.intern(attr.Name)
			if int(idx) != len(w.resMap) {
				return nil, fmt.Errorf("axml: resource map index %d did not match string pool index %d", len(w.resMap), idx)
			}
			w.resMap = append(w.resMap, *attr.ResourceID)
		}
	}

	var eventBufs [][]byte
	for _, ev := range w.events {
		buf, err := w.encodeEvent(ev)
		if err != nil {
			return nil, err
		}
		eventBufs = append(eventBufs, buf)
	}

	poolBytes, err := w.pool.encode()
	if err != nil {
		return nil, err
	}

	var resMapBody bytes.Buffer
	for _, id := range w.resMap {
		binary.Write(&resMapBody, binary.LittleEndian, id)
	}
	var resMapChunk bytes.Buffer
	if err := writeChunkHeader(&resMapChunk, chunkResMap, chunkHeaderSize, uint32(chunkHeaderSize+resMapBody.Len())); err != nil {
		return nil, err
	}
	resMapChunk.Write(resMapBody.Bytes())

	total := chunkHeaderSize + len(poolBytes) + resMapChunk.Len()
	for _, b := range eventBufs {
		total += len(b)
	}
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("axml: document too large")
	}

	var out bytes.Buffer
	if err := writeChunkHeader(&out, chunkXml, chunkHeaderSize, uint32(total)); err != nil {
		return nil, err
	}
	out.Write(poolBytes)
	out.Write(resMapChunk.Bytes())
	for _, b := range eventBufs {
		out.Write(b)
	}
	return out.Bytes(), nil
}

func (w *Writer) nameIdx(s string) uint32 {
	if s == "" {
		return noStringIdx
	}
	return w.pool.intern(s)
}

func (w *Writer) encodeEvent(ev Event) ([]byte, error) {
	switch ev.Kind {
	case EventStartNamespace:
		return w.encodeNamespace(chunkXmlNsStart, ev)
	case EventEndNamespace:
		return w.encodeNamespace(chunkXmlNsEnd, ev)
	case EventStartElement:
		return w.encodeTagStart(ev)
	case EventEndElement:
		return w.encodeTagEnd(ev)
	case EventText:
		return w.encodeText(ev)
	case EventOpaque:
		return w.encodeOpaque(ev)
	default:
		return nil, fmt.Errorf("axml: unknown event kind %d", ev.Kind)
	}
}

func commonXmlHeader(id uint16, bodyLen int) (bytes.Buffer, error) {
	var buf bytes.Buffer
	const headerLen = chunkHeaderSize + 2*4
	if err := writeChunkHeader(&buf, id, headerLen, uint32(headerLen+bodyLen)); err != nil {
		return buf, err
	}
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // line number
	binary.Write(&buf, binary.LittleEndian, uint32(noStringIdx)) // comment (unused)
	return buf, nil
}

func (w *Writer) encodeNamespace(id uint16, ev Event) ([]byte, error) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, w.nameIdx(ev.NsPrefix))
	binary.Write(&body, binary.LittleEndian, w.nameIdx(ev.NsURI))

	out, err := commonXmlHeader(id, body.Len())
	if err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (w *Writer) encodeTagStart(ev Event) ([]byte, error) {
	attrs := make([]Attribute, len(ev.Attributes))
	copy(attrs, ev.Attributes)
	sort.SliceStable(attrs, func(i, j int) bool {
		a, b := attrs[i].ResourceID, attrs[j].ResourceID
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return *a < *b
	})

	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, w.nameIdx(ev.Namespace))
	binary.Write(&body, binary.LittleEndian, w.nameIdx(ev.Name))
	binary.Write(&body, binary.LittleEndian, uint16(0x0014)) // attrStart
	binary.Write(&body, binary.LittleEndian, uint16(0x0014)) // attrSize
	binary.Write(&body, binary.LittleEndian, uint16(len(attrs)))
	binary.Write(&body, binary.LittleEndian, uint16(0)) // idIndex
	binary.Write(&body, binary.LittleEndian, uint16(0)) // classIndex
	binary.Write(&body, binary.LittleEndian, uint16(0)) // styleIndex

	for _, attr := range attrs {
		nsIdx := w.nameIdx(attr.Namespace)
		attrNameIdx := w.pool.intern(attr.Name)

		var rawStrIdx, data uint32
		var typeTag uint32
		switch attr.Value.Kind {
		case ValueString:
			strIdx := w.pool.intern(attr.Value.Str)
			rawStrIdx, data, typeTag = strIdx, strIdx, 0x03
		case ValueBool:
			rawStrIdx, typeTag = noStringIdx, 0x12
			if attr.Value.Bool {
				data = noStringIdx
			}
		case ValueInt:
			rawStrIdx, typeTag, data = noStringIdx, 0x10, uint32(attr.Value.Int)
		case ValueHex:
			rawStrIdx, typeTag, data = noStringIdx, 0x11, attr.Value.Hex
		case ValueReference:
			rawStrIdx, typeTag, data = noStringIdx, 0x01, attr.Value.Ref
		case ValueFloat:
			rawStrIdx, typeTag, data = noStringIdx, 0x04, float32Bits(attr.Value.Float32)
		default:
			return nil, fmt.Errorf("axml: unknown attribute value kind %d", attr.Value.Kind)
		}

		binary.Write(&body, binary.LittleEndian, nsIdx)
		binary.Write(&body, binary.LittleEndian, attrNameIdx)
		binary.Write(&body, binary.LittleEndian, rawStrIdx)
		binary.Write(&body, binary.LittleEndian, typeTag<<24|0x0008)
		binary.Write(&body, binary.LittleEndian, data)
	}

	out, err := commonXmlHeader(chunkXmlTagStart, body.Len())
	if err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (w *Writer) encodeTagEnd(ev Event) ([]byte, error) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, w.nameIdx(ev.Namespace))
	binary.Write(&body, binary.LittleEndian, w.nameIdx(ev.Name))

	out, err := commonXmlHeader(chunkXmlTagEnd, body.Len())
	if err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (w *Writer) encodeText(ev Event) ([]byte, error) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, w.pool.intern(ev.Text))
	binary.Write(&body, binary.LittleEndian, uint32(0))
	binary.Write(&body, binary.LittleEndian, uint32(0))

	out, err := commonXmlHeader(chunkXmlText, body.Len())
	if err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (w *Writer) encodeOpaque(ev Event) ([]byte, error) {
	var out bytes.Buffer
	total := chunkHeaderSize + len(ev.OpaqueData)
	if err := writeChunkHeader(&out, ev.OpaqueType, chunkHeaderSize, uint32(total)); err != nil {
		return nil, err
	}
	out.Write(ev.OpaqueData)
	return out.Bytes(), nil
}
