package axml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLookup grounds ResourceIDLookup for tests with a small fixed table,
// mirroring how internal/manifest's embedded attribute table would answer.
type fakeLookup map[string]uint32

func (f fakeLookup) LookupResourceID(name string) (uint32, bool) {
	id, ok := f[name]
	return id, ok
}

func manifestEvents() []Event {
	debuggableID := uint32(0x0101000f)
	versionCodeID := uint32(0x0101021b)
	labelID := uint32(0x01010001)

	return []Event{
		{Kind: EventStartNamespace, NsPrefix: "android", NsURI: AndroidNamespaceURI},
		{
			Kind: EventStartElement,
			Name: "manifest",
			Attributes: []Attribute{
				{Namespace: AndroidNamespaceURI, Name: "versionCode", ResourceID: &versionCodeID, Value: IntValue(42)},
			},
		},
		{
			Kind: EventStartElement,
			Name: "application",
			Attributes: []Attribute{
				{Namespace: AndroidNamespaceURI, Name: "label", ResourceID: &labelID, Value: StringValue("hello")},
				{Namespace: AndroidNamespaceURI, Name: "debuggable", ResourceID: &debuggableID, Value: BoolValue(true)},
			},
		},
		{Kind: EventEndElement, Name: "application"},
		{Kind: EventEndElement, Name: "manifest"},
		{Kind: EventEndNamespace, NsPrefix: "android", NsURI: AndroidNamespaceURI},
	}
}

func encodeDocument(t *testing.T, events []Event) []byte {
	t.Helper()
	w := NewWriter()
	for _, ev := range events {
		w.WriteEvent(ev)
	}
	out, err := w.Finish()
	require.NoError(t, err)
	return out
}

func decodeDocument(t *testing.T, doc []byte) []Event {
	t.Helper()
	r, err := NewReader(bytes.NewReader(doc))
	require.NoError(t, err)

	var events []Event
	for {
		ev, err := r.Next()
		require.NoError(t, err)
		if ev == nil {
			break
		}
		events = append(events, *ev)
	}
	return events
}

// Attribute invariant: after a writer run, every resource-id-bearing
// attribute's name shares an index between the string pool and the
// resource map.
func TestWriter_AttributeInvariant(t *testing.T) {
	doc := encodeDocument(t, manifestEvents())

	r, err := NewReader(bytes.NewReader(doc))
	require.NoError(t, err)

	for i, name := range []string{"versionCode", "label", "debuggable"} {
		require.Less(t, i, len(r.resMap))
		s, err := r.strings.get(uint32(i))
		require.NoError(t, err)
		assert.Equal(t, name, s)
	}
}

// Round-trip byte-equivalence: decode(encode(events)) reproduces the same
// event sequence, and re-encoding that decoded sequence is byte-identical
// to the first encoding.
func TestRoundTrip_ByteEquivalence(t *testing.T) {
	events := manifestEvents()
	doc1 := encodeDocument(t, events)
	decoded := decodeDocument(t, doc1)
	doc2 := encodeDocument(t, decoded)

	assert.Equal(t, doc1, doc2)
	require.Len(t, decoded, len(events))
	assert.Equal(t, EventStartElement, decoded[1].Kind)
	assert.Equal(t, "manifest", decoded[1].Name)
}

// Boolean scenario: a bool attribute serializes with raw value -1 (true)
// and a raw-string field of -1, then reads back as the same boolean.
func TestBooleanAttribute_RoundTrips(t *testing.T) {
	id := uint32(0x0101000f)
	events := []Event{
		{
			Kind: EventStartElement,
			Name: "application",
			Attributes: []Attribute{
				{Namespace: AndroidNamespaceURI, Name: "debuggable", ResourceID: &id, Value: BoolValue(true)},
			},
		},
		{Kind: EventEndElement, Name: "application"},
	}

	doc := encodeDocument(t, events)
	decoded := decodeDocument(t, doc)

	require.Len(t, decoded, 2)
	require.Len(t, decoded[0].Attributes, 1)
	assert.Equal(t, ValueBool, decoded[0].Attributes[0].Value.Kind)
	assert.True(t, decoded[0].Attributes[0].Value.Bool)
}

// Attributes are sorted by ascending resource ID on write (unset IDs first),
// regardless of the order they were supplied in.
func TestWriter_SortsAttributesByResourceID(t *testing.T) {
	low, high := uint32(0x01010001), uint32(0x0101021b)
	events := []Event{
		{
			Kind: EventStartElement,
			Name: "application",
			Attributes: []Attribute{
				{Namespace: AndroidNamespaceURI, Name: "versionCode", ResourceID: &high, Value: IntValue(1)},
				{Name: "unqualified", Value: StringValue("x")},
				{Namespace: AndroidNamespaceURI, Name: "label", ResourceID: &low, Value: StringValue("y")},
			},
		},
		{Kind: EventEndElement, Name: "application"},
	}

	doc := encodeDocument(t, events)
	decoded := decodeDocument(t, doc)

	require.Len(t, decoded[0].Attributes, 3)
	assert.Equal(t, "unqualified", decoded[0].Attributes[0].Name)
	assert.Equal(t, "label", decoded[0].Attributes[1].Name)
	assert.Equal(t, "versionCode", decoded[0].Attributes[2].Name)
}

// Textual round-trip: axml_of(xml_of(D)) yields the same event sequence as
// D, modulo the attribute reordering the writer always applies.
func TestTextualRoundTrip(t *testing.T) {
	events := manifestEvents()

	var xmlBuf bytes.Buffer
	require.NoError(t, WriteXML(&xmlBuf, events))
	assert.Contains(t, xmlBuf.String(), "android:debuggable=\"true\"")
	assert.Contains(t, xmlBuf.String(), "android:versionCode=\"42\"")

	lookup := fakeLookup{
		"versionCode": 0x0101021b,
		"label":       0x01010001,
		"debuggable":  0x0101000f,
	}
	parsed, diagnostics := ParseXML(strings.NewReader(xmlBuf.String()), lookup)
	assert.Empty(t, diagnostics)

	doc1 := encodeDocument(t, events)
	doc2 := encodeDocument(t, parsed)
	assert.Equal(t, doc1, doc2)
}

// An Android-namespace attribute absent from the lookup table is kept but
// reported as a diagnostic rather than failing the parse.
func TestTextualParse_MissingResourceID(t *testing.T) {
	xmlDoc := `<manifest xmlns:android="` + AndroidNamespaceURI + `"><application android:unknownAttr="1"/></manifest>`
	_, diagnostics := ParseXML(strings.NewReader(xmlDoc), fakeLookup{})
	require.Len(t, diagnostics, 1)
	assert.ErrorIs(t, diagnostics[0], ErrMissingResourceID)
}

func TestReader_RejectsPlainTextManifest(t *testing.T) {
	_, err := NewReader(strings.NewReader("<?xml version=\"1.0\"?><manifest/>"))
	assert.ErrorIs(t, err, ErrPlainTextManifest)
}
