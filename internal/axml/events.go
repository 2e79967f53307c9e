package axml

// EventKind tags the variant of an Event.
type EventKind int

const (
	EventStartNamespace EventKind = iota
	EventEndNamespace
	EventStartElement
	EventEndElement
	EventText
	EventOpaque
)

// Event is one entry in the ordered event stream a Reader yields and a
// Writer accepts. Mutators (see internal/manifest) operate purely as a
// filter over this stream; nothing here is ever materialized into a tree.
type Event struct {
	Kind EventKind

	// StartNamespace / EndNamespace
	NsPrefix string
	NsURI    string

	// StartElement / EndElement
	Namespace  string
	Name       string
	Attributes []Attribute // only populated for StartElement

	// Text
	Text string

	// Opaque passthrough: an inner chunk of a type the reader doesn't
	// understand is preserved verbatim so encode(decode(d)) round-trips.
	OpaqueType uint16
	OpaqueData []byte
}

// ValueKind tags the variant of an AttributeValue.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueBool
	ValueInt
	ValueHex
	ValueReference
	ValueFloat
)

// AttributeValue is the tagged union over {string-ref, boolean, signed
// 32-bit integer, hex integer, reference, 32-bit float}.
type AttributeValue struct {
	Kind ValueKind

	Str     string
	Bool    bool
	Int     int32
	Hex     uint32
	Ref     uint32
	Float32 float32
}

func StringValue(s string) AttributeValue  { return AttributeValue{Kind: ValueString, Str: s} }
func BoolValue(b bool) AttributeValue      { return AttributeValue{Kind: ValueBool, Bool: b} }
func IntValue(i int32) AttributeValue      { return AttributeValue{Kind: ValueInt, Int: i} }
func HexValue(h uint32) AttributeValue     { return AttributeValue{Kind: ValueHex, Hex: h} }
func ReferenceValue(r uint32) AttributeValue {
	return AttributeValue{Kind: ValueReference, Ref: r}
}
func FloatValue(f float32) AttributeValue { return AttributeValue{Kind: ValueFloat, Float32: f} }

// Attribute is one attribute of a StartElement event. ResourceID is non-nil
// iff the attribute's namespace is the Android namespace and a resource id
// table entry exists for its local name.
type Attribute struct {
	Namespace  string
	Name       string
	ResourceID *uint32
	Value      AttributeValue
}

// AndroidNamespaceURI is the namespace URI carrying resource-id-bearing
// attributes, e.g. android:debuggable, android:name, android:versionName.
const AndroidNamespaceURI = "http://schemas.android.com/apk/res/android"
