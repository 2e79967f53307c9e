package axml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ResourceIDLookup resolves the compiled resource id of an Android-namespace
// attribute by its local name. internal/manifest supplies the concrete
// implementation backed by an embedded attribute table; kept as an
// interface here to avoid axml depending on manifest.
type ResourceIDLookup interface {
	LookupResourceID(localName string) (uint32, bool)
}

// WriteXML renders events as indented textual XML, following the
// textual round-trip contract: booleans as true/false, integers as decimal,
// references as "[REF <u32>]", floats as decimal. Namespace prefixes are
// taken from the StartNamespace/EndNamespace events rather than rediscovered,
// since the event stream already carries them.
func WriteXML(w io.Writer, events []Event) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	prefixByURI := make(map[string]string)
	var pendingXmlns []xml.Attr

	for _, ev := range events {
		switch ev.Kind {
		case EventStartNamespace:
			prefixByURI[ev.NsURI] = ev.NsPrefix
			pendingXmlns = append(pendingXmlns, xml.Attr{
				Name:  xml.Name{Local: "xmlns:" + ev.NsPrefix},
				Value: ev.NsURI,
			})

		case EventEndNamespace:
			delete(prefixByURI, ev.NsURI)

		case EventStartElement:
			attrs := pendingXmlns
			pendingXmlns = nil
			for _, a := range ev.Attributes {
				attrs = append(attrs, xml.Attr{
					Name:  xml.Name{Local: qualifiedName(a.Namespace, a.Name, prefixByURI)},
					Value: stringifyValue(a.Value),
				})
			}
			start := xml.StartElement{
				Name: xml.Name{Local: qualifiedName(ev.Namespace, ev.Name, prefixByURI)},
				Attr: attrs,
			}
			if err := enc.EncodeToken(start); err != nil {
				return fmt.Errorf("axml: writing start element %s: %w", ev.Name, err)
			}

		case EventEndElement:
			end := xml.EndElement{Name: xml.Name{Local: qualifiedName(ev.Namespace, ev.Name, prefixByURI)}}
			if err := enc.EncodeToken(end); err != nil {
				return fmt.Errorf("axml: writing end element %s: %w", ev.Name, err)
			}

		case EventText:
			if err := enc.EncodeToken(xml.CharData([]byte(ev.Text))); err != nil {
				return fmt.Errorf("axml: writing text: %w", err)
			}

		case EventOpaque:
			// Opaque chunks (unknown to this codec) have no textual form and
			// are silently dropped from the xml view; WriteXML is a display/edit
			// convenience, not the round-trip path (Reader/Writer is).
		}
	}

	return enc.Flush()
}

func qualifiedName(namespace, name string, prefixByURI map[string]string) string {
	if namespace == "" {
		return name
	}
	if prefix, ok := prefixByURI[namespace]; ok && prefix != "" {
		return prefix + ":" + name
	}
	return name
}

func stringifyValue(v AttributeValue) string {
	switch v.Kind {
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case ValueHex:
		return "0x" + strconv.FormatUint(uint64(v.Hex), 16)
	case ValueReference:
		return fmt.Sprintf("[REF %d]", v.Ref)
	case ValueFloat:
		return strconv.FormatFloat(float64(v.Float32), 'g', -1, 32)
	default:
		return v.Str
	}
}

// ParseXML is the reverse of WriteXML. It attaches a resource ID to every
// Android-namespace attribute it can resolve through lookup; unresolved
// attributes are preserved in the event stream but reported back as
// diagnostics rather than failing the parse outright.
func ParseXML(r io.Reader, lookup ResourceIDLookup) ([]Event, []error) {
	dec := xml.NewDecoder(r)

	var events []Event
	var diagnostics []error
	prefixByURI := make(map[string]string)
	var nsOrder []string

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return events, append(diagnostics, fmt.Errorf("axml: parsing xml: %w", err))
		}

		switch t := tok.(type) {
		case xml.StartElement:
			var filtered []xml.Attr
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" {
					prefix := a.Name.Local
					if _, seen := prefixByURI[a.Value]; !seen {
						events = append(events, Event{Kind: EventStartNamespace, NsPrefix: prefix, NsURI: a.Value})
						nsOrder = append(nsOrder, a.Value)
					}
					prefixByURI[a.Value] = prefix
					continue
				}
				filtered = append(filtered, a)
			}

			ns, local := splitQualified(t.Name, prefixByURI)
			ev := Event{Kind: EventStartElement, Namespace: ns, Name: local}
			for _, a := range filtered {
				ans, aname := splitQualified(a.Name, prefixByURI)
				attr := Attribute{Namespace: ans, Name: aname, Value: parseValue(a.Value)}
				if ans == AndroidNamespaceURI {
					if id, ok := lookup.LookupResourceID(aname); ok {
						attr.ResourceID = &id
					} else {
						diagnostics = append(diagnostics, fmt.Errorf("%w: %s", ErrMissingResourceID, aname))
					}
				}
				ev.Attributes = append(ev.Attributes, attr)
			}
			events = append(events, ev)

		case xml.EndElement:
			ns, local := splitQualified(t.Name, prefixByURI)
			events = append(events, Event{Kind: EventEndElement, Namespace: ns, Name: local})

		case xml.CharData:
			if text := strings.TrimSpace(string(t)); text != "" {
				events = append(events, Event{Kind: EventText, Text: text})
			}
		}
	}

	for i := len(nsOrder) - 1; i >= 0; i-- {
		uri := nsOrder[i]
		events = append(events, Event{Kind: EventEndNamespace, NsPrefix: prefixByURI[uri], NsURI: uri})
	}

	return events, diagnostics
}

func splitQualified(name xml.Name, prefixByURI map[string]string) (namespace, local string) {
	if name.Space == "" {
		return "", name.Local
	}
	for uri, p := range prefixByURI {
		if p == name.Space {
			return uri, name.Local
		}
	}
	return "", name.Space + ":" + name.Local
}

func parseValue(s string) AttributeValue {
	if s == "true" {
		return BoolValue(true)
	}
	if s == "false" {
		return BoolValue(false)
	}
	if hex, ok := strings.CutPrefix(s, "0x"); ok {
		if h, err := strconv.ParseUint(hex, 16, 32); err == nil {
			return HexValue(uint32(h))
		}
	}
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return IntValue(int32(i))
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return FloatValue(float32(f))
	}
	if rest, ok := strings.CutPrefix(s, "[REF "); ok {
		if ref, ok := strings.CutSuffix(rest, "]"); ok {
			if n, err := strconv.ParseUint(ref, 10, 32); err == nil {
				return ReferenceValue(uint32(n))
			}
		}
	}
	return StringValue(s)
}
