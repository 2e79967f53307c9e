package manifest

import (
	"fmt"

	"github.com/sidequest/modkit/internal/axml"
)

// metadataTag marks a manifest that has already been patched, so re-running
// Apply against an already-modded manifest is idempotent: the permissions and
// features added on a prior pass are recognized and not duplicated.
const metadataTag = "com.modsbeforefriday.modded"

// ManifestMod is a builder describing the changes Apply makes to a
// manifest's event stream: permissions/features to ensure are present, and
// whether the application should be forced debuggable.
type ManifestMod struct {
	addPermissions []string
	addFeatures    []string
	debuggable     bool
}

// NewManifestMod returns an empty builder.
func NewManifestMod() *ManifestMod {
	return &ManifestMod{}
}

// WithPermission ensures the given uses-permission name is present.
func (m *ManifestMod) WithPermission(name string) *ManifestMod {
	m.addPermissions = append(m.addPermissions, name)
	return m
}

// WithFeature ensures the given uses-feature name is present.
func (m *ManifestMod) WithFeature(name string) *ManifestMod {
	m.addFeatures = append(m.addFeatures, name)
	return m
}

// Debuggable sets whether the <application> element's android:debuggable
// attribute should be forced to true.
func (m *ManifestMod) Debuggable(debuggable bool) *ManifestMod {
	m.debuggable = debuggable
	return m
}

// Apply filters events through the mod, returning the rewritten stream and
// whether anything was actually changed (a caller can skip re-zipping the
// manifest entry when modified is false). Permissions/features added by a
// previous Apply pass (recognized via the metadataTag meta-data element) are
// skipped when scanning for already-present permissions/features, and are
// re-suppressed on output, so repeated patching never accumulates duplicates.
func (m *ManifestMod) Apply(events []axml.Event, resIDs *ResourceIDTable) ([]axml.Event, bool, error) {
	modified := false
	existingFeatures := make(map[string]bool)
	existingPermissions := make(map[string]bool)
	priorFeatures := make(map[string]bool)
	priorPermissions := make(map[string]bool)
	skippingSubsequent := false

	out := make([]axml.Event, 0, len(events)+4)

	for i := range events {
		ev := events[i]
		isEndOfManifest := false

		switch ev.Kind {
		case axml.EventStartElement:
			switch {
			case ev.Name == "application" && m.debuggable:
				changed, err := applyDebuggable(&ev, resIDs)
				if err != nil {
					return nil, false, err
				}
				modified = modified || changed

			case ev.Name == "meta-data" && isModdedMetadata(ev.Attributes):
				skippingSubsequent = true

			case ev.Name == "uses-permission" && !skippingSubsequent:
				if name, ok := getNameAttribute(ev.Attributes); ok {
					existingPermissions[name] = true
				}

			case ev.Name == "uses-feature" && !skippingSubsequent:
				if name, ok := getNameAttribute(ev.Attributes); ok {
					existingFeatures[name] = true
				}

			case ev.Name == "uses-permission":
				if name, ok := getNameAttribute(ev.Attributes); ok {
					priorPermissions[name] = true
				}

			case ev.Name == "uses-feature":
				if name, ok := getNameAttribute(ev.Attributes); ok {
					priorFeatures[name] = true
				}
			}

		case axml.EventEndElement:
			isEndOfManifest = ev.Name == "manifest"
		}

		if isEndOfManifest {
			metaEvents, err := valuedElementEvents("meta-data", metadataTag, axml.BoolValue(true), resIDs)
			if err != nil {
				return nil, false, err
			}
			out = append(out, metaEvents...)

			for _, feature := range m.addFeatures {
				if existingFeatures[feature] {
					continue
				}
				featEvents, err := namedElementEvents("uses-feature", feature, resIDs)
				if err != nil {
					return nil, false, err
				}
				out = append(out, featEvents...)
				modified = modified || !priorFeatures[feature]
			}
			for _, permission := range m.addPermissions {
				if existingPermissions[permission] {
					continue
				}
				permEvents, err := namedElementEvents("uses-permission", permission, resIDs)
				if err != nil {
					return nil, false, err
				}
				out = append(out, permEvents...)
				modified = modified || !priorPermissions[permission]
			}

			skippingSubsequent = false
		}

		if !skippingSubsequent {
			out = append(out, ev)
		}
	}

	return out, modified, nil
}

// applyDebuggable forces android:debuggable to true on the <application>
// element's attribute list, adding it if absent. Reports whether this
// actually changed anything.
func applyDebuggable(ev *axml.Event, resIDs *ResourceIDTable) (bool, error) {
	for i := range ev.Attributes {
		attr := &ev.Attributes[i]
		if attr.Name != "debuggable" {
			continue
		}
		if attr.Value.Kind == axml.ValueBool && attr.Value.Bool {
			return false, nil
		}
		attr.Value = axml.BoolValue(true)
		return true, nil
	}

	attr, err := androidAttribute("debuggable", axml.BoolValue(true), resIDs)
	if err != nil {
		return false, err
	}
	ev.Attributes = append(ev.Attributes, attr)
	return true, nil
}

// getNameAttribute returns the string value of the element's "name"
// attribute, if one exists with a string value.
func getNameAttribute(attrs []axml.Attribute) (string, bool) {
	for _, attr := range attrs {
		if attr.Name != "name" {
			continue
		}
		if attr.Value.Kind != axml.ValueString {
			return "", false
		}
		return attr.Value.Str, true
	}
	return "", false
}

// isModdedMetadata reports whether attrs names the sentinel meta-data tag
// this package writes on every patch.
func isModdedMetadata(attrs []axml.Attribute) bool {
	name, ok := getNameAttribute(attrs)
	return ok && name == metadataTag
}

func androidAttribute(name string, value axml.AttributeValue, resIDs *ResourceIDTable) (axml.Attribute, error) {
	id, ok := resIDs.LookupResourceID(name)
	if !ok {
		return axml.Attribute{}, fmt.Errorf("manifest: no resource id for attribute %q", name)
	}
	return axml.Attribute{
		Namespace:  axml.AndroidNamespaceURI,
		Name:       name,
		ResourceID: &id,
		Value:      value,
	}, nil
}

// valuedElementEvents builds the Start/End event pair for a self-closing
// element with "name" and "value" attributes, e.g. the sentinel meta-data tag.
func valuedElementEvents(elementName, name string, value axml.AttributeValue, resIDs *ResourceIDTable) ([]axml.Event, error) {
	nameAttr, err := androidAttribute("name", axml.StringValue(name), resIDs)
	if err != nil {
		return nil, err
	}
	valueAttr, err := androidAttribute("value", value, resIDs)
	if err != nil {
		return nil, err
	}
	return []axml.Event{
		{Kind: axml.EventStartElement, Name: elementName, Attributes: []axml.Attribute{nameAttr, valueAttr}},
		{Kind: axml.EventEndElement, Name: elementName},
	}, nil
}

// namedElementEvents builds the Start/End event pair for a self-closing
// element with only a "name" attribute, e.g. uses-permission/uses-feature.
func namedElementEvents(elementName, nameValue string, resIDs *ResourceIDTable) ([]axml.Event, error) {
	nameAttr, err := androidAttribute("name", axml.StringValue(nameValue), resIDs)
	if err != nil {
		return nil, err
	}
	return []axml.Event{
		{Kind: axml.EventStartElement, Name: elementName, Attributes: []axml.Attribute{nameAttr}},
		{Kind: axml.EventEndElement, Name: elementName},
	}, nil
}
