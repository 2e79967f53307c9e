// Package manifest mutates and inspects AndroidManifest.xml's event stream
// (internal/axml), grounded on original_source/mbf-agent/src/manifest.rs.
package manifest

// resourceIDs stands in for the compiled attribute-name table the original
// loads from an embedded binary blob (resourceIds.bin): a map from an
// Android-namespace attribute's local name to its platform resource ID.
// These are the stable, publicly documented ids for the attributes this
// package and the textual converter actually touch; the loader's on-disk
// binary format is not reproduced since nothing else in this module reads it.
var resourceIDs = map[string]uint32{
	"name":                         0x01010003,
	"label":                       0x01010001,
	"icon":                        0x01010002,
	"value":                       0x01010024,
	"debuggable":                  0x0101000f,
	"versionCode":                 0x0101021b,
	"versionName":                 0x0101021c,
	"minSdkVersion":                0x0101020c,
	"targetSdkVersion":             0x01010270,
	"allowBackup":                  0x01010280,
	"requestLegacyExternalStorage": 0x01010472,
	"theme":                        0x01010000,
	"permission":                   0x01010006,
	"exported":                     0x01010010,
	"enabled":                      0x0101000e,
	"required":                     0x0101028e,
	"glEsVersion":                  0x01010281,
}

// ResourceIDTable implements axml.ResourceIDLookup.
type ResourceIDTable struct {
	ids map[string]uint32
}

// LoadResourceIDTable returns the compiled attribute-name table.
func LoadResourceIDTable() *ResourceIDTable {
	return &ResourceIDTable{ids: resourceIDs}
}

// LookupResourceID implements axml.ResourceIDLookup.
func (t *ResourceIDTable) LookupResourceID(name string) (uint32, bool) {
	id, ok := t.ids[name]
	return id, ok
}
