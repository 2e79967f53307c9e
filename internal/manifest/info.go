package manifest

import (
	"errors"
	"fmt"

	"github.com/sidequest/modkit/internal/axml"
)

// ErrNoVersionName is returned when the root <manifest> element carries no
// versionName attribute, or its value isn't a string.
var ErrNoVersionName = errors.New("manifest: no package version attribute")

// Info is the minimal read-only summary of a manifest's event stream that
// the patching pipeline needs before deciding whether a downgrade is
// possible: the package's declared version name.
type Info struct {
	PackageVersion string
}

// ReadInfo scans events for the root <manifest> element and extracts its
// versionName attribute.
func ReadInfo(events []axml.Event) (*Info, error) {
	for _, ev := range events {
		if ev.Kind != axml.EventStartElement || ev.Name != "manifest" {
			continue
		}

		for _, attr := range ev.Attributes {
			if attr.Name != "versionName" {
				continue
			}
			if attr.Value.Kind != axml.ValueString {
				return nil, fmt.Errorf("%w: versionName attribute was not a string", ErrNoVersionName)
			}
			return &Info{PackageVersion: attr.Value.Str}, nil
		}
		return nil, ErrNoVersionName
	}
	return nil, fmt.Errorf("manifest: no <manifest> element found")
}
