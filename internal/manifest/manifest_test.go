package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidequest/modkit/internal/axml"
)

func baseManifest() []axml.Event {
	return []axml.Event{
		{Kind: axml.EventStartNamespace, NsPrefix: "android", NsURI: axml.AndroidNamespaceURI},
		{Kind: axml.EventStartElement, Name: "manifest"},
		{
			Kind: axml.EventStartElement,
			Name: "uses-permission",
			Attributes: []axml.Attribute{
				{Namespace: axml.AndroidNamespaceURI, Name: "name", Value: axml.StringValue("android.permission.INTERNET")},
			},
		},
		{Kind: axml.EventEndElement, Name: "uses-permission"},
		{Kind: axml.EventStartElement, Name: "application"},
		{Kind: axml.EventEndElement, Name: "application"},
		{Kind: axml.EventEndElement, Name: "manifest"},
		{Kind: axml.EventEndNamespace, NsPrefix: "android", NsURI: axml.AndroidNamespaceURI},
	}
}

func findElement(events []axml.Event, name string) (*axml.Event, bool) {
	for i := range events {
		if events[i].Kind == axml.EventStartElement && events[i].Name == name {
			return &events[i], true
		}
	}
	return nil, false
}

func countElements(events []axml.Event, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == axml.EventStartElement && ev.Name == name {
			n++
		}
	}
	return n
}

func TestApply_AddsNewPermissionAndFeature(t *testing.T) {
	resIDs := LoadResourceIDTable()
	mod := NewManifestMod().
		WithPermission("android.permission.RECORD_AUDIO").
		WithFeature("android.hardware.vr.headtracking")

	out, modified, err := mod.Apply(baseManifest(), resIDs)
	require.NoError(t, err)
	assert.True(t, modified)

	assert.Equal(t, 1, countElements(out, "meta-data"))
	meta, ok := findElement(out, "meta-data")
	require.True(t, ok)
	name, ok := getNameAttribute(meta.Attributes)
	require.True(t, ok)
	assert.Equal(t, metadataTag, name)

	var sawAudio, sawHeadtracking bool
	for _, ev := range out {
		if ev.Kind != axml.EventStartElement {
			continue
		}
		n, _ := getNameAttribute(ev.Attributes)
		if ev.Name == "uses-permission" && n == "android.permission.RECORD_AUDIO" {
			sawAudio = true
		}
		if ev.Name == "uses-feature" && n == "android.hardware.vr.headtracking" {
			sawHeadtracking = true
		}
	}
	assert.True(t, sawAudio)
	assert.True(t, sawHeadtracking)

	// The pre-existing INTERNET permission survives untouched.
	assert.Equal(t, 2, countElements(out, "uses-permission"))
}

func TestApply_SkipsAlreadyPresentPermission(t *testing.T) {
	resIDs := LoadResourceIDTable()
	mod := NewManifestMod().WithPermission("android.permission.INTERNET")

	out, modified, err := mod.Apply(baseManifest(), resIDs)
	require.NoError(t, err)
	assert.False(t, modified, "the requested permission already existed, and the sentinel tag alone isn't a content change")
	assert.Equal(t, 1, countElements(out, "uses-permission"))
}

func TestApply_DebuggableAddsAttributeWhenAbsent(t *testing.T) {
	resIDs := LoadResourceIDTable()
	mod := NewManifestMod().Debuggable(true)

	out, modified, err := mod.Apply(baseManifest(), resIDs)
	require.NoError(t, err)
	assert.True(t, modified)

	app, ok := findElement(out, "application")
	require.True(t, ok)
	require.Len(t, app.Attributes, 1)
	assert.Equal(t, "debuggable", app.Attributes[0].Name)
	assert.Equal(t, axml.ValueBool, app.Attributes[0].Value.Kind)
	assert.True(t, app.Attributes[0].Value.Bool)
}

func TestApply_DebuggableNoOpWhenAlreadyTrue(t *testing.T) {
	resIDs := LoadResourceIDTable()
	events := baseManifest()
	app, ok := findElement(events, "application")
	require.True(t, ok)
	app.Attributes = []axml.Attribute{
		{Namespace: axml.AndroidNamespaceURI, Name: "debuggable", Value: axml.BoolValue(true)},
	}

	mod := NewManifestMod().Debuggable(true)
	_, modified, err := mod.Apply(events, resIDs)
	require.NoError(t, err)

	// debuggable was already true and no permissions/features were
	// requested, so nothing actually changed.
	assert.False(t, modified)
}

// Re-applying against an already-patched manifest must not duplicate the
// permissions/features added on the prior pass.
func TestApply_IsIdempotentOnRepatch(t *testing.T) {
	resIDs := LoadResourceIDTable()
	mod := NewManifestMod().
		WithPermission("android.permission.RECORD_AUDIO").
		WithFeature("android.hardware.vr.headtracking")

	once, _, err := mod.Apply(baseManifest(), resIDs)
	require.NoError(t, err)

	twice, modified, err := mod.Apply(once, resIDs)
	require.NoError(t, err)
	assert.False(t, modified)

	assert.Equal(t, 1, countElements(twice, "meta-data"))
	assert.Equal(t, 1, countElements(twice, "uses-feature"))
	assert.Equal(t, 2, countElements(twice, "uses-permission"))
}

func TestReadInfo_ExtractsVersionName(t *testing.T) {
	events := []axml.Event{
		{
			Kind: axml.EventStartElement,
			Name: "manifest",
			Attributes: []axml.Attribute{
				{Name: "versionName", Value: axml.StringValue("1.28.0")},
			},
		},
		{Kind: axml.EventEndElement, Name: "manifest"},
	}

	info, err := ReadInfo(events)
	require.NoError(t, err)
	assert.Equal(t, "1.28.0", info.PackageVersion)
}

func TestReadInfo_ErrorsWithoutVersionName(t *testing.T) {
	events := []axml.Event{
		{Kind: axml.EventStartElement, Name: "manifest"},
		{Kind: axml.EventEndElement, Name: "manifest"},
	}

	_, err := ReadInfo(events)
	assert.ErrorIs(t, err, ErrNoVersionName)
}
