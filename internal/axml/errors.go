package axml

import "errors"

// ErrCorruptChunk is returned for any structural violation of the chunk
// grammar: a missing string pool, a bad start-element constant, an
// out-of-range string index, or a non-zero id/class/style attribute index.
var ErrCorruptChunk = errors.New("axml: corrupt chunk")

// ErrUnrepresentableString is returned by the writer when a string is too
// long to be encoded as UTF-8 (length would not fit the format's varint).
var ErrUnrepresentableString = errors.New("axml: string too long to represent")

// ErrPlainTextManifest is returned when the input looks like a textual
// (not binary) manifest -- some malformed APKs ship one.
var ErrPlainTextManifest = errors.New("axml: input is plaintext xml, binary form expected")

// ErrMissingResourceID is the diagnostic (non-fatal, collected and returned
// alongside a successful parse) emitted when ParseXML finds an Android
// namespace attribute whose local name is absent from the injected
// ResourceIDLookup.
var ErrMissingResourceID = errors.New("axml: no resource id for android attribute")
