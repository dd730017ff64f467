// Package keycodec converts display names to storage-key-safe form and back.
//
// Storage keys never contain spaces, and a literal "/" inside a single name
// must not be confused with the path separator. Both substitutions are
// reversible; every other character is stored as-is.
package keycodec

import "strings"

// SlashGlyph replaces a literal "/" inside a single name segment.
// U+2215 (division slash) is visually close but can never collide with the
// key path separator.
const SlashGlyph = "∕"

// Separator is the path separator used in storage keys.
const Separator = "/"

// Encode converts a display name into its key-safe form.
func Encode(name string) string {
	s := strings.ReplaceAll(name, " ", "_")
	return strings.ReplaceAll(s, Separator, SlashGlyph)
}

// Decode is the exact inverse of Encode.
//
// Names that already contained an underscore or the reserved glyph are not
// round-trippable; that ambiguity is accepted.
func Decode(key string) string {
	s := strings.ReplaceAll(key, SlashGlyph, Separator)
	return strings.ReplaceAll(s, "_", " ")
}

// EncodePath encodes every segment of a slash-separated path.
// Leading and trailing separators are preserved.
func EncodePath(path string) string {
	if path == "" {
		return ""
	}
	segments := strings.Split(path, Separator)
	for i, seg := range segments {
		segments[i] = Encode(seg)
	}
	return strings.Join(segments, Separator)
}

// DecodePath decodes every segment of a storage key path.
func DecodePath(key string) string {
	if key == "" {
		return ""
	}
	segments := strings.Split(key, Separator)
	for i, seg := range segments {
		segments[i] = Decode(seg)
	}
	return strings.Join(segments, Separator)
}

// BaseName returns the last non-empty segment of a key.
// For folder prefixes (trailing separator) this is the folder's own segment.
func BaseName(key string) string {
	trimmed := strings.TrimSuffix(key, Separator)
	if idx := strings.LastIndex(trimmed, Separator); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// ParentPath returns the prefix of the entry's parent folder, with a trailing
// separator, or "" for entries at the root.
func ParentPath(key string) string {
	trimmed := strings.TrimSuffix(key, Separator)
	if idx := strings.LastIndex(trimmed, Separator); idx >= 0 {
		return trimmed[:idx+1]
	}
	return ""
}
