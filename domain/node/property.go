package node

// PropertyKind discriminates the typed property value union.
type PropertyKind int

// PropertyKind values.
const (
	PropertyString PropertyKind = iota
	PropertyLocalized
	PropertyMulti
	PropertyContentRef
)

// PropertyValue is a typed node property value: a plain string, a
// locale-qualified text, a multi-value list, or a reference to binary
// content held by the repository.
type PropertyValue struct {
	kind       PropertyKind
	text       string
	locale     string
	values     []PropertyValue
	contentID  int64
	mimeType   string
	sizeBytes  int64
	encodingID string
}

// StringProperty creates a plain string property value.
func StringProperty(text string) PropertyValue {
	return PropertyValue{kind: PropertyString, text: text}
}

// LocalizedProperty creates a locale-qualified text property value.
func LocalizedProperty(locale, text string) PropertyValue {
	return PropertyValue{kind: PropertyLocalized, locale: locale, text: text}
}

// MultiProperty creates a multi-value property.
func MultiProperty(values ...PropertyValue) PropertyValue {
	cp := make([]PropertyValue, len(values))
	copy(cp, values)
	return PropertyValue{kind: PropertyMulti, values: cp}
}

// ContentProperty creates a content-reference property value. The content
// itself lives in the repository and is fetched in a separate pass.
func ContentProperty(contentID int64, mimeType, encoding string, sizeBytes int64) PropertyValue {
	return PropertyValue{
		kind:       PropertyContentRef,
		contentID:  contentID,
		mimeType:   mimeType,
		encodingID: encoding,
		sizeBytes:  sizeBytes,
	}
}

// Kind returns the property kind.
func (p PropertyValue) Kind() PropertyKind { return p.kind }

// Text returns the string value for string and localized properties.
func (p PropertyValue) Text() string { return p.text }

// Locale returns the locale for localized properties.
func (p PropertyValue) Locale() string { return p.locale }

// Values returns the elements of a multi-value property.
func (p PropertyValue) Values() []PropertyValue {
	cp := make([]PropertyValue, len(p.values))
	copy(cp, p.values)
	return cp
}

// ContentID returns the repository content id for content references.
func (p PropertyValue) ContentID() int64 { return p.contentID }

// MimeType returns the mime type for content references.
func (p PropertyValue) MimeType() string { return p.mimeType }

// SizeBytes returns the content size for content references.
func (p PropertyValue) SizeBytes() int64 { return p.sizeBytes }

// Encoding returns the character encoding for content references.
func (p PropertyValue) Encoding() string { return p.encodingID }

// IsContent reports whether the property references repository content.
func (p PropertyValue) IsContent() bool { return p.kind == PropertyContentRef }

// Flatten returns the property rendered as one or more plain strings,
// suitable for indexing. Content references flatten to nothing: their
// text arrives through the content pass, not the metadata pass.
func (p PropertyValue) Flatten() []string {
	switch p.kind {
	case PropertyString, PropertyLocalized:
		return []string{p.text}
	case PropertyMulti:
		var out []string
		for _, v := range p.values {
			out = append(out, v.Flatten()...)
		}
		return out
	default:
		return nil
	}
}
