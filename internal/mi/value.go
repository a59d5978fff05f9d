// Package mi parses GDB's machine interface (MI) line protocol into a
// generic value tree and classified records.
package mi

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ValueKind identifies the shape of a Value.
type ValueKind int

const (
	// KindString is a plain string value (quoted or bareword).
	KindString ValueKind = iota
	// KindMapping is an ordered set of key=value pairs.
	KindMapping
	// KindList is an ordered sequence of values.
	KindList
)

// String returns a human-readable kind name.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindMapping:
		return "mapping"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Item is a single key=value entry in a mapping.
type Item struct {
	Key   string
	Value Value
}

// Value is an immutable MI payload value: a string, an ordered mapping,
// or a list. The zero Value is the empty string.
type Value struct {
	kind  ValueKind
	str   string
	items []Item
	elems []Value
}

// StringValue returns a string Value.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// MappingValue returns a mapping Value with the given entries.
func MappingValue(items ...Item) Value {
	return Value{kind: KindMapping, items: items}
}

// ListValue returns a list Value with the given elements.
func ListValue(elems ...Value) Value {
	return Value{kind: KindList, elems: elems}
}

// Kind returns the shape of the value.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string content. Non-string values return "".
func (v Value) Str() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// Items returns the mapping entries in insertion order. Non-mapping
// values return nil.
func (v Value) Items() []Item {
	if v.kind != KindMapping {
		return nil
	}
	return v.items
}

// Elems returns the list elements. Non-list values return nil.
func (v Value) Elems() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.elems
}

// Len returns the number of entries or elements; strings report 0.
func (v Value) Len() int {
	switch v.kind {
	case KindMapping:
		return len(v.items)
	case KindList:
		return len(v.elems)
	default:
		return 0
	}
}

// Get looks up a key in a mapping. It also unwraps the list-of-single-
// entry-mapping shape MI uses for result lists: on a list, Get returns
// the value of the first element that is a mapping carrying the key.
func (v Value) Get(key string) (Value, bool) {
	switch v.kind {
	case KindMapping:
		for _, it := range v.items {
			if it.Key == key {
				return it.Value, true
			}
		}
	case KindList:
		for _, el := range v.elems {
			if el.kind != KindMapping {
				continue
			}
			if got, ok := el.Get(key); ok {
				return got, true
			}
		}
	}
	return Value{}, false
}

// GetString returns the string value for key, or "" when the key is
// absent or not a string.
func (v Value) GetString(key string) string {
	got, ok := v.Get(key)
	if !ok {
		return ""
	}
	return got.Str()
}

// GetList returns the list value for key, or an empty list.
func (v Value) GetList(key string) Value {
	got, ok := v.Get(key)
	if !ok || got.kind != KindList {
		return Value{kind: KindList}
	}
	return got
}

// GetMapping returns the mapping value for key, or an empty mapping.
func (v Value) GetMapping(key string) Value {
	got, ok := v.Get(key)
	if !ok || got.kind != KindMapping {
		return Value{kind: KindMapping}
	}
	return got
}

// String renders the value in canonical MI form: strings quoted with
// C-style escapes, mappings as {k=v,...}, lists as [...].
func (v Value) String() string {
	var b strings.Builder
	v.render(&b)
	return b.String()
}

func (v Value) render(b *strings.Builder) {
	switch v.kind {
	case KindString:
		b.WriteByte('"')
		b.WriteString(escapeString(v.str))
		b.WriteByte('"')
	case KindMapping:
		b.WriteByte('{')
		for i, it := range v.items {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(it.Key)
			b.WriteByte('=')
			it.Value.render(b)
		}
		b.WriteByte('}')
	case KindList:
		b.WriteByte('[')
		for i, el := range v.elems {
			if i > 0 {
				b.WriteByte(',')
			}
			el.render(b)
		}
		b.WriteByte(']')
	}
}

// MarshalJSON encodes strings as JSON strings, mappings as objects in
// insertion order, and lists as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindMapping:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, it := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(it.Key)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			val, err := it.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, el := range v.elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			val, err := el.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(v.str)
	}
}

// escapeString applies the C-style escapes MI uses inside quoted strings.
func escapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
