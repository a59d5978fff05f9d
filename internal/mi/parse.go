package mi

import "strings"

// splitTop splits s on sep at the top level only. Commas inside nested
// {} or [] groups, or inside quoted strings, never split. Quote state is
// tracked independently of bracket depth so an unbalanced-looking
// bracket inside a quoted string does not disturb the depth count.
func splitTop(s string, sep byte) []string {
	var out []string
	var buf strings.Builder
	depth := 0
	inStr := false
	esc := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inStr {
			buf.WriteByte(c)
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}

		switch c {
		case '"':
			inStr = true
			buf.WriteByte(c)
			continue
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}

		if c == sep && depth == 0 {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
			continue
		}
		buf.WriteByte(c)
	}

	if tail := strings.TrimSpace(buf.String()); tail != "" {
		out = append(out, tail)
	}
	return out
}

// unquoteString strips surrounding double quotes and decodes C-style
// backslash escapes. Input without surrounding quotes passes through
// unchanged.
func unquoteString(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	body := s[1 : len(s)-1]

	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case '0':
			b.WriteByte(0)
		case 'x':
			if i+2 < len(body) {
				hi, okHi := hexDigit(body[i+1])
				lo, okLo := hexDigit(body[i+2])
				if okHi && okLo {
					b.WriteByte(hi<<4 | lo)
					i += 2
					continue
				}
			}
			b.WriteByte('x')
		default:
			// \" \\ \' and anything unrecognized: keep the char.
			b.WriteByte(body[i])
		}
	}
	return b.String()
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// ParseValue parses one MI payload fragment into a Value. The grammar:
// quoted strings decode C-style escapes, {...} is an ordered mapping of
// key=value entries, [...] is a list whose elements are either bare
// values or key=value entries wrapped as single-entry mappings, and
// anything else is returned as a raw string. Empty input yields the
// empty string. The parser is side-effect free and never fails on input
// the classifier accepts.
func ParseValue(fragment string) Value {
	v := strings.TrimSpace(fragment)
	if v == "" {
		return StringValue("")
	}

	switch v[0] {
	case '"':
		return StringValue(unquoteString(v))
	case '{':
		inner := strings.TrimSpace(trimBrackets(v))
		var items []Item
		if inner != "" {
			for _, part := range splitTop(inner, ',') {
				key, rest, ok := strings.Cut(part, "=")
				if !ok {
					continue
				}
				items = append(items, Item{
					Key:   strings.TrimSpace(key),
					Value: ParseValue(rest),
				})
			}
		}
		return MappingValue(items...)
	case '[':
		inner := strings.TrimSpace(trimBrackets(v))
		if inner == "" {
			return ListValue()
		}
		var elems []Value
		for _, part := range splitTop(inner, ',') {
			part = strings.TrimSpace(part)
			if key, rest, ok := strings.Cut(part, "="); ok && !strings.HasPrefix(part, "{") && !strings.HasPrefix(part, "\"") {
				elems = append(elems, MappingValue(Item{
					Key:   strings.TrimSpace(key),
					Value: ParseValue(rest),
				}))
				continue
			}
			elems = append(elems, ParseValue(part))
		}
		return ListValue(elems...)
	default:
		// Barewords, numbers, hex addresses.
		return StringValue(v)
	}
}

// trimBrackets drops the single leading and trailing bracket character.
func trimBrackets(s string) string {
	if len(s) < 2 {
		return ""
	}
	return s[1 : len(s)-1]
}
